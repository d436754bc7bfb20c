package main

import (
	"strings"
)

// storefront is the slice of WebAccount the reconciliation engine drives.
// Tests substitute a fake; production always passes a *WebAccount.
type storefront interface {
	InitSession() error
	SteamID() (string, error)
	InventoryItems(filterSent bool) (map[string][]InventoryItem, error)
	PendingGifts() ([]PendingGift, error)
	AcceptGift(giftID, senderSteamID string) (EResult, error)
	DeclineGift(giftID, senderSteamID, declineNote string) (EResult, error)
	SendGift(assetID, email, relationType string, relationID int64) (EResult, error)
}

// DeliveryBot reconciles pending fulfillment requests against the gift
// inventory of one web account: it tracks previously sent gifts, accepts or
// declines incoming ones, matches unsent inventory to pending relations and
// sends, and auto-accepts fully delivered requests.
type DeliveryBot struct {
	ownerID int64
	account storefront

	tracking     AssetTrackingStore
	userRequests RequestStore
	paidRequests RequestStore

	specialEmailDomain string
	log                *Logger
}

// NewDeliveryBot wires a reconciliation engine to an account and its stores
func NewDeliveryBot(ownerID int64, account storefront, stores Stores, cfg *Config, logger *Logger) *DeliveryBot {
	return &DeliveryBot{
		ownerID:            ownerID,
		account:            account,
		tracking:           stores.Tracking,
		userRequests:       stores.UserRequests,
		paidRequests:       stores.PaidRequests,
		specialEmailDomain: cfg.SpecialEmailDomain,
		log:                logger,
	}
}

// Run executes one full reconciliation pass. Only authentication failure is
// fatal; every other step logs its own faults and moves on.
func (b *DeliveryBot) Run(onlyUseSpecialEmails bool) error {
	if err := b.account.InitSession(); err != nil {
		return err
	}

	if err := b.TrackGifts(); err != nil {
		b.log.Error("Tracking pass failed: %v", err)
	}

	if err := b.AcceptGifts(); err != nil {
		b.log.Error("Accept pass failed: %v", err)
	}

	if err := b.SendGifts(onlyUseSpecialEmails); err != nil {
		b.log.Error("Send pass failed: %v", err)
	}

	return nil
}

// claimDeliveries matches one request family's pending relations against
// unsent inventory, committing at most one asset per relation. The committed
// set spans both families so no asset id is ever claimed twice in a run.
func (b *DeliveryBot) claimDeliveries(
	relationType string,
	relations []Relation,
	unsentItems map[string][]InventoryItem,
	committed map[string]bool,
	deliveries []PendingDelivery,
) []PendingDelivery {
	for _, relation := range relations {
		productSubID, ok := relation.Product.CatalogSubID()
		if !ok {
			b.log.Error("Product id %d does not contain a store_sub_id", relation.Product.ID)

			continue
		}

		for _, item := range unsentItems[productSubID] {
			if committed[item.AssetID] {
				continue
			}

			committed[item.AssetID] = true

			deliveries = append(deliveries, PendingDelivery{
				RelationType: relationType,
				RelationID:   relation.ID,
				AssetID:      item.AssetID,
				Name:         item.Name,
				Email:        relation.Request.User.Email,
				RequestID:    relation.Request.ID,
			})

			break
		}
	}

	return deliveries
}

// PendingDeliveries joins pending relations from both request families
// against the classified unsent inventory.
func (b *DeliveryBot) PendingDeliveries() ([]PendingDelivery, error) {
	paidRelations, err := b.paidRequests.PendingRelations(b.ownerID)
	if err != nil {
		return nil, err
	}

	userRelations, err := b.userRequests.PendingRelations(b.ownerID)
	if err != nil {
		return nil, err
	}

	b.log.Info("Pending paidrequest relations: %d", len(paidRelations))
	b.log.Info("Pending userrequest relations: %d", len(userRelations))

	unsentItems, err := b.account.InventoryItems(true)
	if err != nil {
		return nil, err
	}

	unsentCount := 0
	for _, items := range unsentItems {
		unsentCount += len(items)
	}

	b.log.Info("Found %d unsent gifts", unsentCount)

	committed := make(map[string]bool)
	var deliveries []PendingDelivery

	deliveries = b.claimDeliveries("C", paidRelations, unsentItems, committed, deliveries)
	deliveries = b.claimDeliveries("A", userRelations, unsentItems, committed, deliveries)

	return deliveries, nil
}

// SpecialEmail builds the fallback delivery address for a relation
func (b *DeliveryBot) SpecialEmail(relationType string, relationID, requestID int64) string {
	return specialEmail(b.specialEmailDomain, relationType, relationID, requestID)
}

// requestStore picks the family store for a relation type tag
func (b *DeliveryBot) requestStore(relationType string) RequestStore {
	if relationType == "A" {
		return b.userRequests
	}

	return b.paidRequests
}

// SendGifts drives the two-attempt send protocol over every pending
// delivery: the recipient's email first (unless special emails are forced),
// then exactly one retry against the special address. A second failure skips
// the delivery; success marks the relation sent and assigns the owning
// request to this bot's owner when it was unassigned.
func (b *DeliveryBot) SendGifts(onlyUseSpecialEmails bool) error {
	pendingGifts, err := b.PendingDeliveries()
	if err != nil {
		return err
	}

	for _, gift := range pendingGifts {
		email := gift.Email
		if onlyUseSpecialEmails {
			email = b.SpecialEmail(gift.RelationType, gift.RelationID, gift.RequestID)
		}

		b.log.Info(
			"Sending gift %s assetid %s to %s for request %s-%d relation %d",
			gift.Name, gift.AssetID, email, gift.RelationType, gift.RequestID, gift.RelationID,
		)

		result, err := b.account.SendGift(gift.AssetID, email, gift.RelationType, gift.RelationID)
		if err != nil {
			b.log.Info("Sending failed, received %v", err)
		}

		if result != EResultOK && !onlyUseSpecialEmails {
			b.log.Info("Sending failed, received %v", result)

			email = b.SpecialEmail(gift.RelationType, gift.RelationID, gift.RequestID)

			b.log.Info(
				"Sending gift %s assetid %s to %s for request %s-%d relation %d",
				gift.Name, gift.AssetID, email, gift.RelationType, gift.RequestID, gift.RelationID,
			)

			result, err = b.account.SendGift(gift.AssetID, email, gift.RelationType, gift.RelationID)
			if err != nil {
				b.log.Info("Sending failed, received %v", err)
			}
		}

		if result != EResultOK {
			b.log.Info("Sending failed, received %v", result)

			continue
		}

		b.log.Info("Sent gift %s with assetid %s succesfuly", gift.Name, gift.AssetID)

		store := b.requestStore(gift.RelationType)

		relation, err := store.RelationByID(gift.RelationID)
		if err != nil {
			b.log.Error("Could not load relation %d after send: %v", gift.RelationID, err)

			continue
		}

		if err := store.SetSent(gift.RelationID, gift.AssetID); err != nil {
			b.log.Error("Could not mark relation %d sent: %v", gift.RelationID, err)

			continue
		}

		if relation.Request.AssignedID == 0 {
			b.log.Info(
				"Assigning user id %d to request %s-%d",
				b.ownerID, gift.RelationType, gift.RequestID,
			)

			if err := store.Assign(gift.RequestID, b.ownerID); err != nil {
				b.log.Error("Could not assign request %d: %v", gift.RequestID, err)
			}
		}
	}

	b.acceptCompletedRequests("C", b.paidRequests)
	b.acceptCompletedRequests("A", b.userRequests)

	return nil
}

// acceptCompletedRequests accepts every paid request whose products are all
// sent and whose assignment matches this bot's owner.
func (b *DeliveryBot) acceptCompletedRequests(relationType string, store RequestStore) {
	requests, err := store.PaidRequests()
	if err != nil {
		b.log.Error("Could not load paid requests for family %s: %v", relationType, err)

		return
	}

	for _, request := range requests {
		if request.UnsentProducts == 0 && request.AssignedID == b.ownerID {
			b.log.Info("Accepting request %s-%d", relationType, request.ID)

			if err := store.Accept(request.ID, b.ownerID); err != nil {
				b.log.Error("Could not accept request %s-%d: %v", relationType, request.ID, err)
			}
		}
	}
}

// AcceptGifts scrapes pending incoming gifts and accepts those that can go
// into the gift inventory, declining the rest back to their senders.
// Malformed gift blocks are logged and skipped.
func (b *DeliveryBot) AcceptGifts() error {
	gifts, err := b.account.PendingGifts()
	if err != nil {
		b.log.Error("Could not accept pending gifts. Received %v", err)

		return err
	}

	b.log.Info("Found %d pending gifts", len(gifts))

	for _, gift := range gifts {
		if gift.JavaScript == "" {
			b.log.Error("Unable to find gift javascript object")

			continue
		}

		giftObject, err := parseGiftHover(gift.JavaScript)
		if err != nil {
			b.log.Error("Regex failed to retrieve gift javascript object")

			continue
		}

		b.log.Info(
			"Found pending gift %s from %s (%s)",
			giftObject.Name, gift.FromUsername, gift.FromLink,
		)

		senderSteamID, ok := parseSenderSteamID(gift.FromLink)
		if !ok {
			b.log.Error("Regex failed to retrieve steam sender id")

			continue
		}

		if gift.AcceptButton == "" || strings.Contains(gift.AcceptButton, "UnpackGift") {
			b.log.Info("Gift cannot be accepted to inventory")
			b.log.Info("Declining gift id %s to sender id %s", giftObject.ID, senderSteamID)

			result, err := b.account.DeclineGift(giftObject.ID, senderSteamID, "")
			if err != nil || result != EResultOK {
				b.log.Error("Could not decline gift id %s. Received %v", giftObject.ID, result)
			}
		} else if strings.Contains(gift.AcceptButton, "ShowAcceptGiftOptions") {
			b.log.Info("Accepting gift id %s to gift inventory", giftObject.ID)

			result, err := b.account.AcceptGift(giftObject.ID, senderSteamID)
			if err != nil || result != EResultOK {
				b.log.Error("Could not accept gift id %s. Received %v", giftObject.ID, result)
			}
		}
	}

	return nil
}

// TrackGifts reconciles uncompleted tracking records against the live sent
// inventory: a tracked asset this account sent that is no longer present
// gains a MissingFromInventory entry and is marked completed.
func (b *DeliveryBot) TrackGifts() error {
	sentItems, err := b.account.InventoryItems(false)
	if err != nil {
		return err
	}

	sentCount := 0
	for _, items := range sentItems {
		sentCount += len(items)
	}

	b.log.Info("Found %d sent gifts", sentCount)

	assetIDs := make(map[string]bool)
	for _, assets := range sentItems {
		for _, asset := range assets {
			assetIDs[asset.AssetID] = true
		}
	}

	uncompletedTrackings, err := b.tracking.UncompletedTrackings()
	if err != nil {
		return err
	}

	currentSteamID, err := b.account.SteamID()
	if err != nil {
		return err
	}

	for _, tracking := range uncompletedTrackings {
		if tracking.SentFromSteamID != currentSteamID || assetIDs[tracking.AssetID] {
			continue
		}

		b.log.Info("Assetid %s is no longer on sender's inventory", tracking.AssetID)

		if err := b.tracking.CreateHistory(tracking.ID, HistoryStateMissingFromInventory); err != nil {
			b.log.Error("Could not record history for tracking %d: %v", tracking.ID, err)

			continue
		}

		completed := true
		if err := b.tracking.UpdateTracking(tracking.ID, TrackingUpdate{Completed: &completed}); err != nil {
			b.log.Error("Could not complete tracking %d: %v", tracking.ID, err)
		}
	}

	return nil
}
