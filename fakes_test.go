package main

import (
	"fmt"
)

// fakeTrackingStore records tracking mutations in memory
type fakeTrackingStore struct {
	nextID      int64
	byAsset     map[string]int64
	records     map[int64]*AssetTracking
	history     []historyEntry
	uncompleted []AssetTracking
}

type historyEntry struct {
	trackingID int64
	state      HistoryState
}

func newFakeTrackingStore() *fakeTrackingStore {
	return &fakeTrackingStore{
		byAsset: make(map[string]int64),
		records: make(map[int64]*AssetTracking),
	}
}

func (f *fakeTrackingStore) GetOrCreate(assetID string, relationType string, relationID int64) (int64, error) {
	if id, ok := f.byAsset[assetID]; ok {
		return id, nil
	}

	f.nextID++
	f.byAsset[assetID] = f.nextID
	f.records[f.nextID] = &AssetTracking{
		ID:           f.nextID,
		AssetID:      assetID,
		RelationType: relationType,
		RelationID:   relationID,
	}

	return f.nextID, nil
}

func (f *fakeTrackingStore) CreateHistory(trackingID int64, state HistoryState) error {
	f.history = append(f.history, historyEntry{trackingID: trackingID, state: state})
	return nil
}

func (f *fakeTrackingStore) UpdateTracking(trackingID int64, update TrackingUpdate) error {
	record, ok := f.records[trackingID]
	if !ok {
		record = &AssetTracking{ID: trackingID}
		f.records[trackingID] = record
	}

	if update.SentToEmail != nil {
		record.SentToEmail = *update.SentToEmail
	}
	if update.SentFromSteamID != nil {
		record.SentFromSteamID = *update.SentFromSteamID
	}
	if update.ReceivedFromSteamID != nil {
		record.ReceivedFromSteamID = *update.ReceivedFromSteamID
	}
	if update.Completed != nil {
		record.Completed = *update.Completed
	}

	return nil
}

func (f *fakeTrackingStore) UncompletedTrackings() ([]AssetTracking, error) {
	return f.uncompleted, nil
}

func (f *fakeTrackingStore) statesFor(trackingID int64) []HistoryState {
	var states []HistoryState
	for _, entry := range f.history {
		if entry.trackingID == trackingID {
			states = append(states, entry.state)
		}
	}
	return states
}

// fakeRequestStore holds one request family in memory
type fakeRequestStore struct {
	pending   []Relation
	relations map[int64]*Relation
	sent      map[int64]string
	assigned  map[int64]int64
	summaries []RequestSummary
	accepted  map[int64]int64
}

func newFakeRequestStore(relations ...Relation) *fakeRequestStore {
	store := &fakeRequestStore{
		pending:   relations,
		relations: make(map[int64]*Relation),
		sent:      make(map[int64]string),
		assigned:  make(map[int64]int64),
		accepted:  make(map[int64]int64),
	}

	for i := range relations {
		relation := relations[i]
		store.relations[relation.ID] = &relation
	}

	return store
}

func (f *fakeRequestStore) PendingRelations(ownerID int64) ([]Relation, error) {
	return f.pending, nil
}

func (f *fakeRequestStore) RelationByID(relationID int64) (*Relation, error) {
	relation, ok := f.relations[relationID]
	if !ok {
		return nil, fmt.Errorf("relation %d not found", relationID)
	}
	return relation, nil
}

func (f *fakeRequestStore) SetSent(relationID int64, assetID string) error {
	f.sent[relationID] = assetID
	return nil
}

func (f *fakeRequestStore) Assign(requestID, ownerID int64) error {
	f.assigned[requestID] = ownerID
	return nil
}

func (f *fakeRequestStore) PaidRequests() ([]RequestSummary, error) {
	return f.summaries, nil
}

func (f *fakeRequestStore) Accept(requestID, ownerID int64) error {
	f.accepted[requestID] = ownerID
	return nil
}

// fakeDeliveryStore hands out a fixed template and a fixed overdue code
type fakeDeliveryStore struct {
	message        DeliveryMessage
	overdueMessage *DeliveryMessage
	code           string
	codesIssued    int
}

func (f *fakeDeliveryStore) RandomMessage(isOverdue bool) (*DeliveryMessage, error) {
	if isOverdue && f.overdueMessage != nil {
		message := *f.overdueMessage
		return &message, nil
	}

	message := f.message
	return &message, nil
}

func (f *fakeDeliveryStore) GenerateOverdueCode(relationType string, relationID int64) (string, error) {
	f.codesIssued++
	return f.code, nil
}

// fakeLockStore is an in-memory LockStore
type fakeLockStore struct {
	locks map[string]bool
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{locks: make(map[string]bool)}
}

func (f *fakeLockStore) Present(key string) (bool, error) {
	return f.locks[key], nil
}

func (f *fakeLockStore) Acquire(key string) error {
	f.locks[key] = true
	return nil
}

func (f *fakeLockStore) Release(key string) error {
	delete(f.locks, key)
	return nil
}

// sendCall records one SendGift invocation against the fake storefront
type sendCall struct {
	assetID      string
	email        string
	relationType string
	relationID   int64
}

// fakeStorefront substitutes the web account in reconciliation tests
type fakeStorefront struct {
	steamID     string
	inventories map[bool]map[string][]InventoryItem
	gifts       []PendingGift
	giftsErr    error
	initErr     error

	sendResults []EResult
	sendCalls   []sendCall

	acceptedGifts []string
	declinedGifts []string
	senders       []string
}

func (f *fakeStorefront) InitSession() error {
	return f.initErr
}

func (f *fakeStorefront) SteamID() (string, error) {
	return f.steamID, nil
}

func (f *fakeStorefront) InventoryItems(filterSent bool) (map[string][]InventoryItem, error) {
	items, ok := f.inventories[filterSent]
	if !ok {
		return map[string][]InventoryItem{}, nil
	}
	return items, nil
}

func (f *fakeStorefront) PendingGifts() ([]PendingGift, error) {
	if f.giftsErr != nil {
		return nil, f.giftsErr
	}
	return f.gifts, nil
}

func (f *fakeStorefront) AcceptGift(giftID, senderSteamID string) (EResult, error) {
	f.acceptedGifts = append(f.acceptedGifts, giftID)
	f.senders = append(f.senders, senderSteamID)
	return EResultOK, nil
}

func (f *fakeStorefront) DeclineGift(giftID, senderSteamID, declineNote string) (EResult, error) {
	f.declinedGifts = append(f.declinedGifts, giftID)
	f.senders = append(f.senders, senderSteamID)
	return EResultOK, nil
}

func (f *fakeStorefront) SendGift(assetID, email, relationType string, relationID int64) (EResult, error) {
	f.sendCalls = append(f.sendCalls, sendCall{
		assetID:      assetID,
		email:        email,
		relationType: relationType,
		relationID:   relationID,
	})

	if len(f.sendResults) == 0 {
		return EResultOK, nil
	}

	result := f.sendResults[0]
	f.sendResults = f.sendResults[1:]

	return result, nil
}
