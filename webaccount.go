package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/asamy/steam"
)

const (
	CommunityURL = "https://steamcommunity.com"
	StoreURL     = "https://store.steampowered.com"

	// Fixed identity for gift submissions
	sendGiftUserAgent = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:44.0) Gecko/20100101 Firefox/44.0"

	inventoryLanguage = "english"
	inventoryPageSize = 5000
)

// unpackResult is a memoized validateunpack outcome
type unpackResult struct {
	info ItemInfo
	err  error
}

// WebAccount owns one authenticated storefront session: login with a derived
// two-factor code, inventory classification, and the four gift actions. A
// session lives between InitSession and process exit; nothing is persisted.
type WebAccount struct {
	AccountName string

	password     string
	sharedSecret string
	use2FA       bool
	lockKey      string

	cfg    *Config
	log    *Logger
	stores Stores
	parser GiftPageParser

	client  *http.Client
	jar     *cookiejar.Jar
	session *steam.Session

	// Base URLs, overridable in tests
	communityURL string
	storeURL     string

	unpackCache map[string]unpackResult
}

// NewWebAccount builds an account around a fresh cookie jar and a timed HTTP
// client, optionally dialing through a per-account proxy.
func NewWebAccount(cfg *Config, creds *Credentials, use2FA bool, proxyIndex int, stores Stores, parser GiftPageParser, logger *Logger) (*WebAccount, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{}
	dialer, err := GetProxyForAccount(logger, creds.AccountName, proxyIndex)
	if err != nil {
		logger.Warning("Failed to set up proxy for %s: %v", creds.AccountName, err)
	} else if dialer != nil {
		transport.Dial = dialer.Dial
	}

	return &WebAccount{
		AccountName:  creds.AccountName,
		password:     creds.Password,
		sharedSecret: creds.SharedSecret,
		use2FA:       use2FA,
		lockKey:      "bot/lock/" + creds.AccountName,
		cfg:          cfg,
		log:          logger,
		stores:       stores,
		parser:       parser,
		client: &http.Client{
			Jar:       jar,
			Timeout:   cfg.InventoryTimeout,
			Transport: transport,
		},
		jar:          jar,
		communityURL: CommunityURL,
		storeURL:     StoreURL,
		unpackCache:  make(map[string]unpackResult),
	}, nil
}

// LockPresent reports whether another run holds this account
func (w *WebAccount) LockPresent() (bool, error) {
	return w.stores.Locks.Present(w.lockKey)
}

// AcquireLock sets the advisory per-account flag
func (w *WebAccount) AcquireLock() error {
	return w.stores.Locks.Acquire(w.lockKey)
}

// ReleaseLock clears the advisory per-account flag. Callers must release on
// every exit path, including failures.
func (w *WebAccount) ReleaseLock() error {
	return w.stores.Locks.Release(w.lockKey)
}

// InitSession logs into the storefront, deriving a one-time code from the
// shared secret when two-factor is enabled, and primes the session by
// visiting the store sites so their cookies land in the jar.
func (w *WebAccount) InitSession() error {
	use2FA := "NO"
	if w.use2FA {
		use2FA = "YES"
	}
	w.log.Info("Initializing session for account_name %s. USE 2FA: %s", w.AccountName, use2FA)

	var timeDiff time.Duration
	if tip, err := steam.GetTimeTip(); err != nil {
		w.log.Warning("Could not fetch server time tip, assuming no drift: %v", err)
	} else {
		timeDiff = time.Duration(tip.Time - time.Now().Unix())
	}

	sharedSecret := ""
	if w.use2FA {
		w.log.Info("Generating 2FA code for %s", w.AccountName)
		sharedSecret = w.sharedSecret
	}

	w.log.Info("Logging into account %s", w.AccountName)

	session := steam.NewSession(w.client, "")
	if err := session.Login(w.AccountName, w.password, sharedSecret, timeDiff); err != nil {
		return &AuthenticationError{AccountName: w.AccountName, Err: err}
	}

	w.session = session

	w.log.Info("Logged in, getting store sites for cookie setting")

	for _, site := range []string{strings.Replace(w.storeURL, "https://", "http://", 1), w.storeURL} {
		resp, err := w.client.Get(site)
		if err != nil {
			w.log.Warning("Could not visit %s: %v", site, err)
			continue
		}
		resp.Body.Close()
	}

	w.log.Info("Session for account name %s has been set", w.AccountName)

	return nil
}

// SteamID extracts the account's numeric identity from the session cookies
func (w *WebAccount) SteamID() (string, error) {
	value := w.cookieValue(w.communityURL, "steamLogin")
	if value == "" {
		return "", fmt.Errorf("no steamLogin cookie for %s", w.AccountName)
	}

	return strings.Split(value, "%7C")[0], nil
}

// cookieValue reads a cookie by name from the jar for the given site
func (w *WebAccount) cookieValue(site, name string) string {
	u, err := url.Parse(site)
	if err != nil {
		return ""
	}

	for _, cookie := range w.jar.Cookies(u) {
		if cookie.Name == name {
			return cookie.Value
		}
	}

	return ""
}

func (w *WebAccount) sessionID(site string) string {
	return w.cookieValue(site, "sessionid")
}

// classifyTransport converts a transport fault into a WebError
func classifyTransport(op string, err error) *WebError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &WebError{Kind: WebErrTimeout, Op: op, Err: err}
	}

	return &WebError{Kind: WebErrUnknown, Op: op, Err: err}
}

// SteamInventory fetches the raw inventory payload for the given identity
func (w *WebAccount) SteamInventory(steamID string, appID, contextID int, language string, count int) (*InventoryPayload, error) {
	endpoint := fmt.Sprintf(
		"%s/inventory/%s/%d/%d?l=%s&count=%d",
		w.communityURL, steamID, appID, contextID, language, count,
	)

	resp, err := w.client.Get(endpoint)
	if err != nil {
		w.log.Error(
			"Unable to retrieve inventory app_id %d context_id %d for steamid %s. Raised: %v",
			appID, contextID, steamID, err,
		)

		return nil, classifyTransport("inventory", err)
	}
	defer resp.Body.Close()

	var payload InventoryPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		w.log.Error("Could not serialize response")

		return nil, &WebError{Kind: WebErrNotSerializable, Op: "inventory", Err: err}
	}

	return &payload, nil
}

// descriptionIsSent checks the owner descriptions for the sent marker text
func descriptionIsSent(ownerDescriptions []OwnerDescription) bool {
	var joined strings.Builder
	for _, od := range ownerDescriptions {
		joined.WriteString(od.Value)
	}

	return strings.Contains(joined.String(), SentMarker)
}

// DescriptionIndexes maps classid_instanceid keys to descriptions. With
// filterSent true only unsent descriptions survive; with filterSent false
// only sent ones do. The two calls partition the input.
func (w *WebAccount) DescriptionIndexes(descriptions []InventoryDescription, filterSent bool) map[string]InventoryDescription {
	indexes := make(map[string]InventoryDescription)

	w.log.Info("Generating description indexes for %d descriptions", len(descriptions))

	for _, description := range descriptions {
		itemIsSent := descriptionIsSent(description.OwnerDescriptions)

		if filterSent && itemIsSent {
			continue
		}
		if !filterSent && !itemIsSent {
			continue
		}

		indexes[description.CompositeKey()] = description
	}

	return indexes
}

// ItemInfoFromUnpack resolves an asset's package id through the storefront's
// validateunpack call. Results are memoized for the account's lifetime; the
// call is idempotent on the storefront side.
func (w *WebAccount) ItemInfoFromUnpack(assetID string) (ItemInfo, error) {
	if cached, ok := w.unpackCache[assetID]; ok {
		return cached.info, cached.err
	}

	info, err := w.itemInfoFromUnpack(assetID)
	w.unpackCache[assetID] = unpackResult{info: info, err: err}

	return info, err
}

func (w *WebAccount) itemInfoFromUnpack(assetID string) (ItemInfo, error) {
	w.log.Info("Validate unpack for assetid %s", assetID)

	resp, err := w.client.PostForm(
		fmt.Sprintf("%s/gifts/%s/validateunpack", w.communityURL, assetID),
		url.Values{"sessionid": {w.sessionID(w.communityURL)}},
	)
	if err != nil {
		w.log.Error("Unable to call item unpack for assetid %s Raised: %v", assetID, err)

		return ItemInfo{}, classifyTransport("validateunpack", err)
	}
	defer resp.Body.Close()

	var data struct {
		Success   int   `json:"success"`
		PackageID int64 `json:"packageid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		w.log.Error("Could not serialize response")

		return ItemInfo{}, &WebError{Kind: WebErrNotSerializable, Op: "validateunpack", Err: err}
	}

	if data.Success != int(EResultOK) {
		return ItemInfo{}, &WebError{Kind: WebErrFailed, Op: "validateunpack"}
	}

	return ItemInfo{Type: "sub", ID: strconv.FormatInt(data.PackageID, 10)}, nil
}

// ItemInfo resolves an asset to a catalog identifier, preferring the
// embedded store link and falling back to an unpack call when the
// description carries no actions.
func (w *WebAccount) ItemInfo(actions []InventoryAction, assetID string) (ItemInfo, error) {
	if len(actions) == 0 {
		return w.ItemInfoFromUnpack(assetID)
	}

	for _, action := range actions {
		if action.Name != "View in store" {
			continue
		}

		info, ok := parseStoreLink(action.Link)
		if !ok {
			w.log.Error("Could not match item information from link %s", action.Link)

			return ItemInfo{}, fmt.Errorf("unparseable store link for asset %s", assetID)
		}

		return info, nil
	}

	return ItemInfo{}, fmt.Errorf("no store action for asset %s", assetID)
}

// InventoryItems classifies the gift inventory, grouping {name, assetid}
// records under their resolved catalog id. Assets whose composite key was
// filtered out of the description index are skipped; resolution failures are
// logged and skipped, never fatal.
func (w *WebAccount) InventoryItems(filterSent bool) (map[string][]InventoryItem, error) {
	steamID, err := w.SteamID()
	if err != nil {
		return nil, err
	}

	w.log.Info("Getting steam gift inventory for %s", w.AccountName)

	payload, err := w.SteamInventory(steamID, GiftAppID, GiftContextID, inventoryLanguage, inventoryPageSize)
	if err != nil {
		return nil, err
	}

	if payload.Success != int(EResultOK) {
		return nil, &WebError{Kind: WebErrFailed, Op: "inventory"}
	}

	w.log.Info("Steam inventory total inventory count is %d", payload.TotalInventoryCount)

	indexes := w.DescriptionIndexes(payload.Descriptions, filterSent)

	items := make(map[string][]InventoryItem)

	w.log.Info("Parsing steam inventory assets")

	for _, asset := range payload.Assets {
		description, ok := indexes[asset.CompositeKey()]
		if !ok {
			continue
		}

		info, err := w.ItemInfo(description.Actions, asset.AssetID)
		if err != nil {
			w.log.Error("Failed to retrieve item information for %s, received %v", asset.AssetID, err)

			continue
		}

		var subID string

		switch info.Type {
		case "app":
			// App ids are never trusted for matching; unpack the asset to
			// get the authoritative package id
			unpacked, err := w.ItemInfoFromUnpack(asset.AssetID)
			if err != nil {
				w.log.Error("Failed to unpack item information for %s", asset.AssetID)

				continue
			}

			subID = unpacked.ID
		case "sub":
			subID = info.ID
		default:
			w.log.Error("Unknown item type %q for asset %s", info.Type, asset.AssetID)

			continue
		}

		items[subID] = append(items[subID], InventoryItem{Name: description.Name, AssetID: asset.AssetID})
	}

	return items, nil
}

// DeclineGift returns an incoming gift to its sender with a note, recording
// a ReturnedToSender entry on the gift's tracking record.
func (w *WebAccount) DeclineGift(giftID, senderSteamID, declineNote string) (EResult, error) {
	if declineNote == "" {
		declineNote = DefaultDeclineNote
	}

	resp, err := w.client.PostForm(
		fmt.Sprintf("%s/gifts/%s/decline", w.communityURL, giftID),
		url.Values{
			"note":           {declineNote},
			"steamid_sender": {senderSteamID},
			"sessionid":      {w.sessionID(w.communityURL)},
		},
	)
	if err != nil {
		w.log.Error("Could not decline gift with gift id %s. Raised %v", giftID, err)

		return EResultFail, classifyTransport("decline", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.log.Error("Could not decline gift with gift id %s. Received %d", giftID, resp.StatusCode)

		return EResultFail, &WebError{Kind: WebErrFailed, Op: "decline"}
	}

	var data struct {
		Success int `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		w.log.Error("Could not serialize response")

		return EResultFail, &WebError{Kind: WebErrNotSerializable, Op: "decline", Err: err}
	}

	result := EResult(data.Success)

	if result == EResultOK {
		w.log.Info("Declined gift succesfuly")

		trackingID, err := w.stores.Tracking.GetOrCreate(giftID, "", 0)
		if err != nil {
			w.log.Error("Could not record tracking for gift %s: %v", giftID, err)
		} else if err := w.stores.Tracking.CreateHistory(trackingID, HistoryStateReturnedToSender); err != nil {
			w.log.Error("Could not record history for gift %s: %v", giftID, err)
		}
	}

	return result, nil
}

// AcceptGift accepts an incoming gift into the gift inventory, recording the
// newly granted asset id and the sender on its tracking record.
func (w *WebAccount) AcceptGift(giftID, senderSteamID string) (EResult, error) {
	resp, err := w.client.PostForm(
		fmt.Sprintf("%s/gifts/%s/accept", w.communityURL, giftID),
		url.Values{"sessionid": {w.sessionID(w.communityURL)}},
	)
	if err != nil {
		w.log.Error("Could not accept gift with gift_id %s. Raised %v", giftID, err)

		return EResultFail, classifyTransport("accept", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.log.Error("Could not accept gift with gift_id %s. Received %d", giftID, resp.StatusCode)

		return EResultFail, &WebError{Kind: WebErrFailed, Op: "accept"}
	}

	var data struct {
		Success    int    `json:"success"`
		GidGiftNew string `json:"gidgiftnew"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		w.log.Error("Could not serialize response")

		return EResultFail, &WebError{Kind: WebErrNotSerializable, Op: "accept", Err: err}
	}

	result := EResult(data.Success)

	if result == EResultOK {
		assetID := data.GidGiftNew

		w.log.Info("Accepted gift succesfuly. New assetid is %s", assetID)

		trackingID, err := w.stores.Tracking.GetOrCreate(assetID, "", 0)
		if err != nil {
			w.log.Error("Could not record tracking for asset %s: %v", assetID, err)
		} else {
			if err := w.stores.Tracking.CreateHistory(trackingID, HistoryStateReturnedToSender); err != nil {
				w.log.Error("Could not record history for asset %s: %v", assetID, err)
			}

			if err := w.stores.Tracking.UpdateTracking(trackingID, TrackingUpdate{
				ReceivedFromSteamID: &senderSteamID,
			}); err != nil {
				w.log.Error("Could not update tracking for asset %s: %v", assetID, err)
			}
		}
	}

	return result, nil
}

// PendingGifts scrapes the account's own inventory page for pending incoming
// gift blocks.
func (w *WebAccount) PendingGifts() ([]PendingGift, error) {
	resp, err := w.client.Get(w.communityURL + "/my/inventory")
	if err != nil {
		w.log.Error("Unable to get user inventory for account %s. Raised %v", w.AccountName, err)

		return nil, classifyTransport("pending-gifts", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.log.Error(
			"Unable to get user inventory for account %s. Request received %d",
			w.AccountName, resp.StatusCode,
		)

		return nil, &WebError{Kind: WebErrFailed, Op: "pending-gifts"}
	}

	gifts, err := w.parser.ParseGifts(resp.Body)
	if err != nil {
		w.log.Error("Could not parse inventory page for account %s: %v", w.AccountName, err)

		return nil, &WebError{Kind: WebErrFailed, Op: "pending-gifts", Err: err}
	}

	if len(gifts) == 0 {
		w.log.Info("Crawler was unable to find any pending gifts")

		return nil, &WebError{Kind: WebErrFailed, Op: "pending-gifts"}
	}

	return gifts, nil
}

// relationStore picks the request family for a relation type tag
func (w *WebAccount) relationStore(relationType string) RequestStore {
	if relationType == "A" {
		return w.stores.UserRequests
	}

	return w.stores.PaidRequests
}

// deliveryIsOverdue flags a relation whose delivery exceeded the courtesy
// window. A missing paid/request date counts as zero elapsed time. Gated on
// the global overdue-code toggle.
func (w *WebAccount) deliveryIsOverdue(relationType string, relationID int64) (bool, error) {
	relation, err := w.relationStore(relationType).RelationByID(relationID)
	if err != nil {
		return false, err
	}

	var since *time.Time
	if relationType == "A" {
		since = relation.Request.PaidDate
	} else {
		since = relation.Request.Date
	}

	now := time.Now()
	if since == nil {
		since = &now
	}

	isTimelyOverdue := now.Sub(*since).Hours() > w.cfg.OverdueHourCourtesy

	return w.cfg.GenerateOverdueCodes && isTimelyOverdue, nil
}

// deliveryMessage selects and formats the gift message for one relation,
// embedding an overdue code when the relation is overdue and the template
// supports one.
func (w *WebAccount) deliveryMessage(relationType string, relationID int64) (*DeliveryMessage, error) {
	isOverdue, err := w.deliveryIsOverdue(relationType, relationID)
	if err != nil {
		return nil, err
	}

	template, err := w.stores.Delivery.RandomMessage(isOverdue)
	if err != nil {
		return nil, err
	}

	relation, err := w.relationStore(relationType).RelationByID(relationID)
	if err != nil {
		return nil, err
	}

	user := relation.Request.User
	requestCustomID := fmt.Sprintf("%s-%d", relationType, relation.Request.ID)

	message := *template
	message.GifteeName = fmt.Sprintf(template.GifteeName, user.Name)

	if isOverdue && template.IsOverdue {
		overdueCode, err := w.stores.Delivery.GenerateOverdueCode(relationType, relationID)
		if err != nil {
			return nil, err
		}

		message.GiftMessage = fmt.Sprintf(template.GiftMessage, user.Name, overdueCode, requestCustomID)
	} else {
		message.GiftMessage = fmt.Sprintf(template.GiftMessage, user.Name, requestCustomID)
	}

	return &message, nil
}

// SendGift submits a gift to an email address. On storefront success it
// appends a Sent history entry and records recipient and sender on the
// asset's tracking record.
func (w *WebAccount) SendGift(assetID, email, relationType string, relationID int64) (EResult, error) {
	referer := fmt.Sprintf("%s/checkout/sendgift/%s", w.storeURL, assetID)

	message, err := w.deliveryMessage(relationType, relationID)
	if err != nil {
		w.log.Error("Could not build delivery message for relation %s-%d: %v", relationType, relationID, err)

		return EResultFail, err
	}

	form := url.Values{
		"SessionID":           {w.sessionID(w.storeURL)},
		"GiftGID":             {assetID},
		"GiftMessage":         {message.GiftMessage},
		"GiftSignature":       {message.GiftSignature},
		"GiftSentiment":       {message.GiftSentiment},
		"GifteeName":          {message.GifteeName},
		"GifteeAccountID":     {"0"},
		"ScheduledSendOnDate": {"0"},
		"GifteeEmail":         {email},
	}

	req, err := http.NewRequest(http.MethodPost, w.storeURL+"/checkout/sendgiftsubmit/", strings.NewReader(form.Encode()))
	if err != nil {
		return EResultFail, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", referer)
	req.Header.Set("User-Agent", sendGiftUserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Error("Gift submit for assetid %s raised %v", assetID, err)

		return EResultFail, classifyTransport("sendgift", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.log.Info("Gift submit for assetid %s received status code %d", assetID, resp.StatusCode)

		return EResultFail, nil
	}

	var data struct {
		Success int `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		w.log.Error("Could not serialize response")

		return EResultFail, nil
	}

	result := EResult(data.Success)

	if result == EResultOK {
		senderSteamID, err := w.SteamID()
		if err != nil {
			w.log.Error("Could not read sender steam id after send: %v", err)
		}

		trackingID, err := w.stores.Tracking.GetOrCreate(assetID, relationType, relationID)
		if err != nil {
			w.log.Error("Could not record tracking for asset %s: %v", assetID, err)
		} else {
			if err := w.stores.Tracking.CreateHistory(trackingID, HistoryStateSent); err != nil {
				w.log.Error("Could not record history for asset %s: %v", assetID, err)
			}

			if err := w.stores.Tracking.UpdateTracking(trackingID, TrackingUpdate{
				SentToEmail:     &email,
				SentFromSteamID: &senderSteamID,
			}); err != nil {
				w.log.Error("Could not update tracking for asset %s: %v", assetID, err)
			}
		}
	}

	return result, nil
}
