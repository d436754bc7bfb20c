package main

import (
	"errors"
	"fmt"
	"time"
)

// Steam gift inventory lives in app 753 under context 1
const (
	GiftAppID     = 753
	GiftContextID = 1

	// Marker text Steam writes into owner descriptions of sent gifts
	SentMarker = "Sent to"

	DefaultDeclineNote = "Auto-declined"
)

// EResult mirrors the storefront's numeric success codes
type EResult int

const (
	EResultOK   EResult = 1
	EResultFail EResult = 2
)

func (r EResult) String() string {
	switch r {
	case EResultOK:
		return "OK"
	case EResultFail:
		return "Fail"
	}
	return fmt.Sprintf("EResult(%d)", int(r))
}

// WebErrorKind classifies failures of calls against the storefront
type WebErrorKind int

const (
	WebErrTimeout WebErrorKind = iota + 1
	WebErrUnknown
	WebErrNotSerializable
	WebErrFailed
)

func (k WebErrorKind) String() string {
	switch k {
	case WebErrTimeout:
		return "Timeout"
	case WebErrUnknown:
		return "UnknownException"
	case WebErrNotSerializable:
		return "ResponseNotSerializable"
	case WebErrFailed:
		return "Failed"
	}
	return fmt.Sprintf("WebErrorKind(%d)", int(k))
}

// WebError is the normalized outcome of a failed storefront call. Transport
// and parse faults never leave the client layer as raw errors; they are
// wrapped here so callers can switch on Kind.
type WebError struct {
	Kind WebErrorKind
	Op   string
	Err  error
}

func (e *WebError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *WebError) Unwrap() error {
	return e.Err
}

// AsWebError extracts a *WebError from an error chain
func AsWebError(err error) (*WebError, bool) {
	var webErr *WebError
	if errors.As(err, &webErr) {
		return webErr, true
	}
	return nil, false
}

// AuthenticationError is fatal to a run; no reconciliation step executes
// after a failed login.
type AuthenticationError struct {
	AccountName string
	Err         error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.AccountName, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// InventoryAction is a storefront action attached to an item description
type InventoryAction struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

// OwnerDescription is a line of owner-only description text
type OwnerDescription struct {
	Value string `json:"value"`
}

// InventoryDescription describes one (classid, instanceid) item class
type InventoryDescription struct {
	ClassID           string             `json:"classid"`
	InstanceID        string             `json:"instanceid"`
	Name              string             `json:"name"`
	Actions           []InventoryAction  `json:"actions"`
	OwnerDescriptions []OwnerDescription `json:"owner_descriptions"`
}

// CompositeKey returns the classid_instanceid index key for the description
func (d *InventoryDescription) CompositeKey() string {
	return fmt.Sprintf("%s_%s", d.ClassID, d.InstanceID)
}

// InventoryAsset is a single owned asset in the inventory payload
type InventoryAsset struct {
	AssetID    string `json:"assetid"`
	ClassID    string `json:"classid"`
	InstanceID string `json:"instanceid"`
}

// CompositeKey returns the classid_instanceid index key for the asset
func (a *InventoryAsset) CompositeKey() string {
	return fmt.Sprintf("%s_%s", a.ClassID, a.InstanceID)
}

// InventoryPayload is the raw JSON body of the inventory endpoint
type InventoryPayload struct {
	Success             int                    `json:"success"`
	TotalInventoryCount int                    `json:"total_inventory_count"`
	Descriptions        []InventoryDescription `json:"descriptions"`
	Assets              []InventoryAsset       `json:"assets"`
}

// InventoryItem is a classified asset grouped under its catalog (sub) id
type InventoryItem struct {
	Name    string `json:"name"`
	AssetID string `json:"assetid"`
}

// ItemInfo is a resolved catalog identifier. Type is "sub" or "app"; only
// sub ids are ever trusted for matching.
type ItemInfo struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PendingGift is one scraped gift block from the pending-gifts page
type PendingGift struct {
	JavaScript   string
	FromLink     string
	FromUsername string
	AcceptButton string
}

// GiftObject is the structured gift metadata embedded in the page script
type GiftObject struct {
	ID   string
	Name string
}

// PendingDelivery is one matched (relation, asset) pair awaiting a send.
// Within a run no asset id ever appears in two deliveries.
type PendingDelivery struct {
	RelationType string
	RelationID   int64
	AssetID      string
	Name         string
	Email        string
	RequestID    int64
}

// HistoryState is a lifecycle entry type on an asset tracking record
type HistoryState int

const (
	HistoryStateSent                 HistoryState = 1
	HistoryStateReturnedToSender     HistoryState = 2
	HistoryStateMissingFromInventory HistoryState = 3
)

// AssetTracking is the external audit record of a gift asset's lifecycle
type AssetTracking struct {
	ID                  int64     `json:"id"`
	AssetID             string    `json:"assetid"`
	RelationType        string    `json:"relationType,omitempty"`
	RelationID          int64     `json:"relationId,omitempty"`
	SentToEmail         string    `json:"sentToEmail,omitempty"`
	SentFromSteamID     string    `json:"sentFromSteamId,omitempty"`
	ReceivedFromSteamID string    `json:"receivedFromSteamId,omitempty"`
	Completed           bool      `json:"completed"`
	CreatedAt           time.Time `json:"createdAt"`
}

// TrackingUpdate carries the mutable tracking fields; nil means unchanged
type TrackingUpdate struct {
	SentToEmail         *string
	SentFromSteamID     *string
	ReceivedFromSteamID *string
	Completed           *bool
}

// RequestUser is the recipient behind a fulfillment request
type RequestUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Product is the ordered catalog entry a relation points at
type Product struct {
	ID         int64  `json:"id"`
	AppID      string `json:"appId,omitempty"`
	StoreSubID string `json:"storeSubId,omitempty"`
	SubID      string `json:"subId,omitempty"`
}

// CatalogSubID resolves the purchasable package id used for matching.
// An explicit store sub id wins over the generic sub id; ok is false when
// the product carries neither.
func (p *Product) CatalogSubID() (string, bool) {
	if p.AppID != "" && p.StoreSubID != "" {
		return p.StoreSubID, true
	}
	if p.SubID != "" {
		return p.SubID, true
	}
	return "", false
}

// RequestInfo is the request a relation belongs to. PaidDate is set for
// user-funded requests, Date for cash-funded ones; AssignedID is zero while
// the request is unassigned.
type RequestInfo struct {
	ID         int64
	User       RequestUser
	PaidDate   *time.Time
	Date       *time.Time
	AssignedID int64
}

// Relation links a fulfillment request to one product to deliver
type Relation struct {
	ID      int64
	Product Product
	Request RequestInfo
}

// RequestSummary is the auto-accept view of a request: how many of its
// products are still unsent and who it is assigned to.
type RequestSummary struct {
	ID             int64
	AssignedID     int64
	UnsentProducts int
}

// DeliveryMessage is a gift message template selected for one send
type DeliveryMessage struct {
	GifteeName    string
	GiftMessage   string
	GiftSignature string
	GiftSentiment string
	IsOverdue     bool
}

// AssetTrackingStore is the external tracking collaborator. The bot creates
// and mutates records but does not own their storage.
type AssetTrackingStore interface {
	GetOrCreate(assetID string, relationType string, relationID int64) (int64, error)
	CreateHistory(trackingID int64, state HistoryState) error
	UpdateTracking(trackingID int64, update TrackingUpdate) error
	UncompletedTrackings() ([]AssetTracking, error)
}

// RequestStore is one request family (user-funded or cash-funded) of the
// reconciliation backend.
type RequestStore interface {
	PendingRelations(ownerID int64) ([]Relation, error)
	RelationByID(relationID int64) (*Relation, error)
	SetSent(relationID int64, assetID string) error
	Assign(requestID, ownerID int64) error
	PaidRequests() ([]RequestSummary, error)
	Accept(requestID, ownerID int64) error
}

// DeliveryStore hands out message templates and overdue codes
type DeliveryStore interface {
	RandomMessage(isOverdue bool) (*DeliveryMessage, error)
	GenerateOverdueCode(relationType string, relationID int64) (string, error)
}

// LockStore is the shared cache holding per-account advisory locks
type LockStore interface {
	Present(key string) (bool, error)
	Acquire(key string) error
	Release(key string) error
}

// Stores bundles the backend collaborators a bot operates against
type Stores struct {
	Locks        LockStore
	Tracking     AssetTrackingStore
	UserRequests RequestStore
	PaidRequests RequestStore
	Delivery     DeliveryStore
}
