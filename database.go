package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// OpenDB connects to the backend PostgreSQL store shared with the
// reconciliation backend. Connection details come from the environment.
func OpenDB() (*sql.DB, error) {
	host := os.Getenv("DB_HOST")
	if host == "" {
		host = "localhost"
	}

	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}

	user := os.Getenv("DB_USER")
	if user == "" {
		user = "postgres"
	}

	password := os.Getenv("DB_PASSWORD")
	if password == "" {
		return nil, fmt.Errorf("DB_PASSWORD environment variable is required")
	}

	dbname := os.Getenv("DB_NAME")
	if dbname == "" {
		dbname = "steamcommerce"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

// PostgresAssetTracking implements AssetTrackingStore over the shared store
type PostgresAssetTracking struct {
	db *sql.DB
}

// NewAssetTrackingStore creates a tracking store over an open connection
func NewAssetTrackingStore(db *sql.DB) *PostgresAssetTracking {
	return &PostgresAssetTracking{db: db}
}

// GetOrCreate returns the tracking id for an asset, creating the record if
// none exists yet. Relation fields are only written on creation.
func (s *PostgresAssetTracking) GetOrCreate(assetID string, relationType string, relationID int64) (int64, error) {
	var id int64

	err := s.db.QueryRow(`
		SELECT id FROM asset_tracking
		WHERE assetid = $1
		LIMIT 1
	`, assetID).Scan(&id)

	if err == nil {
		return id, nil
	}

	if err != sql.ErrNoRows {
		return 0, err
	}

	err = s.db.QueryRow(`
		INSERT INTO asset_tracking (assetid, relation_type, relation_id, completed, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
		RETURNING id
	`, assetID, relationType, relationID, time.Now()).Scan(&id)

	return id, err
}

// CreateHistory appends a lifecycle entry to a tracking record
func (s *PostgresAssetTracking) CreateHistory(trackingID int64, state HistoryState) error {
	_, err := s.db.Exec(`
		INSERT INTO asset_history (tracking_id, state, created_at)
		VALUES ($1, $2, $3)
	`, trackingID, int(state), time.Now())

	return err
}

// UpdateTracking writes the update's non-nil fields
func (s *PostgresAssetTracking) UpdateTracking(trackingID int64, update TrackingUpdate) error {
	sets := []string{}
	args := []interface{}{trackingID}

	addSet := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.SentToEmail != nil {
		addSet("sent_to_email", *update.SentToEmail)
	}
	if update.SentFromSteamID != nil {
		addSet("sent_from_steam_id", *update.SentFromSteamID)
	}
	if update.ReceivedFromSteamID != nil {
		addSet("received_from_steam_id", *update.ReceivedFromSteamID)
	}
	if update.Completed != nil {
		addSet("completed", *update.Completed)
	}

	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE asset_tracking SET %s WHERE id = $1", strings.Join(sets, ", "))

	_, err := s.db.Exec(query, args...)

	return err
}

// UncompletedTrackings returns every tracking record not yet completed
func (s *PostgresAssetTracking) UncompletedTrackings() ([]AssetTracking, error) {
	rows, err := s.db.Query(`
		SELECT
			id, assetid, COALESCE(relation_type, ''), COALESCE(relation_id, 0),
			COALESCE(sent_to_email, ''), COALESCE(sent_from_steam_id, ''),
			COALESCE(received_from_steam_id, ''), completed, created_at
		FROM asset_tracking
		WHERE completed = FALSE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trackings []AssetTracking
	for rows.Next() {
		var t AssetTracking
		err := rows.Scan(
			&t.ID, &t.AssetID, &t.RelationType, &t.RelationID,
			&t.SentToEmail, &t.SentFromSteamID, &t.ReceivedFromSteamID,
			&t.Completed, &t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		trackings = append(trackings, t)
	}

	return trackings, rows.Err()
}

// PostgresRequestStore implements RequestStore for one request family. The
// two families share one shape and differ only in table names and which
// date column starts the overdue clock.
type PostgresRequestStore struct {
	db            *sql.DB
	requestTable  string
	relationTable string
	dateColumn    string
	paidClause    string
}

// NewUserRequestStore opens the user-funded (tag A) request family
func NewUserRequestStore(db *sql.DB) *PostgresRequestStore {
	return &PostgresRequestStore{
		db:            db,
		requestTable:  "userrequest",
		relationTable: "userrequest_relation",
		dateColumn:    "paid_date",
		paidClause:    "req.paid_date IS NOT NULL",
	}
}

// NewPaidRequestStore opens the cash-funded (tag C) request family
func NewPaidRequestStore(db *sql.DB) *PostgresRequestStore {
	return &PostgresRequestStore{
		db:            db,
		requestTable:  "paidrequest",
		relationTable: "paidrequest_relation",
		dateColumn:    "date",
		paidClause:    "TRUE",
	}
}

func (s *PostgresRequestStore) scanRelation(row interface {
	Scan(dest ...interface{}) error
}) (*Relation, error) {
	var (
		relation Relation
		appID    sql.NullString
		storeSub sql.NullString
		subID    sql.NullString
		date     sql.NullTime
		assigned sql.NullInt64
	)

	err := row.Scan(
		&relation.ID,
		&relation.Product.ID, &appID, &storeSub, &subID,
		&relation.Request.ID, &date, &assigned,
		&relation.Request.User.ID, &relation.Request.User.Name, &relation.Request.User.Email,
	)
	if err != nil {
		return nil, err
	}

	relation.Product.AppID = appID.String
	relation.Product.StoreSubID = storeSub.String
	relation.Product.SubID = subID.String

	if date.Valid {
		if s.dateColumn == "paid_date" {
			relation.Request.PaidDate = &date.Time
		} else {
			relation.Request.Date = &date.Time
		}
	}

	if assigned.Valid {
		relation.Request.AssignedID = assigned.Int64
	}

	return &relation, nil
}

func (s *PostgresRequestStore) relationQuery(where string) string {
	return fmt.Sprintf(`
		SELECT
			rel.id,
			p.id, p.app_id, p.store_sub_id, p.sub_id,
			req.id, req.%s, req.assigned_id,
			u.id, u.name, u.email
		FROM %s rel
		JOIN %s req ON req.id = rel.request_id
		JOIN product p ON p.id = rel.product_id
		JOIN commerce_user u ON u.id = req.user_id
		WHERE %s
	`, s.dateColumn, s.relationTable, s.requestTable, where)
}

// PendingRelations returns unsent relations of paid, unaccepted requests
// that are unassigned or assigned to the given owner.
func (s *PostgresRequestStore) PendingRelations(ownerID int64) ([]Relation, error) {
	query := s.relationQuery(fmt.Sprintf(`
		rel.sent = FALSE
		AND req.accepted = FALSE
		AND %s
		AND (req.assigned_id IS NULL OR req.assigned_id = $1)
		ORDER BY rel.id
	`, s.paidClause))

	rows, err := s.db.Query(query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []Relation
	for rows.Next() {
		relation, err := s.scanRelation(rows)
		if err != nil {
			return nil, err
		}
		relations = append(relations, *relation)
	}

	return relations, rows.Err()
}

// RelationByID looks a relation up with its request, user and product
func (s *PostgresRequestStore) RelationByID(relationID int64) (*Relation, error) {
	query := s.relationQuery("rel.id = $1")

	relation, err := s.scanRelation(s.db.QueryRow(query, relationID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("relation %d not found in %s", relationID, s.relationTable)
	}

	return relation, err
}

// SetSent marks a relation delivered, recording the sent asset id
func (s *PostgresRequestStore) SetSent(relationID int64, assetID string) error {
	_, err := s.db.Exec(fmt.Sprintf(`
		UPDATE %s SET sent = TRUE, gid = $2 WHERE id = $1
	`, s.relationTable), relationID, assetID)

	return err
}

// Assign attaches a request to an owning account
func (s *PostgresRequestStore) Assign(requestID, ownerID int64) error {
	_, err := s.db.Exec(fmt.Sprintf(`
		UPDATE %s SET assigned_id = $2 WHERE id = $1
	`, s.requestTable), requestID, ownerID)

	return err
}

// PaidRequests summarizes every paid, unaccepted request with its unsent
// product count and assignee, for the auto-accept pass.
func (s *PostgresRequestStore) PaidRequests() ([]RequestSummary, error) {
	query := fmt.Sprintf(`
		SELECT
			req.id,
			COALESCE(req.assigned_id, 0),
			(SELECT COUNT(*) FROM %s rel WHERE rel.request_id = req.id AND rel.sent = FALSE)
		FROM %s req
		WHERE req.accepted = FALSE AND %s
	`, s.relationTable, s.requestTable, s.paidClause)

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []RequestSummary
	for rows.Next() {
		var summary RequestSummary
		if err := rows.Scan(&summary.ID, &summary.AssignedID, &summary.UnsentProducts); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

// Accept marks a request accepted by the given owner
func (s *PostgresRequestStore) Accept(requestID, ownerID int64) error {
	_, err := s.db.Exec(fmt.Sprintf(`
		UPDATE %s SET accepted = TRUE, accepted_by = $2 WHERE id = $1
	`, s.requestTable), requestID, ownerID)

	return err
}

// PostgresDeliveryStore implements DeliveryStore over the shared store
type PostgresDeliveryStore struct {
	db *sql.DB
}

// NewDeliveryStore creates a delivery store over an open connection
func NewDeliveryStore(db *sql.DB) *PostgresDeliveryStore {
	return &PostgresDeliveryStore{db: db}
}

// RandomMessage picks a random gift message template. Overdue relations may
// draw any template; timely ones only draw templates without an overdue slot.
func (s *PostgresDeliveryStore) RandomMessage(isOverdue bool) (*DeliveryMessage, error) {
	query := `
		SELECT giftee_name, gift_message, gift_signature, gift_sentiment, is_overdue
		FROM delivery_message
		WHERE is_overdue = FALSE
		ORDER BY random()
		LIMIT 1
	`
	if isOverdue {
		query = `
			SELECT giftee_name, gift_message, gift_signature, gift_sentiment, is_overdue
			FROM delivery_message
			ORDER BY random()
			LIMIT 1
		`
	}

	var message DeliveryMessage
	err := s.db.QueryRow(query).Scan(
		&message.GifteeName, &message.GiftMessage,
		&message.GiftSignature, &message.GiftSentiment, &message.IsOverdue,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no delivery message templates configured")
	}
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// GenerateOverdueCode issues and records a new overdue code for a relation
func (s *PostgresDeliveryStore) GenerateOverdueCode(relationType string, relationID int64) (string, error) {
	code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])

	_, err := s.db.Exec(`
		INSERT INTO overdue_code (code, relation_type, relation_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, code, relationType, relationID, time.Now())
	if err != nil {
		return "", err
	}

	return code, nil
}
