package main

import (
	"database/sql"
)

// schemaDDL creates whatever the bot needs that does not exist yet. The
// request/product tables belong to the backend; they are created here only
// so a fresh development database works end to end, and every statement is
// guarded so an existing backend schema is left untouched.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS asset_tracking (
	id                     BIGSERIAL PRIMARY KEY,
	assetid                TEXT NOT NULL,
	relation_type          TEXT,
	relation_id            BIGINT,
	sent_to_email          TEXT,
	sent_from_steam_id     TEXT,
	received_from_steam_id TEXT,
	completed              BOOLEAN NOT NULL DEFAULT FALSE,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS asset_tracking_assetid_idx ON asset_tracking (assetid);

CREATE TABLE IF NOT EXISTS asset_history (
	id          BIGSERIAL PRIMARY KEY,
	tracking_id BIGINT NOT NULL REFERENCES asset_tracking (id),
	state       INT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bot_lock (
	lock_key  TEXT PRIMARY KEY,
	locked_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS commerce_user (
	id    BIGSERIAL PRIMARY KEY,
	name  TEXT NOT NULL,
	email TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS product (
	id           BIGSERIAL PRIMARY KEY,
	app_id       TEXT,
	store_sub_id TEXT,
	sub_id       TEXT
);

CREATE TABLE IF NOT EXISTS userrequest (
	id          BIGSERIAL PRIMARY KEY,
	user_id     BIGINT NOT NULL REFERENCES commerce_user (id),
	paid_date   TIMESTAMPTZ,
	assigned_id BIGINT,
	accepted    BOOLEAN NOT NULL DEFAULT FALSE,
	accepted_by BIGINT
);

CREATE TABLE IF NOT EXISTS userrequest_relation (
	id         BIGSERIAL PRIMARY KEY,
	request_id BIGINT NOT NULL REFERENCES userrequest (id),
	product_id BIGINT NOT NULL REFERENCES product (id),
	sent       BOOLEAN NOT NULL DEFAULT FALSE,
	gid        TEXT
);

CREATE TABLE IF NOT EXISTS paidrequest (
	id          BIGSERIAL PRIMARY KEY,
	user_id     BIGINT NOT NULL REFERENCES commerce_user (id),
	date        TIMESTAMPTZ NOT NULL DEFAULT now(),
	assigned_id BIGINT,
	accepted    BOOLEAN NOT NULL DEFAULT FALSE,
	accepted_by BIGINT
);

CREATE TABLE IF NOT EXISTS paidrequest_relation (
	id         BIGSERIAL PRIMARY KEY,
	request_id BIGINT NOT NULL REFERENCES paidrequest (id),
	product_id BIGINT NOT NULL REFERENCES product (id),
	sent       BOOLEAN NOT NULL DEFAULT FALSE,
	gid        TEXT
);

CREATE TABLE IF NOT EXISTS delivery_message (
	id             BIGSERIAL PRIMARY KEY,
	giftee_name    TEXT NOT NULL,
	gift_message   TEXT NOT NULL,
	gift_signature TEXT NOT NULL,
	gift_sentiment TEXT NOT NULL,
	is_overdue     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS overdue_code (
	id            BIGSERIAL PRIMARY KEY,
	code          TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	relation_id   BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// defaultMessageSeed gives a fresh database one usable template so sends do
// not fail before an operator configures real ones.
const defaultMessageSeed = `
INSERT INTO delivery_message (giftee_name, gift_message, gift_signature, gift_sentiment, is_overdue)
SELECT '%s', 'Hi %s! Here is your gift. Tracking code: %s', 'The delivery team', 'Best Wishes', FALSE
WHERE NOT EXISTS (SELECT 1 FROM delivery_message)
`

// EnsureSchema bootstraps the tables the bot reads and writes
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaDDL); err != nil {
		return err
	}

	_, err := db.Exec(defaultMessageSeed)

	return err
}
