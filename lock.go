package main

import (
	"database/sql"
)

// PostgresLockStore keeps per-account advisory locks in the shared bot_lock
// table. Acquisition is a plain insert and callers check presence first, so
// two runners can interleave Present and Acquire and both proceed — the lock
// is cooperative, not exclusive at the storefront level. An atomic
// conditional insert would close the window; the shared-cache flag this
// replaces never had one.
type PostgresLockStore struct {
	db *sql.DB
}

// NewLockStore creates a lock store over an open connection
func NewLockStore(db *sql.DB) *PostgresLockStore {
	return &PostgresLockStore{db: db}
}

// Present reports whether the lock flag exists
func (s *PostgresLockStore) Present(key string) (bool, error) {
	var one int

	err := s.db.QueryRow(`
		SELECT 1 FROM bot_lock WHERE lock_key = $1
	`, key).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Acquire sets the lock flag
func (s *PostgresLockStore) Acquire(key string) error {
	_, err := s.db.Exec(`
		INSERT INTO bot_lock (lock_key) VALUES ($1)
		ON CONFLICT (lock_key) DO NOTHING
	`, key)

	return err
}

// Release clears the lock flag
func (s *PostgresLockStore) Release(key string) error {
	_, err := s.db.Exec(`
		DELETE FROM bot_lock WHERE lock_key = $1
	`, key)

	return err
}
