// Package store is the data access layer for the corpus mirror.
//
// All rows are decoded into typed records at this boundary; nothing above it
// touches database/sql directly. The store receives an already-opened *sql.DB
// (see dbopen) with WAL and foreign keys enabled.
package store

import "database/sql"

// Store wraps the mirror database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}
