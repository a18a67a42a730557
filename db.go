package main

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS locations (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id           TEXT PRIMARY KEY,
		location_id  TEXT NOT NULL,
		created_at   DATETIME NOT NULL,
		total_amount INTEGER NOT NULL DEFAULT 0,
		state        TEXT NOT NULL DEFAULT 'COMPLETED'
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_location ON transactions(location_id);

	CREATE TABLE IF NOT EXISTS line_items (
		id             TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		item_name      TEXT NOT NULL,
		quantity       INTEGER NOT NULL DEFAULT 1,
		total_price    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_line_items_transaction ON line_items(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_line_items_name ON line_items(item_name);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func GetLocations(db *sql.DB) ([]Location, error) {
	rows, err := db.Query(`SELECT id, name FROM locations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(&loc.ID, &loc.Name); err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

func UpsertLocation(db *sql.DB, loc Location) error {
	_, err := db.Exec(
		`INSERT INTO locations (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		loc.ID, loc.Name,
	)
	return err
}

// InsertTransactions writes transactions and their line items in one tx.
// Used by fixtures and seeding; the chat pipeline itself never writes.
func InsertTransactions(db *sql.DB, txns []Transaction) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	txnStmt, err := tx.Prepare(
		`INSERT INTO transactions (id, location_id, created_at, total_amount, state)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer txnStmt.Close()

	itemStmt, err := tx.Prepare(
		`INSERT INTO line_items (id, transaction_id, item_name, quantity, total_price)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer itemStmt.Close()

	inserted := 0
	for _, txn := range txns {
		state := txn.State
		if state == "" {
			state = "COMPLETED"
		}
		if _, err := txnStmt.Exec(txn.ID, txn.LocationID, txn.CreatedAt, txn.TotalAmount, state); err != nil {
			return inserted, err
		}
		for _, item := range txn.LineItems {
			if _, err := itemStmt.Exec(item.ID, txn.ID, item.ItemName, item.Quantity, item.TotalPrice); err != nil {
				return inserted, err
			}
		}
		inserted++
	}

	return inserted, tx.Commit()
}

func CountTransactions(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&count)
	return count, err
}
