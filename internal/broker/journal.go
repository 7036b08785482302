package broker

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// SQLiteJournal persists every fill to SQLite for post-run audit, adapted
// from the teacher's execution.Journal (same WAL-mode trades table idea,
// generalized from paise/exchange:token fields to the rupee/VPI-bearing
// order shape this engine fills).
type SQLiteJournal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) a journal database at dbPath.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		side        TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		price       REAL NOT NULL,
		filled_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol);
	CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON fills(filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

// RecordFill persists one filled order.
func (j *SQLiteJournal) RecordFill(o model.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		`INSERT INTO fills (order_id, symbol, exchange, side, qty, price, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.Symbol, o.Exchange, string(o.Side), o.FilledQuantity, o.AveragePrice,
		o.CompletedAt.Format(time.RFC3339),
	)
	return err
}

// FillRecord is a row from the fills table.
type FillRecord struct {
	ID       int64
	OrderID  string
	Symbol   string
	Exchange string
	Side     string
	Qty      int64
	Price    float64
	FilledAt string
}

// Fills returns the last N fills, newest first.
func (j *SQLiteJournal) Fills(limit int) ([]FillRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, symbol, exchange, side, qty, price, filled_at
		 FROM fills ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		var r FillRecord
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Symbol, &r.Exchange, &r.Side, &r.Qty, &r.Price, &r.FilledAt); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Close closes the underlying database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
