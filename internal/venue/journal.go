package venue

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"spikes-trader/internal/model"
)

// Journal persists own fills to SQLite for audit and post-trade analysis.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) the SQLite fill journal.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id   TEXT NOT NULL,
		order_id   TEXT NOT NULL,
		strategy   TEXT NOT NULL,
		role       TEXT NOT NULL,
		code       TEXT NOT NULL,
		side       TEXT NOT NULL,
		qty        INTEGER NOT NULL,
		price      INTEGER NOT NULL,
		filled_at  DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fills_code ON fills(code);
	CREATE INDEX IF NOT EXISTS idx_fills_trade ON fills(trade_id);
	CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON fills(filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened fill journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordFill persists one fill.
func (j *Journal) RecordFill(fill model.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO fills (trade_id, order_id, strategy, role, code, side, qty, price, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.TradeID,
		fill.OrderID,
		fill.Ref.Strategy,
		string(fill.Ref.Role),
		fill.Code,
		string(fill.Side),
		fill.Qty,
		fill.Price,
		fill.At.Format(time.RFC3339Nano),
	)
	return err
}

// FillRecord is one row of the fills table.
type FillRecord struct {
	ID       int64  `json:"id"`
	TradeID  string `json:"trade_id"`
	OrderID  string `json:"order_id"`
	Strategy string `json:"strategy"`
	Role     string `json:"role"`
	Code     string `json:"code"`
	Side     string `json:"side"`
	Qty      int64  `json:"qty"`
	Price    int64  `json:"price"`
	FilledAt string `json:"filled_at"`
}

// RecentFills returns the last N fills, newest first.
func (j *Journal) RecentFills(limit int) ([]FillRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, trade_id, order_id, strategy, role, code, side, qty, price, filled_at
		 FROM fills ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		var r FillRecord
		if err := rows.Scan(&r.ID, &r.TradeID, &r.OrderID, &r.Strategy, &r.Role,
			&r.Code, &r.Side, &r.Qty, &r.Price, &r.FilledAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
