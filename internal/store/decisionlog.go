package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DecisionRecord is one row of the decision audit trail. Every gate
// outcome, acceptance or rejection, lands here so no trading decision is
// silent.
type DecisionRecord struct {
	SignalID   string
	Instrument string
	Stage      string
	Outcome    string
	Reason     string
	CreatedAt  time.Time
}

// DecisionLog is an append-only audit store kept separate from the position
// store so that audit volume never contends with supervision writes.
type DecisionLog struct {
	db *sql.DB
}

func OpenDecisionLog(path string) (*DecisionLog, error) {
	if path == "" {
		return nil, fmt.Errorf("decision log: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureDecisionSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DecisionLog{db: db}, nil
}

func ensureDecisionSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		stage TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT,
		created_at INTEGER NOT NULL
	)`)
	return err
}

func (l *DecisionLog) Append(ctx context.Context, rec DecisionRecord) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("decision log not initialized")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO decisions (signal_id, instrument, stage, outcome, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SignalID, rec.Instrument, rec.Stage, rec.Outcome, rec.Reason, rec.CreatedAt.UnixMilli())
	return err
}

// Recent returns the newest records, newest first.
func (l *DecisionLog) Recent(ctx context.Context, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT signal_id, instrument, stage, outcome, reason, created_at
		 FROM decisions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var createdAt int64
		if err := rows.Scan(&rec.SignalID, &rec.Instrument, &rec.Stage, &rec.Outcome, &rec.Reason, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *DecisionLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
