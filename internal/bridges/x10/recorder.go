package x10

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// UnitActivity is what the recorder knows about one housecode.
type UnitActivity struct {
	HouseCode  string    `json:"housecode"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	EventCount int64     `json:"event_count"`
	LastSource string    `json:"last_source"`
	LastState  string    `json:"last_state"`
}

// ActivityRecorder records which housecodes have been seen or commanded,
// building an inventory of active units over time. It never feeds state
// back into the bridge.
//
// The database must have the x10_units table created (see migrations).
//
// Thread Safety: All methods are safe for concurrent use.
type ActivityRecorder struct {
	db     *sql.DB
	logger Logger

	// Prepared upsert (created once in Start, reused)
	upsertStmt *sql.Stmt
	stmtMu     sync.Mutex

	closed bool
	mu     sync.RWMutex
}

// NewActivityRecorder creates a recorder over db.
func NewActivityRecorder(db *sql.DB, logger Logger) *ActivityRecorder {
	return &ActivityRecorder{db: db, logger: logger}
}

// Start prepares the recorder for use. Must be called before RecordEvent.
func (r *ActivityRecorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		return nil
	}

	stmt, err := r.db.Prepare(`
		INSERT INTO x10_units (housecode, first_seen, last_seen, event_count, last_source, last_state)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(housecode) DO UPDATE SET
			last_seen = excluded.last_seen,
			event_count = event_count + 1,
			last_source = excluded.last_source,
			last_state = excluded.last_state
	`)
	if err != nil {
		return fmt.Errorf("preparing unit upsert statement: %w", err)
	}

	r.upsertStmt = stmt
	r.logInfo("activity recorder started")
	return nil
}

// Stop closes the recorder and releases the prepared statement.
func (r *ActivityRecorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		r.upsertStmt.Close()
		r.upsertStmt = nil
	}
}

// RecordEvent upserts the event's housecode. Errors are logged, not returned,
// because recording must never hold up state publishing.
func (r *ActivityRecorder) RecordEvent(ev StateEvent) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return
	}

	r.stmtMu.Lock()
	stmt := r.upsertStmt
	r.stmtMu.Unlock()
	if stmt == nil {
		return
	}

	now := time.Now().Unix()
	if _, err := stmt.Exec(ev.HouseCode.String(), now, now, string(ev.Source), string(ev.Command)); err != nil {
		r.logError("recording unit activity", err)
	}
}

// Units returns all recorded housecodes, most recently seen first.
func (r *ActivityRecorder) Units(ctx context.Context) ([]UnitActivity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT housecode, first_seen, last_seen, event_count, last_source, last_state
		FROM x10_units
		ORDER BY last_seen DESC, housecode ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying units: %w", err)
	}
	defer rows.Close()

	var units []UnitActivity
	for rows.Next() {
		var (
			u                   UnitActivity
			firstSeen, lastSeen int64
		)
		if err := rows.Scan(&u.HouseCode, &firstSeen, &lastSeen, &u.EventCount, &u.LastSource, &u.LastState); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		u.FirstSeen = time.Unix(firstSeen, 0).UTC()
		u.LastSeen = time.Unix(lastSeen, 0).UTC()
		units = append(units, u)
	}

	return units, rows.Err()
}

// UnitCount returns the number of recorded housecodes.
func (r *ActivityRecorder) UnitCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM x10_units`).Scan(&count)
	return count, err
}

func (r *ActivityRecorder) logInfo(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *ActivityRecorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
