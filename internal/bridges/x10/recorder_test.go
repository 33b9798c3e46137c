package x10

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nerrad567/x10-bridge/internal/infrastructure/config"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/database"
	"github.com/nerrad567/x10-bridge/migrations"
)

// setupRecorderDB opens a temporary database with the shipped migrations applied.
func setupRecorderDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:    filepath.Join(t.TempDir(), "recorder.db"),
		WALMode: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db.DB
}

func TestActivityRecorder_StartStop(t *testing.T) {
	db := setupRecorderDB(t)
	rec := NewActivityRecorder(db, nil)

	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}

	rec.Stop()

	// Recording after Stop is a silent no-op.
	rec.RecordEvent(StateEvent{HouseCode: "A1", Command: CommandOn, Source: SourceBus})
	count, err := rec.UnitCount(context.Background())
	if err != nil {
		t.Fatalf("UnitCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("UnitCount() = %d after Stop, want 0", count)
	}
}

func TestActivityRecorder_RecordEvent(t *testing.T) {
	db := setupRecorderDB(t)
	rec := NewActivityRecorder(db, nil)
	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer rec.Stop()

	rec.RecordEvent(StateEvent{HouseCode: "A1", Command: CommandOn, Source: SourceBus})
	rec.RecordEvent(StateEvent{HouseCode: "A1", Command: CommandOff, Source: SourceCommand})
	rec.RecordEvent(StateEvent{HouseCode: "B2", Command: CommandOn, Source: SourceBus})

	ctx := context.Background()
	count, err := rec.UnitCount(ctx)
	if err != nil {
		t.Fatalf("UnitCount() error: %v", err)
	}
	if count != 2 {
		t.Errorf("UnitCount() = %d, want 2", count)
	}

	units, err := rec.Units(ctx)
	if err != nil {
		t.Fatalf("Units() error: %v", err)
	}
	byCode := make(map[string]UnitActivity)
	for _, u := range units {
		byCode[u.HouseCode] = u
	}

	a1 := byCode["A1"]
	if a1.EventCount != 2 {
		t.Errorf("A1 EventCount = %d, want 2", a1.EventCount)
	}
	if a1.LastSource != "command" || a1.LastState != "OFF" {
		t.Errorf("A1 last = %s/%s, want command/OFF", a1.LastSource, a1.LastState)
	}
	if a1.FirstSeen.IsZero() || a1.LastSeen.Before(a1.FirstSeen) {
		t.Errorf("A1 timestamps first=%v last=%v", a1.FirstSeen, a1.LastSeen)
	}
	if byCode["B2"].EventCount != 1 {
		t.Errorf("B2 EventCount = %d, want 1", byCode["B2"].EventCount)
	}
}

func TestActivityRecorder_NotStarted(t *testing.T) {
	db := setupRecorderDB(t)
	rec := NewActivityRecorder(db, nil)

	// No prepared statement yet: must not panic.
	rec.RecordEvent(StateEvent{HouseCode: "A1", Command: CommandOn, Source: SourceBus})

	units, err := rec.Units(context.Background())
	if err != nil {
		t.Fatalf("Units() error: %v", err)
	}
	if len(units) != 0 {
		t.Errorf("Units() = %d, want 0", len(units))
	}
}
