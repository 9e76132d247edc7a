package export_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voicelinehq/voiceline/internal/call"
	"github.com/voicelinehq/voiceline/internal/export"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOICELINE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOICELINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICELINE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [export.Store] with a clean schema.
func newTestStore(t *testing.T) *export.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS call_turns`,
		`DROP TABLE IF EXISTS calls`,
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}

	store, err := export.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func sampleRecord() call.Record {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return call.Record{
		SessionID: "sess-rt",
		StartedAt: now.Add(-2 * time.Minute),
		EndedAt:   now,
		Turns: []call.Turn{
			{Role: call.RoleAgent, Text: "Hello, how can I help?", StartedAt: now.Add(-2 * time.Minute), EndedAt: now.Add(-110 * time.Second)},
			{Role: call.RoleCaller, Text: "I need a dental cleaning", Provider: "whisper", Service: "Dental Cleaning", StartedAt: now.Add(-100 * time.Second), EndedAt: now.Add(-95 * time.Second)},
			{Role: call.RoleAgent, Text: "We can book you in tomorrow.", Provider: "openai", StartedAt: now.Add(-90 * time.Second), EndedAt: now.Add(-80 * time.Second)},
		},
	}
}

func TestStore_ExportAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := sampleRecord()

	if err := store.ExportSession(ctx, rec); err != nil {
		t.Fatalf("ExportSession: %v", err)
	}

	got, err := store.GetSession(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(got.Turns) != len(rec.Turns) {
		t.Fatalf("turns = %d, want %d", len(got.Turns), len(rec.Turns))
	}
	for i, turn := range got.Turns {
		if turn.Role != rec.Turns[i].Role || turn.Text != rec.Turns[i].Text ||
			turn.Provider != rec.Turns[i].Provider || turn.Service != rec.Turns[i].Service {
			t.Errorf("turn[%d] = %+v, want %+v", i, turn, rec.Turns[i])
		}
	}
}

func TestStore_ReExportReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := sampleRecord()

	if err := store.ExportSession(ctx, rec); err != nil {
		t.Fatalf("first export: %v", err)
	}
	rec.Turns = rec.Turns[:2]
	if err := store.ExportSession(ctx, rec); err != nil {
		t.Fatalf("second export: %v", err)
	}

	got, err := store.GetSession(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(got.Turns) != 2 {
		t.Errorf("turns after re-export = %d, want 2", len(got.Turns))
	}
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStore_GetUnknownSession(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetSession(context.Background(), "missing"); err == nil {
		t.Error("GetSession for unknown ID returned nil error")
	}
}
