package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/callscribe/callscribe/internal/config"
	"github.com/callscribe/callscribe/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T, cfg config.StoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "callscribe.db")
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndListSessions(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{})
	ctx := context.Background()

	rec := SessionRecord{
		SessionID:    "session-123",
		StartedAt:    time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC),
		Duration:     15,
		SegmentCount: 2,
		Language:     "en",
		TXTPath:      "/tmp/transcript.txt",
	}
	segments := []protocol.Segment{
		{Text: "hello", Start: 0.5, End: 2, Language: "en", Timestamp: time.Now()},
		{Text: "again", Start: 5.5, End: 7, Language: "en", Timestamp: time.Now()},
	}
	if err := s.SaveSession(ctx, rec, segments); err != nil {
		t.Fatalf("save session: %v", err)
	}

	records, err := s.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 session, got %d", len(records))
	}
	if records[0].SessionID != "session-123" || records[0].SegmentCount != 2 {
		t.Fatalf("unexpected record: %+v", records[0])
	}
	if records[0].Language != "en" || records[0].Duration != 15 {
		t.Fatalf("unexpected record fields: %+v", records[0])
	}

	got, err := s.SessionSegments(ctx, "session-123")
	if err != nil {
		t.Fatalf("session segments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(got))
	}
	if got[0].Text != "hello" || got[1].Text != "again" {
		t.Fatalf("segments out of order: %+v", got)
	}
}

func TestSaveSessionUpsertsByID(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{})
	ctx := context.Background()

	rec := SessionRecord{SessionID: "dup", StartedAt: time.Now(), Duration: 5, SegmentCount: 1}
	if err := s.SaveSession(ctx, rec, nil); err != nil {
		t.Fatalf("first save: %v", err)
	}
	rec.Duration = 10
	rec.SegmentCount = 3
	if err := s.SaveSession(ctx, rec, nil); err != nil {
		t.Fatalf("second save: %v", err)
	}

	records, err := s.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 session after upsert, got %d", len(records))
	}
	if records[0].Duration != 10 || records[0].SegmentCount != 3 {
		t.Fatalf("expected updated fields, got %+v", records[0])
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.SaveSession(ctx, SessionRecord{SessionID: "old", StartedAt: s.clock()}, nil); err != nil {
		t.Fatalf("save old: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.SaveSession(ctx, SessionRecord{SessionID: "new", StartedAt: s.clock()}, nil); err != nil {
		t.Fatalf("save new: %v", err)
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := s.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(records) != 1 || records[0].SessionID != "new" {
		t.Fatalf("expected only the new session to survive, got %+v", records)
	}
}
