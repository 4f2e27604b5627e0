package timeline

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/parleylabs/parley-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.TimelineConfig{RetentionMode: "ephemeral"}
	ts, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = ts.Close() })

	if err := ts.AppendEvent(context.Background(), Event{SessionID: "s", Type: EventGenReplied}); err != nil {
		t.Fatalf("ephemeral append should be a no-op: %v", err)
	}
	events, err := ts.ListSessionEvents(context.Background(), "s", 10)
	if err != nil || events != nil {
		t.Fatalf("ephemeral list should be empty, got %v events, err %v", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TimelineConfig{Path: filepath.Join(tmp, "timeline.db"), RetentionMode: "session"}
	ts, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open timeline: %v", err)
	}
	t.Cleanup(func() { _ = ts.Close() })

	sessionID := "session-123"
	if err := ts.AppendSession(context.Background(), sessionID, "user", "session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := ts.AppendEvent(context.Background(), Event{SessionID: sessionID, Type: EventMessageRecorded, Payload: []byte("hello")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := ts.ListSessionEvents(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventMessageRecorded {
		t.Fatalf("unexpected event type: %s", events[0].Type)
	}
	if string(events[0].Payload) != "hello" {
		t.Fatalf("unexpected payload: %s", events[0].Payload)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TimelineConfig{Path: filepath.Join(tmp, "timeline.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	ts, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open timeline: %v", err)
	}
	t.Cleanup(func() { _ = ts.Close() })

	ts.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := ts.AppendSession(context.Background(), "old-session", "user", "session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := ts.AppendEvent(context.Background(), Event{SessionID: "old-session", Type: EventSpeechStarted}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	ts.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := ts.AppendSession(context.Background(), "new-session", "user", "session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := ts.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := ts.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
