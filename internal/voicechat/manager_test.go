package voicechat

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/parleylabs/parley-core/internal/audioclip"
	"github.com/parleylabs/parley-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newManager(t *testing.T, echoDelayMS int) *Manager {
	t.Helper()
	cfg := config.VoiceChatConfig{
		Enabled:     true,
		ClipDir:     t.TempDir(),
		SampleRate:  16000,
		Channels:    1,
		EchoDelayMS: echoDelayMS,
		EchoSender:  "assistant",
	}
	clips, err := audioclip.NewStore(cfg.ClipDir, cfg.SampleRate, cfg.Channels)
	if err != nil {
		t.Fatalf("new clip store: %v", err)
	}
	m := NewManager(cfg, clips, newLogger())
	t.Cleanup(m.Close)
	return m
}

func waitForMessages(t *testing.T, m *Manager, sessionID string, n int) []VoiceMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := m.Messages(sessionID)
		if len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, have %d", n, len(m.Messages(sessionID)))
	return nil
}

func TestStopAppendsUserAndEchoPair(t *testing.T) {
	m := newManager(t, 20)

	if err := m.StartRecording("s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.AppendFrame("s1", make([]byte, 3200))
	userMsg, err := m.StopRecording("s1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if userMsg.Sender != SenderUser {
		t.Fatalf("expected user sender, got %q", userMsg.Sender)
	}

	msgs := waitForMessages(t, m, "s1", 2)
	if len(msgs) != 2 {
		t.Fatalf("expected exactly 2 messages, got %d", len(msgs))
	}
	if msgs[0].Sender != SenderUser || msgs[1].Sender != "assistant" {
		t.Fatalf("unexpected senders: %q, %q", msgs[0].Sender, msgs[1].Sender)
	}
	if msgs[0].ClipPath != msgs[1].ClipPath {
		t.Fatal("echo must reuse the same clip")
	}
	if msgs[0].Duration != msgs[1].Duration {
		t.Fatalf("echo duration mismatch: %v vs %v", msgs[0].Duration, msgs[1].Duration)
	}

	// no extra entries appear later
	time.Sleep(60 * time.Millisecond)
	if got := len(m.Messages("s1")); got != 2 {
		t.Fatalf("expected message count to stay at 2, got %d", got)
	}
}

func TestStopWithoutRecording(t *testing.T) {
	m := newManager(t, 10)
	if _, err := m.StopRecording("s1"); err != ErrNotRecording {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}

func TestStopWithoutAudio(t *testing.T) {
	m := newManager(t, 10)
	if err := m.StartRecording("s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.StopRecording("s1"); err != ErrNoAudio {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
}

func TestDoubleStart(t *testing.T) {
	m := newManager(t, 10)
	if err := m.StartRecording("s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.StartRecording("s1"); err != ErrAlreadyRecording {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
}

func TestTogglePlaybackAlternates(t *testing.T) {
	m := newManager(t, 5)
	if err := m.StartRecording("s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.AppendFrame("s1", make([]byte, 640))
	if _, err := m.StopRecording("s1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	msgs := waitForMessages(t, m, "s1", 2)

	state, err := m.TogglePlayback("s1", msgs[0].ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !state.Playing || state.MessageID != msgs[0].ID {
		t.Fatalf("expected playing first message, got %+v", state)
	}

	state, err = m.TogglePlayback("s1", msgs[0].ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if state.Playing {
		t.Fatalf("expected paused after second toggle, got %+v", state)
	}

	// starting another message takes over playback
	state, err = m.TogglePlayback("s1", msgs[1].ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !state.Playing || state.MessageID != msgs[1].ID {
		t.Fatalf("expected second message playing, got %+v", state)
	}

	if _, err := m.TogglePlayback("s1", "missing"); err != ErrUnknownMessage {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
	if _, err := m.TogglePlayback("nope", msgs[0].ID); err != ErrUnknownSession {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestCloseSessionCancelsEcho(t *testing.T) {
	m := newManager(t, 150)
	if err := m.StartRecording("s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.AppendFrame("s1", make([]byte, 640))
	if _, err := m.StopRecording("s1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	m.CloseSession("s1")

	time.Sleep(250 * time.Millisecond)
	if msgs := m.Messages("s1"); msgs != nil {
		t.Fatalf("expected session dropped, got %d messages", len(msgs))
	}
}

func TestOnMessageCallback(t *testing.T) {
	m := newManager(t, 10)

	var mu sync.Mutex
	var seen []string
	m.OnMessage(func(sessionID string, msg VoiceMessage) {
		mu.Lock()
		seen = append(seen, msg.Sender)
		mu.Unlock()
	})

	if err := m.StartRecording("s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.AppendFrame("s1", make([]byte, 640))
	if _, err := m.StopRecording("s1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitForMessages(t, m, "s1", 2)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != SenderUser || seen[1] != "assistant" {
		t.Fatalf("unexpected callback order: %v", seen)
	}
}

func TestFiredEchoTimersDropped(t *testing.T) {
	m := newManager(t, 5)

	for i := 0; i < 3; i++ {
		m.AppendFrame("s1", make([]byte, 320))
		if _, err := m.StopRecording("s1"); err != nil {
			t.Fatalf("stop recording %d: %v", i, err)
		}
	}
	waitForMessages(t, m, "s1", 6)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		pending := len(m.sessions["s1"].echoes)
		m.mu.Unlock()
		if pending == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("fired echo timers were never dropped")
}
