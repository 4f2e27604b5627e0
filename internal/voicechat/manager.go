package voicechat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/parleylabs/parley-core/internal/audioclip"
	"github.com/parleylabs/parley-core/internal/config"
)

// Manager owns per-session recording state, the ordered in-memory
// message list, and the paired-echo timers. It knows nothing about the
// bus; the service layers transport on top.
type Manager struct {
	cfg   config.VoiceChatConfig
	clips *audioclip.Store
	log   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	onMessage func(sessionID string, msg VoiceMessage)
}

type session struct {
	recording bool
	buffer    []byte
	messages  []VoiceMessage
	playback  PlaybackState
	echoes    []*time.Timer
	closed    bool
}

func NewManager(cfg config.VoiceChatConfig, clips *audioclip.Store, log *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		clips:    clips,
		log:      log.With(slog.String("component", "voicechat")),
		sessions: make(map[string]*session),
	}
}

// OnMessage registers a callback invoked for every appended message,
// user and echo alike. Must be set before any recording starts.
func (m *Manager) OnMessage(fn func(sessionID string, msg VoiceMessage)) {
	m.onMessage = fn
}

func (m *Manager) StartRecording(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.session(sessionID)
	if st.recording {
		return ErrAlreadyRecording
	}
	st.recording = true
	st.buffer = nil
	return nil
}

// AppendFrame buffers captured PCM. A frame for an idle session starts
// a recording implicitly so capture clients need no separate control call.
func (m *Manager) AppendFrame(sessionID string, pcm []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.session(sessionID)
	st.recording = true
	st.buffer = append(st.buffer, pcm...)
}

// StopRecording finalizes the buffered audio into exactly one user
// message and schedules exactly one paired echo after the configured
// delay, reusing the same clip.
func (m *Manager) StopRecording(sessionID string) (VoiceMessage, error) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if !ok || !st.recording {
		m.mu.Unlock()
		return VoiceMessage{}, ErrNotRecording
	}
	pcm := st.buffer
	st.recording = false
	st.buffer = nil
	m.mu.Unlock()

	if len(pcm) == 0 {
		return VoiceMessage{}, ErrNoAudio
	}

	clip, err := m.clips.Save(pcm)
	if err != nil {
		return VoiceMessage{}, err
	}

	msg := VoiceMessage{
		ID:        clip.ID,
		Sender:    SenderUser,
		ClipPath:  clip.Path,
		Duration:  clip.Duration,
		CreatedAt: time.Now().UTC(),
	}
	m.append(sessionID, msg)
	m.scheduleEcho(sessionID, clip)

	m.log.Info("voice message recorded",
		slog.String("session_id", sessionID),
		slog.String("message_id", msg.ID),
		slog.Duration("duration", msg.Duration))

	return msg, nil
}

func (m *Manager) scheduleEcho(sessionID string, clip audioclip.Clip) {
	delay := time.Duration(m.cfg.EchoDelayMS) * time.Millisecond
	m.mu.Lock()
	st := m.session(sessionID)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		echo := VoiceMessage{
			ID:        clip.ID + "-echo",
			Sender:    m.cfg.EchoSender,
			ClipPath:  clip.Path,
			Duration:  clip.Duration,
			CreatedAt: time.Now().UTC(),
		}
		m.append(sessionID, echo)
		m.dropEchoTimer(sessionID, timer)
	})
	st.echoes = append(st.echoes, timer)
	m.mu.Unlock()
}

// dropEchoTimer forgets a fired timer so long-lived sessions do not
// accumulate one entry per recording.
func (m *Manager) dropEchoTimer(sessionID string, timer *time.Timer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	for i, t := range st.echoes {
		if t == timer {
			st.echoes = append(st.echoes[:i], st.echoes[i+1:]...)
			return
		}
	}
}

func (m *Manager) append(sessionID string, msg VoiceMessage) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if !ok || st.closed {
		m.mu.Unlock()
		return
	}
	st.messages = append(st.messages, msg)
	fn := m.onMessage
	m.mu.Unlock()

	if fn != nil {
		fn(sessionID, msg)
	}
}

// Messages returns the session's ordered message list.
func (m *Manager) Messages(sessionID string) []VoiceMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]VoiceMessage(nil), st.messages...)
}

func (m *Manager) Recording(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	return ok && st.recording
}

// TogglePlayback alternates one message between playing and paused.
// Starting a message pauses whichever other message was active.
func (m *Manager) TogglePlayback(sessionID, messageID string) (PlaybackState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return PlaybackState{}, ErrUnknownSession
	}
	found := false
	for _, msg := range st.messages {
		if msg.ID == messageID {
			found = true
			break
		}
	}
	if !found {
		return PlaybackState{}, ErrUnknownMessage
	}

	if st.playback.MessageID == messageID {
		st.playback.Playing = !st.playback.Playing
	} else {
		st.playback = PlaybackState{MessageID: messageID, Playing: true}
	}
	return st.playback, nil
}

func (m *Manager) Playback(sessionID string) PlaybackState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return PlaybackState{}
	}
	return st.playback
}

// CloseSession drops the message list and cancels any pending echo.
func (m *Manager) CloseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	st.closed = true
	for _, t := range st.echoes {
		t.Stop()
	}
	delete(m.sessions, sessionID)
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, st := range m.sessions {
		st.closed = true
		for _, t := range st.echoes {
			t.Stop()
		}
		delete(m.sessions, id)
	}
}

// caller must hold m.mu
func (m *Manager) session(sessionID string) *session {
	st, ok := m.sessions[sessionID]
	if !ok {
		st = &session{}
		m.sessions[sessionID] = st
	}
	return st
}
