package voicechat

import (
	"errors"
	"time"
)

// Senders attached to voice messages.
const (
	SenderUser = "user"
)

// VoiceMessage pairs an audio clip reference with sender and duration
// metadata. Immutable once created; held in memory for the life of the
// session only.
type VoiceMessage struct {
	ID        string        `json:"id"`
	Sender    string        `json:"sender"`
	ClipPath  string        `json:"clip_path"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// PlaybackState describes which message of a session is active and
// whether it is currently playing or paused.
type PlaybackState struct {
	MessageID string `json:"message_id"`
	Playing   bool   `json:"playing"`
}

var (
	ErrAlreadyRecording = errors.New("session is already recording")
	ErrNotRecording     = errors.New("session is not recording")
	ErrNoAudio          = errors.New("no audio captured")
	ErrUnknownSession   = errors.New("unknown session")
	ErrUnknownMessage   = errors.New("unknown message")
)
