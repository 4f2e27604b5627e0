package protocol

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// AudioFrame represents PCM audio data streamed from capture clients.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// VoiceMessageEvent announces a voice message appended to a session.
type VoiceMessageEvent struct {
	SessionID  string    `json:"session_id"`
	MessageID  string    `json:"message_id"`
	Sender     string    `json:"sender"`
	ClipPath   string    `json:"clip_path"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// SpeakRequest asks the speech service to voice a line of text.
// Zero-valued fields fall back to configured defaults.
type SpeakRequest struct {
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice,omitempty"`
	Language  string  `json:"language,omitempty"`
	Pitch     float64 `json:"pitch,omitempty"`
	Rate      float64 `json:"rate,omitempty"`
	Target    string  `json:"target,omitempty"`
	TraceID   string  `json:"trace_id,omitempty"`
}

// SpeakStatus reports the synthesizer state. Published on every
// transition and on a periodic ticker so clients can poll.
type SpeakStatus struct {
	SessionID string    `json:"session_id,omitempty"`
	Speaking  bool      `json:"speaking"`
	Paused    bool      `json:"paused"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeakDone marks the end of one utterance.
type SpeakDone struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Completed bool      `json:"completed"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioChunk carries synthesized PCM toward a playback target.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Sequence   int    `json:"sequence"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// GenerateRequest asks the genai service for a model reply.
type GenerateRequest struct {
	SessionID string    `json:"session_id"`
	Prompt    string    `json:"prompt"`
	APIKey    string    `json:"api_key,omitempty"`
	Speak     bool      `json:"speak,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// GenerateReply carries the model output, the fallback marker when the
// response held no text, or the error surfaced to the caller.
type GenerateReply struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`
	Error     string    `json:"error,omitempty"`
	Speak     bool      `json:"speak,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix   = "voice.frame"
	SubjectVoiceMessage       = "voice.message.created"
	SubjectSpeakRequest       = "speak.request"
	SubjectSpeakAudio         = "speak.audio"
	SubjectSpeakStatus        = "speak.status"
	SubjectSpeakDone          = "speak.done"
	SubjectGenerateRequest    = "gen.request"
	SubjectGenerateReply      = "gen.reply"
	SubjectDeviceAnnounce     = "ctrl.device.announce"
	SubjectDeviceHeartbeatFmt = "ctrl.device.heartbeat.%s"
)

// Per-utterance parameter bounds. Requests outside these ranges are
// rejected rather than clamped.
const (
	MinPitch = 0.5
	MaxPitch = 2.0
	MinRate  = 0.25
	MaxRate  = 4.0
)

var (
	ErrEmptyText       = errors.New("text must not be empty")
	ErrPitchOutOfRange = errors.New("pitch must be between 0.5 and 2.0")
	ErrRateOutOfRange  = errors.New("rate must be between 0.25 and 4.0")
	ErrBadLanguageTag  = errors.New("language must be a BCP-47 tag")
)

var languageTagPattern = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z0-9]{2,8})*$`)

// ValidLanguageTag reports whether s looks like a BCP-47 language tag
// ("en", "en-US", "pt-BR"). Full RFC 5646 parsing is not attempted.
func ValidLanguageTag(s string) bool {
	return languageTagPattern.MatchString(s)
}

// Validate checks a speak request after defaults have been applied.
// Zero pitch and rate are allowed and mean "use the configured default".
func (r SpeakRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if r.Pitch != 0 && (r.Pitch < MinPitch || r.Pitch > MaxPitch) {
		return ErrPitchOutOfRange
	}
	if r.Rate != 0 && (r.Rate < MinRate || r.Rate > MaxRate) {
		return ErrRateOutOfRange
	}
	if r.Language != "" && !ValidLanguageTag(r.Language) {
		return ErrBadLanguageTag
	}
	return nil
}
