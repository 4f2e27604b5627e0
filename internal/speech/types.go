package speech

import "context"

// SynthRequest contains the per-utterance parameters handed to a backend.
// Defaults have already been applied by the engine.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
	Language  string
	Pitch     float64
	Rate      float64
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Voice describes one synthesizer voice.
type Voice struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender,omitempty"`
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
	ListVoices(ctx context.Context) ([]Voice, error)
}
