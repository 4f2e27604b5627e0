package speech

import (
	"context"
	"time"
)

type mockSynth struct {
	sampleRate int
	channels   int
	chunkMS    int
}

func NewMockSynth(sampleRate, channels, chunkDurationMS int) Synthesizer {
	if chunkDurationMS <= 0 {
		chunkDurationMS = 400
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels, chunkMS: chunkDurationMS}
}

// Synthesize emits silent PCM sized from the text length and rate so
// downstream timing behaves like a real utterance.
func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		rate := req.Rate
		if rate <= 0 {
			rate = 1.0
		}
		// rough 60ms of speech per character at rate 1.0
		total := time.Duration(float64(len(req.Text)) * 60 / rate * float64(time.Millisecond))
		chunkDur := time.Duration(m.chunkMS) * time.Millisecond
		n := int(total / chunkDur)
		if n < 1 {
			n = 1
		}
		pcm := make([]byte, m.sampleRate*m.channels*2*m.chunkMS/1000)

		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-time.After(time.Millisecond):
			}
			chunk := SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   i,
				SampleRate: m.sampleRate,
				Channels:   m.channels,
				PCM:        pcm,
				Final:      i == n-1,
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}

func (m *mockSynth) ListVoices(_ context.Context) ([]Voice, error) {
	return []Voice{
		{Name: "default", Language: "en-US", Gender: "neutral"},
		{Name: "aria", Language: "en-US", Gender: "female"},
		{Name: "baxter", Language: "en-GB", Gender: "male"},
		{Name: "camille", Language: "fr-FR", Gender: "female"},
	}, nil
}
