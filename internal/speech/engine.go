package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/protocol"
)

// Engine states. Paused still counts as speaking for status purposes:
// an utterance is in flight, just not advancing.
const (
	StateIdle     = "idle"
	StateSpeaking = "speaking"
	StatePaused   = "paused"
)

var (
	ErrNotSpeaking = errors.New("no utterance in progress")
	ErrNotPaused   = errors.New("utterance is not paused")
)

// Engine runs one utterance at a time against a Synthesizer and owns
// the idle/speaking/paused state machine. A new Speak preempts the
// current utterance. The bus service wires the callbacks.
type Engine struct {
	cfg   config.SpeechConfig
	synth Synthesizer
	log   *slog.Logger

	mu      sync.Mutex
	state   string
	session string
	gen     uint64
	cancel  context.CancelFunc
	resume  chan struct{}
	wg      sync.WaitGroup

	onChunk  func(protocol.AudioChunk)
	onStatus func(protocol.SpeakStatus)
	onDone   func(protocol.SpeakDone)
}

func NewEngine(cfg config.SpeechConfig, synth Synthesizer, log *slog.Logger) *Engine {
	return &Engine{
		cfg:   cfg,
		synth: synth,
		log:   log.With(slog.String("component", "speech-engine")),
		state: StateIdle,
	}
}

func (e *Engine) OnChunk(fn func(protocol.AudioChunk))   { e.onChunk = fn }
func (e *Engine) OnStatus(fn func(protocol.SpeakStatus)) { e.onStatus = fn }
func (e *Engine) OnDone(fn func(protocol.SpeakDone))     { e.onDone = fn }

// Speak validates the request, applies configured defaults, preempts
// any current utterance and starts synthesis.
func (e *Engine) Speak(ctx context.Context, req protocol.SpeakRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	req = e.applyDefaults(req)

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	uttCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.gen++
	gen := e.gen
	e.state = StateSpeaking
	e.session = req.SessionID
	e.resume = nil
	e.mu.Unlock()
	e.notifyStatus()

	e.wg.Add(1)
	go e.run(uttCtx, gen, req)
	return nil
}

func (e *Engine) applyDefaults(req protocol.SpeakRequest) protocol.SpeakRequest {
	if req.Voice == "" {
		req.Voice = e.cfg.DefaultVoice
	}
	if req.Language == "" {
		req.Language = e.cfg.DefaultLanguage
	}
	if req.Pitch == 0 {
		req.Pitch = e.cfg.DefaultPitch
	}
	if req.Rate == 0 {
		req.Rate = e.cfg.DefaultRate
	}
	return req
}

func (e *Engine) run(ctx context.Context, gen uint64, req protocol.SpeakRequest) {
	defer e.wg.Done()

	chunks, errs := e.synth.Synthesize(ctx, SynthRequest{
		SessionID: req.SessionID,
		Text:      req.Text,
		Voice:     req.Voice,
		Language:  req.Language,
		Pitch:     req.Pitch,
		Rate:      req.Rate,
	})

	sequence := 0
	completed := false

loop:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				if errs == nil {
					break loop
				}
				continue
			}
			if !e.waitResume(ctx, gen) {
				break loop
			}
			chunk.Sequence = sequence
			sequence++
			if e.onChunk != nil {
				e.onChunk(protocol.AudioChunk{
					SessionID:  chunk.SessionID,
					Target:     req.Target,
					SampleRate: chunk.SampleRate,
					Channels:   chunk.Channels,
					Sequence:   chunk.Sequence,
					PCM:        chunk.PCM,
					Final:      chunk.Final,
				})
			}
			if chunk.Final {
				completed = true
			}
		case err, ok := <-errs:
			if ok && err != nil && !errors.Is(err, context.Canceled) {
				e.log.Warn("synthesis error", slog.String("error", err.Error()))
			}
			errs = nil
			if chunks == nil {
				break loop
			}
		case <-ctx.Done():
			break loop
		}
	}

	e.mu.Lock()
	stale := e.gen != gen
	if !stale {
		e.state = StateIdle
		e.session = ""
		e.cancel = nil
		e.resume = nil
	}
	e.mu.Unlock()

	if stale {
		return
	}
	e.notifyStatus()
	if e.onDone != nil {
		e.onDone(protocol.SpeakDone{
			SessionID: req.SessionID,
			Target:    req.Target,
			Completed: completed,
			Timestamp: time.Now().UTC(),
		})
	}
}

// waitResume blocks while the engine is paused. Returns false when the
// utterance was cancelled or preempted.
func (e *Engine) waitResume(ctx context.Context, gen uint64) bool {
	for {
		e.mu.Lock()
		if e.gen != gen {
			e.mu.Unlock()
			return false
		}
		if e.state != StatePaused {
			e.mu.Unlock()
			return true
		}
		resume := e.resume
		e.mu.Unlock()

		select {
		case <-resume:
		case <-ctx.Done():
			return false
		}
	}
}

// Stop cancels the current utterance. Stopping an idle engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()
}

func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateSpeaking {
		return ErrNotSpeaking
	}
	e.state = StatePaused
	e.resume = make(chan struct{})
	go e.notifyStatus()
	return nil
}

func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return ErrNotPaused
	}
	e.state = StateSpeaking
	close(e.resume)
	e.resume = nil
	go e.notifyStatus()
	return nil
}

// Status reports the current state; the speaking flag stays true while
// paused, mirroring how speech engines report an in-flight utterance.
func (e *Engine) Status() protocol.SpeakStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return protocol.SpeakStatus{
		SessionID: e.session,
		Speaking:  e.state != StateIdle,
		Paused:    e.state == StatePaused,
		Timestamp: time.Now().UTC(),
	}
}

func (e *Engine) Voices(ctx context.Context) ([]Voice, error) {
	return e.synth.ListVoices(ctx)
}

func (e *Engine) Close() {
	e.Stop()
	e.wg.Wait()
}

func (e *Engine) notifyStatus() {
	if e.onStatus != nil {
		e.onStatus(e.Status())
	}
}
