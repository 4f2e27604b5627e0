package speech

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/parleylabs/parley-core/internal/bus"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/protocol"
	"github.com/parleylabs/parley-core/internal/timeline"
)

// Service exposes the engine on the bus and publishes the speaking
// status both on transitions and on a fixed ticker so clients can poll.
type Service struct {
	cfg    config.SpeechConfig
	bus    *bus.Client
	engine *Engine
	store  *timeline.Store
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.SpeechConfig, busClient *bus.Client, engine *Engine, store *timeline.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    busClient,
		engine: engine,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "speech-service")),
	}
	engine.OnChunk(s.publishChunk)
	engine.OnStatus(s.publishStatus)
	engine.OnDone(s.publishDone)
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSpeakRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub

	s.wg.Add(1)
	go s.statusLoop()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.engine.Close()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) Engine() *Engine { return s.engine }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		return
	}
	if err := s.engine.Speak(s.ctx, req); err != nil {
		s.logger.Warn("speak request rejected", slogError(err))
		return
	}
	s.record(req.SessionID, timeline.EventSpeechStarted, msg.Data, req.TraceID)
}

func (s *Service) statusLoop() {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.StatusIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.publishStatus(s.engine.Status())
		}
	}
}

func (s *Service) publishChunk(chunk protocol.AudioChunk) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		s.logger.Warn("failed to marshal audio chunk", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSpeakAudio, data); err != nil {
		s.logger.Warn("failed to publish audio chunk", slogError(err))
	}
}

func (s *Service) publishStatus(status protocol.SpeakStatus) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSpeakStatus, data); err != nil {
		s.logger.Warn("failed to publish speak status", slogError(err))
	}
}

func (s *Service) publishDone(done protocol.SpeakDone) {
	if s.bus != nil {
		if data, err := json.Marshal(done); err == nil {
			_ = s.bus.Conn().Publish(protocol.SubjectSpeakDone, data)
		}
	}
	if data, err := json.Marshal(done); err == nil {
		s.record(done.SessionID, timeline.EventSpeechFinished, data, "")
	}
}

func (s *Service) record(sessionID, eventType string, payload []byte, traceID string) {
	if s.store == nil || sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.store.AppendSession(ctx, sessionID, "speech", "session"); err != nil {
		s.logger.Warn("failed to record session", slogError(err))
		return
	}
	err := s.store.AppendEvent(ctx, timeline.Event{
		SessionID: sessionID,
		TraceID:   traceID,
		ActorID:   "speech",
		Type:      eventType,
		Payload:   payload,
		Privacy:   "session",
	})
	if err != nil {
		s.logger.Warn("failed to record speech event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
