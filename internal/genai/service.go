package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/parleylabs/parley-core/internal/bus"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/protocol"
	"github.com/parleylabs/parley-core/internal/timeline"
)

type Service struct {
	cfg       config.GenAIConfig
	bus       *bus.Client
	generator Generator
	store     *timeline.Store
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	ready     bool
	logger    *slog.Logger
}

func NewService(parent context.Context, cfg config.GenAIConfig, busClient *bus.Client, generator Generator, store *timeline.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		generator: generator,
		store:     store,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "genai-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectGenerateRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe generate requests: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) Generator() Generator { return s.generator }

// Timeout returns the per-request generation deadline.
func (s *Service) Timeout() time.Duration {
	return time.Duration(s.cfg.TimeoutMS) * time.Millisecond
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.GenerateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode generate request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.Timeout())
		defer cancel()

		s.record(ctx, req.SessionID, timeline.EventGenRequested, msg.Data, req.TraceID)

		start := time.Now()
		reply, err := s.generator.Generate(ctx, Request{
			SessionID:       req.SessionID,
			Prompt:          req.Prompt,
			APIKey:          req.APIKey,
			MaxOutputTokens: s.cfg.MaxOutputTokens,
			Temperature:     s.cfg.Temperature,
			TraceID:         req.TraceID,
		})

		out := protocol.GenerateReply{
			SessionID: req.SessionID,
			Speak:     req.Speak,
			TraceID:   req.TraceID,
			Timestamp: time.Now().UTC(),
		}
		if err != nil {
			// surfaced verbatim: the caller renders this as an alert
			out.Error = err.Error()
			s.logger.Warn("generation failed", slogError(err))
		} else {
			out.Text = reply.Text
			out.Fallback = reply.Fallback
			s.logger.Info("generation complete",
				slog.Duration("latency", time.Since(start)),
				slog.Bool("fallback", reply.Fallback))
		}
		s.publishReply(out)
	}()
}

func (s *Service) publishReply(reply protocol.GenerateReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal generate reply", slogError(err))
		return
	}
	if s.bus != nil {
		if err := s.bus.Conn().Publish(protocol.SubjectGenerateReply, data); err != nil {
			s.logger.Warn("failed to publish generate reply", slogError(err))
		}
	}
	eventType := timeline.EventGenReplied
	if reply.Error != "" {
		eventType = timeline.EventGenFailed
	}
	// fresh deadline: the generation context may already be expired
	recordCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.record(recordCtx, reply.SessionID, eventType, data, reply.TraceID)
}

func (s *Service) record(ctx context.Context, sessionID, eventType string, payload []byte, traceID string) {
	if s.store == nil || sessionID == "" {
		return
	}
	if err := s.store.AppendSession(ctx, sessionID, "genai", "session"); err != nil {
		s.logger.Warn("failed to record session", slogError(err))
		return
	}
	err := s.store.AppendEvent(ctx, timeline.Event{
		SessionID: sessionID,
		TraceID:   traceID,
		ActorID:   "genai",
		Type:      eventType,
		Payload:   payload,
		Privacy:   "session",
	})
	if err != nil {
		s.logger.Warn("failed to record generation event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
