package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/parleylabs/parley-core/internal/bus"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/protocol"
)

// Service bridges generated replies into speech. Replies published with the
// speak flag set are turned into speak requests using the configured
// default voice and language.
type Service struct {
	cfg    config.RouterConfig
	bus    *bus.Client
	logger *slog.Logger
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(parent context.Context, cfg config.RouterConfig, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		logger: logger.With(slog.String("component", "router")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectGenerateReply, s.handleReply)
	if err != nil {
		return err
	}
	s.sub = sub
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
	return !s.cfg.Enabled || s.sub != nil
}

func (s *Service) handleReply(msg *nats.Msg) {
	var reply protocol.GenerateReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		s.logger.Warn("router failed to decode reply", slogError(err))
		return
	}
	if !reply.Speak || reply.Error != "" || reply.Text == "" {
		return
	}

	req := protocol.SpeakRequest{
		SessionID: reply.SessionID,
		Text:      reply.Text,
		Voice:     s.cfg.DefaultVoice,
		Language:  s.cfg.DefaultLanguage,
		Target:    s.cfg.Target,
		TraceID:   reply.TraceID,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.publishSpeakRequest(req); err != nil {
			s.logger.Warn("router failed to publish speak request", slogError(err))
		}
	}()
}

func (s *Service) publishSpeakRequest(req protocol.SpeakRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.bus.Conn().Publish(protocol.SubjectSpeakRequest, data)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
