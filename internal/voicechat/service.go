package voicechat

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

// Service bridges the manager onto the bus: audio frames in, message
// events out, everything mirrored into the timeline store.
type Service struct {
	cfg     config.VoiceChatConfig
	bus     *bus.Client
	manager *Manager
	store   *timeline.Store
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	ready   bool
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.VoiceChatConfig, busClient *bus.Client, manager *Manager, store *timeline.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:     cfg,
		bus:     busClient,
		manager: manager,
		store:   store,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(slog.String("component", "voicechat-service")),
	}
	manager.OnMessage(s.handleMessage)
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
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
	s.manager.Close()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slogError(err))
		return
	}

	s.manager.AppendFrame(frame.SessionID, frame.PCM)
	if !frame.Final {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.manager.StopRecording(frame.SessionID); err != nil {
			s.logger.Warn("failed to finalize recording", slogError(err))
		}
	}()
}

func (s *Service) handleMessage(sessionID string, msg VoiceMessage) {
	event := protocol.VoiceMessageEvent{
		SessionID:  sessionID,
		MessageID:  msg.ID,
		Sender:     msg.Sender,
		ClipPath:   msg.ClipPath,
		DurationMS: msg.Duration.Milliseconds(),
		Timestamp:  msg.CreatedAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal message event", slogError(err))
		return
	}
	if s.bus != nil {
		if err := s.bus.Conn().Publish(protocol.SubjectVoiceMessage, data); err != nil {
			s.logger.Warn("failed to publish message event", slogError(err))
		}
	}
	s.record(sessionID, msg, data)
}

func (s *Service) record(sessionID string, msg VoiceMessage, payload []byte) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if err := s.store.AppendSession(ctx, sessionID, msg.Sender, "session"); err != nil {
		s.logger.Warn("failed to record session", slogError(err))
		return
	}
	eventType := timeline.EventMessageRecorded
	if msg.Sender != SenderUser {
		eventType = timeline.EventMessageEchoed
	}
	err := s.store.AppendEvent(ctx, timeline.Event{
		SessionID: sessionID,
		ActorID:   msg.Sender,
		Type:      eventType,
		Payload:   payload,
		Privacy:   "session",
	})
	if err != nil {
		s.logger.Warn("failed to record message event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
