package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parleylabs/parley-core/internal/bus"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/devices"
	"github.com/parleylabs/parley-core/internal/genai"
	"github.com/parleylabs/parley-core/internal/protocol"
	"github.com/parleylabs/parley-core/internal/speech"
	"github.com/parleylabs/parley-core/internal/timeline"
	"github.com/parleylabs/parley-core/internal/voicechat"
)

// Server exposes the runtime over HTTP. Handlers are thin adapters onto
// the voicechat manager, speech engine and generator; all domain rules
// live in those packages.
type Server struct {
	cfg        config.Config
	voice      *voicechat.Manager
	engine     *speech.Engine
	generator  genai.Generator
	genTimeout time.Duration
	registry   *devices.Registry
	store      *timeline.Store
	bus        *bus.Client
	logger     *slog.Logger
}

func NewServer(cfg config.Config, voice *voicechat.Manager, engine *speech.Engine, generator genai.Generator, genTimeout time.Duration, registry *devices.Registry, store *timeline.Store, busClient *bus.Client, logger *slog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		voice:      voice,
		engine:     engine,
		generator:  generator,
		genTimeout: genTimeout,
		registry:   registry,
		store:      store,
		bus:        busClient,
		logger:     logger.With(slog.String("component", "api")),
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions/{sid}/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /v1/sessions/{sid}/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("GET /v1/sessions/{sid}/messages", s.handleMessages)
	mux.HandleFunc("POST /v1/sessions/{sid}/messages/{mid}/playback", s.handlePlayback)
	mux.HandleFunc("GET /v1/sessions/{sid}/events", s.handleEvents)
	mux.HandleFunc("DELETE /v1/sessions/{sid}", s.handleCloseSession)
	mux.HandleFunc("POST /v1/speak", s.handleSpeak)
	mux.HandleFunc("POST /v1/speak/stop", s.handleSpeakStop)
	mux.HandleFunc("POST /v1/speak/pause", s.handleSpeakPause)
	mux.HandleFunc("POST /v1/speak/resume", s.handleSpeakResume)
	mux.HandleFunc("GET /v1/speak/status", s.handleSpeakStatus)
	mux.HandleFunc("GET /v1/voices", s.handleVoices)
	mux.HandleFunc("POST /v1/generate", s.handleGenerate)
	mux.HandleFunc("GET /v1/devices", s.handleDevices)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

type messageJSON struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	ClipPath   string    `json:"clip_path"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func toMessageJSON(msg voicechat.VoiceMessage) messageJSON {
	return messageJSON{
		ID:         msg.ID,
		Sender:     msg.Sender,
		ClipPath:   msg.ClipPath,
		DurationMS: msg.Duration.Milliseconds(),
		CreatedAt:  msg.CreatedAt,
	}
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	if err := s.voice.StartRecording(sid); err != nil {
		if errors.Is(err, voicechat.ErrAlreadyRecording) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recording": true})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	msg, err := s.voice.StopRecording(sid)
	if err != nil {
		switch {
		case errors.Is(err, voicechat.ErrNotRecording):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, voicechat.ErrNoAudio):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, toMessageJSON(msg))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	messages := s.voice.Messages(sid)
	out := make([]messageJSON, 0, len(messages))
	for _, msg := range messages {
		out = append(out, toMessageJSON(msg))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	mid := r.PathValue("mid")
	state, err := s.voice.TogglePlayback(sid, mid)
	if err != nil {
		switch {
		case errors.Is(err, voicechat.ErrUnknownSession), errors.Is(err, voicechat.ErrUnknownMessage):
			writeError(w, http.StatusNotFound, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	s.recordPlayback(r, sid, state)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) recordPlayback(r *http.Request, sid string, state voicechat.PlaybackState) {
	if s.store == nil {
		return
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := s.store.AppendSession(r.Context(), sid, voicechat.SenderUser, "session"); err != nil {
		s.logger.Warn("failed to record session", slog.String("error", err.Error()))
		return
	}
	err = s.store.AppendEvent(r.Context(), timeline.Event{
		SessionID: sid,
		ActorID:   voicechat.SenderUser,
		Type:      timeline.EventPlaybackToggled,
		Payload:   payload,
		Privacy:   "session",
	})
	if err != nil {
		s.logger.Warn("failed to record playback event", slog.String("error", err.Error()))
	}
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s.voice.CloseSession(r.PathValue("sid"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []timeline.Event{})
		return
	}
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	events, err := s.store.ListSessionEvents(r.Context(), r.PathValue("sid"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []timeline.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

type speakBody struct {
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Language  string  `json:"language"`
	Pitch     float64 `json:"pitch"`
	Rate      float64 `json:"rate"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var body speakBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req := protocol.SpeakRequest{
		SessionID: body.SessionID,
		Text:      body.Text,
		Voice:     body.Voice,
		Language:  body.Language,
		Pitch:     body.Pitch,
		Rate:      body.Rate,
	}
	// The utterance outlives the request; only the values survive.
	if err := s.engine.Speak(context.WithoutCancel(r.Context()), req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.engine.Status())
}

func (s *Server) handleSpeakStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleSpeakPause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleSpeakResume(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Resume(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleSpeakStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.engine.Voices(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if voices == nil {
		voices = []speech.Voice{}
	}
	writeJSON(w, http.StatusOK, voices)
}

type generateBody struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
	Speak     bool   `json:"speak"`
}

type generateResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
	Fallback  bool   `json:"fallback,omitempty"`
	Speak     bool   `json:"speak,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		writeError(w, http.StatusBadRequest, genai.ErrEmptyPrompt)
		return
	}

	ctx, cancel := timeoutContext(r, s.genTimeout)
	defer cancel()

	reply, err := s.generator.Generate(ctx, genai.Request{
		SessionID: body.SessionID,
		Prompt:    body.Prompt,
		APIKey:    r.Header.Get("X-Api-Key"),
	})
	if err != nil {
		switch {
		case errors.Is(err, genai.ErrEmptyPrompt), errors.Is(err, genai.ErrMissingAPIKey):
			writeError(w, http.StatusBadRequest, err)
		default:
			// The upstream message goes back to the caller untouched so
			// the client can surface it directly.
			writeError(w, http.StatusBadGateway, err)
		}
		return
	}

	if body.Speak && !reply.Fallback {
		s.publishSpeakReply(body.SessionID, reply.Text)
	}

	writeJSON(w, http.StatusOK, generateResponse{
		SessionID: body.SessionID,
		Text:      reply.Text,
		Fallback:  reply.Fallback,
		Speak:     body.Speak,
	})
}

// publishSpeakReply hands the generated text to the router so it is
// spoken with the configured defaults.
func (s *Server) publishSpeakReply(sessionID, text string) {
	if s.bus == nil {
		return
	}
	event := protocol.GenerateReply{
		SessionID: sessionID,
		Text:      text,
		Speak:     true,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectGenerateReply, data); err != nil {
		s.logger.Warn("failed to publish generated reply", slog.String("error", err.Error()))
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeJSON(w, http.StatusOK, []devices.DeviceInfo{})
		return
	}
	var filter func(devices.DeviceInfo) bool
	if name := r.URL.Query().Get("capability"); name != "" {
		filter = devices.WithCapabilityFilter(name)
	}
	found := s.registry.Query(filter)
	if found == nil {
		found = []devices.DeviceInfo{}
	}
	writeJSON(w, http.StatusOK, found)
}

func timeoutContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return r.Context(), func() {}
	}
	return context.WithTimeout(r.Context(), timeout)
}
