package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parleylabs/parley-core/internal/api"
	"github.com/parleylabs/parley-core/internal/audioclip"
	"github.com/parleylabs/parley-core/internal/bus"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/devices"
	"github.com/parleylabs/parley-core/internal/genai"
	"github.com/parleylabs/parley-core/internal/natsserver"
	"github.com/parleylabs/parley-core/internal/router"
	"github.com/parleylabs/parley-core/internal/speech"
	"github.com/parleylabs/parley-core/internal/timeline"
	"github.com/parleylabs/parley-core/internal/voicechat"
)

// service is the lifecycle every bus-facing component implements.
type service interface {
	Start() error
	Close()
	Healthy() bool
}

// Runtime owns the full process: telemetry, the embedded broker, the
// bus connection, the timeline store, the domain services and the HTTP
// surface. Start blocks until the context is cancelled, then shuts
// everything down in reverse order.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *timeline.Store
	registry *devices.Registry
	services []service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if r.cfg.Bus.Embedded {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		r.embedded = embedded
	}

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.stopInfra()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = busClient

	store, err := timeline.Open(ctx, r.cfg.Timeline, r.logger)
	if err != nil {
		r.stopInfra()
		return fmt.Errorf("failed to open timeline store: %w", err)
	}
	r.store = store

	nodeCfg := r.cfg.Node
	nodeCfg.Capabilities = append(nodeCfg.Capabilities, devices.AudioCapabilities(r.cfg)...)
	registry, err := devices.NewRegistry(ctx, nodeCfg, busClient, r.logger)
	if err != nil {
		r.stopInfra()
		return fmt.Errorf("failed to start device registry: %w", err)
	}
	r.registry = registry

	apiServer, err := r.buildServices(ctx)
	if err != nil {
		r.registry.Close()
		r.stopInfra()
		return err
	}

	for _, svc := range r.services {
		if err := svc.Start(); err != nil {
			r.stopServices()
			r.registry.Close()
			r.stopInfra()
			return fmt.Errorf("failed to start service: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	apiServer.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.registry.Close()
	r.stopServices()
	r.stopInfra()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

// buildServices constructs the domain services and the API server that
// fronts them. Services are started by the caller in slice order.
func (r *Runtime) buildServices(ctx context.Context) (*api.Server, error) {
	clips, err := audioclip.NewStore(r.cfg.VoiceChat.ClipDir, r.cfg.VoiceChat.SampleRate, r.cfg.VoiceChat.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to open clip store: %w", err)
	}
	manager := voicechat.NewManager(r.cfg.VoiceChat, clips, r.logger)
	voiceSvc := voicechat.NewService(ctx, r.cfg.VoiceChat, r.bus, manager, r.store, r.logger)

	synth, err := r.buildSynthesizer()
	if err != nil {
		return nil, err
	}
	engine := speech.NewEngine(r.cfg.Speech, synth, r.logger)
	speechSvc := speech.NewService(ctx, r.cfg.Speech, r.bus, engine, r.store, r.logger)

	generator, err := r.buildGenerator()
	if err != nil {
		return nil, err
	}
	genSvc := genai.NewService(ctx, r.cfg.GenAI, r.bus, generator, r.store, r.logger)

	routerSvc := router.NewService(ctx, r.cfg.Router, r.bus, r.logger)

	r.services = []service{voiceSvc, speechSvc, genSvc, routerSvc}

	return api.NewServer(r.cfg, manager, engine, generator, genSvc.Timeout(), r.registry, r.store, r.bus, r.logger), nil
}

func (r *Runtime) buildSynthesizer() (speech.Synthesizer, error) {
	switch r.cfg.Speech.Mode {
	case "exec":
		return speech.NewExecSynth(r.cfg.Speech.Command, r.cfg.Speech.SampleRate, r.cfg.Speech.Channels)
	default:
		return speech.NewMockSynth(r.cfg.Speech.SampleRate, r.cfg.Speech.Channels, r.cfg.Speech.ChunkDurationMS), nil
	}
}

func (r *Runtime) buildGenerator() (genai.Generator, error) {
	switch r.cfg.GenAI.Mode {
	case "remote":
		timeout := time.Duration(r.cfg.GenAI.TimeoutMS) * time.Millisecond
		return genai.NewRemoteGenerator(r.cfg.GenAI.Endpoint, r.cfg.GenAI.Model, r.cfg.GenAI.APIKey, timeout), nil
	default:
		return genai.NewMockGenerator(), nil
	}
}

func (r *Runtime) stopServices() {
	for i := len(r.services) - 1; i >= 0; i-- {
		r.services[i].Close()
	}
	r.services = nil
}

func (r *Runtime) stopInfra() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("timeline close error", slog.String("error", err.Error()))
		}
		r.store = nil
	}
	if r.bus != nil {
		r.bus.Close()
		r.bus = nil
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
		r.embedded = nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	for _, svc := range r.services {
		if !svc.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("degraded"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
