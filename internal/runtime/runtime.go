package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/callscribe/callscribe/internal/audio"
	"github.com/callscribe/callscribe/internal/bus"
	"github.com/callscribe/callscribe/internal/config"
	"github.com/callscribe/callscribe/internal/engine"
	"github.com/callscribe/callscribe/internal/export"
	"github.com/callscribe/callscribe/internal/natsserver"
	"github.com/callscribe/callscribe/internal/session"
	"github.com/callscribe/callscribe/internal/store"
	"github.com/callscribe/callscribe/internal/stream"
	"github.com/callscribe/callscribe/internal/worker"
)

// Runtime assembles the service: telemetry, the event bus, the capture
// and transcription pipeline, the transcript archive, and the HTTP
// control surface. Start blocks until the context is cancelled.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	natsServer    *natsserver.EmbeddedServer
	busClient     *bus.Client
	archive       *store.Store
	hub           *stream.Hub
	controller    *session.Controller

	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup
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
	r.telemetryClose = shutdownTelemetry

	r.natsServer, err = natsserver.Start(r.cfg.Bus, r.logger.With(slog.String("component", "nats-server")))
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}

	r.busClient, err = bus.Connect(r.cfg.Bus, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	r.archive, err = store.Open(ctx, r.cfg.Store, r.logger.With(slog.String("component", "store")))
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}

	source, err := audio.NewSource(r.cfg.Audio)
	if err != nil {
		return fmt.Errorf("failed to create audio source: %w", err)
	}

	eng := engine.New(r.cfg.Engine, r.cfg.Audio.SampleRate, r.logger)
	w := worker.New(time.Duration(r.cfg.Worker.QueueWaitMS)*time.Millisecond, eng, r.busClient, r.logger)
	exporter := export.NewExporter(r.cfg.Export.TranscriptsDir)
	r.controller = session.NewController(r.cfg, source, eng, w, r.busClient, exporter, r.archive, r.logger)

	r.hub = stream.NewHub(r.cfg.Stream, r.logger)
	if err := r.hub.Start(r.busClient); err != nil {
		return fmt.Errorf("failed to start stream hub: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	r.registerAPI(mux)

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

	if metricHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("audio_mode", r.cfg.Audio.Mode),
		slog.String("engine_mode", r.cfg.Engine.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// Stop an in-flight session so pending audio drains before the
	// pipeline is torn down.
	if r.controller.Status().Recording {
		if _, err := r.controller.Stop(shutdownCtx, true); err != nil {
			r.logger.Error("session stop on shutdown failed", slog.String("error", err.Error()))
		}
	}

	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.hub.Close()
	r.busClient.Close()
	r.natsServer.Shutdown()
	if err := r.archive.Close(); err != nil {
		r.logger.Error("store close error", slog.String("error", err.Error()))
	}

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
