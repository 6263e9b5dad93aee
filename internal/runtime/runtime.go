package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/loqalabs/loqa-voice/internal/bridge"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/capability"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/control"
	"github.com/loqalabs/loqa-voice/internal/engine"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/httpapi"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Hour
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	store         *eventstore.Store
	embeddedNATS  *natsserver.EmbeddedServer
	bus           *bus.Client
	engine        *engine.Engine
	bridge        *bridge.Service
	control       *control.Service
	capabilities  []capability.Availability
	addr          atomic.Value
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves until ctx is cancelled and then shuts
// everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startInfrastructure(ctx); err != nil {
		r.shutdown()
		return err
	}

	providers := capability.Resolve(r.cfg, r.logger)
	r.capabilities = providers.Report
	r.engine = engine.New(engine.OptionsFromConfig(r.cfg.Engine), providers.Recognizer, providers.Synthesizer, r.logger)

	var publisher bridge.Publisher
	if r.bus != nil {
		publisher = r.bus
	}
	var journal bridge.Journal
	if r.store.Persistent() {
		journal = r.store
	}
	r.bridge = bridge.New(bridge.Options{Runtime: r.cfg.RuntimeName, SubjectPrefix: r.cfg.Bus.SubjectPrefix}, r.engine, publisher, journal, r.logger)
	if err := r.bridge.Start(ctx); err != nil {
		r.shutdown()
		return fmt.Errorf("start bridge: %w", err)
	}

	if r.bus != nil {
		r.control = control.NewService(ctx, r.cfg.Bus.SubjectPrefix, r.engine, r.bus, r.logger)
		if err := r.control.Start(); err != nil {
			r.shutdown()
			return fmt.Errorf("start control: %w", err)
		}
	}

	router := chi.NewRouter()
	router.Get("/healthz", r.handleHealth)
	router.Get("/readyz", r.handleReady)
	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind == "" {
		router.Handle("/metrics", metricsHandler)
	}
	httpapi.RegisterRoutes(router, httpapi.NewHandler(r.engine, r.store, r.logger))

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		r.shutdown()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.addr.Store(listener.Addr().String())
	r.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, listener, "http")

	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		if err := r.startMetricsServer(metricsHandler); err != nil {
			r.logger.Warn("metrics server disabled", slog.String("error", err.Error()))
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.initEngine(ctx)
	}()

	if r.store.Persistent() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.pruneLoop(ctx)
		}()
	}

	r.logger.Info("runtime started", slog.String("addr", listener.Addr().String()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return r.shutdown()
}

// Addr is the bound HTTP address once Start has begun serving.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

func (r *Runtime) Ready() bool {
	return r.ready.Load()
}

func (r *Runtime) startInfrastructure(ctx context.Context) error {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store

	if !r.cfg.Bus.Enabled {
		r.logger.Info("message bus disabled")
		return nil
	}

	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	r.embeddedNATS = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.bus = client
	return nil
}

// initEngine loads the voice catalog. The runtime is ready once loading
// finished, whatever the outcome, so health checks reflect a settled engine.
func (r *Runtime) initEngine(ctx context.Context) {
	err := r.engine.Init(ctx)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrSynthesisUnavailable):
		r.logger.Info("voice catalog skipped, synthesis unavailable")
	case ctx.Err() != nil:
		return
	default:
		r.logger.Error("voice catalog failed to load", slog.String("error", err.Error()))
	}
	r.ready.Store(true)
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) startMetricsServer(handler http.Handler) error {
	listener, err := net.Listen("tcp", r.cfg.Telemetry.PrometheusBind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.cfg.Telemetry.PrometheusBind, err)
	}
	mux := chi.NewRouter()
	mux.Handle("/metrics", handler)
	r.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.metricsServer, listener, "metrics")
	r.logger.Info("metrics server started", slog.String("addr", listener.Addr().String()))
	return nil
}

func (r *Runtime) serve(srv *http.Server, listener net.Listener, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) shutdown() error {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	var errs []error
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if r.control != nil {
		r.control.Close()
	}
	if r.engine != nil {
		r.engine.Cancel()
	}
	r.wg.Wait()
	if r.bridge != nil {
		r.bridge.Stop()
	}
	if r.engine != nil {
		r.engine.Close()
	}
	r.bus.Close()
	r.embeddedNATS.Shutdown()
	if err := r.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event store: %w", err))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readiness struct {
	Ready        bool                      `json:"ready"`
	Bus          bool                      `json:"bus"`
	Control      bool                      `json:"control"`
	Capabilities []capability.Availability `json:"capabilities"`
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	ready := r.ready.Load()
	if !ready {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readiness{
		Ready:        ready,
		Bus:          r.bus.Healthy(),
		Control:      r.control != nil && r.control.Healthy(),
		Capabilities: r.capabilities,
	})
}
