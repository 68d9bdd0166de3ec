// Package warecell is the public API for embedding the warehouse cell
// control plane.
//
//	app, err := warecell.New(
//	    warecell.WithVersion(version),
//	    warecell.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*; internal/* never imports the root.
package warecell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/warecell/api"
	"github.com/ashita-ai/warecell/internal/config"
	"github.com/ashita-ai/warecell/internal/device"
	"github.com/ashita-ai/warecell/internal/hub"
	"github.com/ashita-ai/warecell/internal/mcp"
	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/operations"
	"github.com/ashita-ai/warecell/internal/ratelimit"
	"github.com/ashita-ai/warecell/internal/scheduler"
	"github.com/ashita-ai/warecell/internal/server"
	"github.com/ashita-ai/warecell/internal/service/warehouse"
	"github.com/ashita-ai/warecell/internal/state"
	"github.com/ashita-ai/warecell/internal/storage"
	"github.com/ashita-ai/warecell/internal/storage/memory"
	"github.com/ashita-ai/warecell/internal/storage/sqlite"
	"github.com/ashita-ai/warecell/internal/telemetry"
	"github.com/ashita-ai/warecell/migrations"
)

// shutdownTimeout bounds each shutdown phase.
const shutdownTimeout = 10 * time.Second

// backend is everything the control plane persists.
type backend interface {
	operations.Repository
	scheduler.Repository
	state.Repository
	warehouse.ProductRepository
	ProductByTag(ctx context.Context, tag string) (model.Product, error)
	Name() string
	Ping(ctx context.Context) error
	Close(ctx context.Context)
}

// App is the control plane lifecycle. Construct with New, run with Run.
type App struct {
	cfg          config.Config
	store        backend
	hub          *hub.Hub
	loop         *scheduler.Loop
	svc          *warehouse.Service
	checkpointer *state.Checkpointer
	limiter      ratelimit.Limiter
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, opens storage, restores persisted state and wires
// every component. It does not start goroutines or accept connections.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != nil {
		cfg.DatabaseURL = *o.databaseURL
	}
	if o.deviceAddress != "" {
		cfg.DeviceAddress = o.deviceAddress
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("warecell starting", "version", version, "port", cfg.Port,
		"grid", fmt.Sprintf("%dx%d", cfg.GridRows, cfg.GridColumns))

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := openStorage(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}
	fail := func(err error) (*App, error) {
		store.Close(ctx)
		_ = otelShutdown(ctx)
		return nil, err
	}
	logger.Info("storage ready", "backend", store.Name())

	// Components, leaves first. The hub and the service reference each
	// other, so the snapshot source is attached after both exist.
	h := hub.New(hub.Config{
		BufferSize:       cfg.ObserverBuffer,
		SnapshotInterval: cfg.SnapshotInterval,
		OriginPatterns:   cfg.WSOriginPatterns,
	}, logger.With("component", "hub"))
	cells := state.New(model.Layout{Rows: cfg.GridRows, Columns: cfg.GridColumns}, h, store, logger.With("component", "state"))
	link := device.New(cfg.DeviceTimeout, logger.With("component", "device"))
	tracker := operations.New(store, link, cells, store, h, logger.With("component", "operations"), cfg.DispatchWait)
	queue := scheduler.NewQueue(store, h, logger.With("component", "scheduler"))
	loop := scheduler.NewLoop(queue, tracker, cells, store, logger.With("component", "scheduler"), cfg.SettleDelay, cfg.NoopSettleDelay)
	svc := warehouse.New(cells, tracker, queue, loop, link, store, h, logger.With("component", "warehouse"))
	h.SetSource(svc)

	checkpointer := state.NewCheckpointer(cells, store, logger.With("component", "checkpoint"), cfg.CheckpointInterval)
	if err := checkpointer.Load(ctx); err != nil {
		return fail(fmt.Errorf("restore state: %w", err))
	}
	if err := queue.Load(ctx); err != nil {
		return fail(fmt.Errorf("restore tasks: %w", err))
	}
	queue.RegisterMetrics()

	if cfg.DeviceAddress != "" {
		if _, err := svc.RegisterDevice(cfg.DeviceAddress); err != nil {
			return fail(fmt.Errorf("device address: %w", err))
		}
		logger.Info("device pre-registered", "address", cfg.DeviceAddress)
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	retryAfter := time.Second
	if cfg.RateLimitEnabled {
		ml := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		limiter = ml
		retryAfter = ml.RetryAfter()
	}

	mcpSrv := mcp.New(svc, logger.With("component", "mcp"), version)

	var extraRoutes func(*http.ServeMux)
	if len(o.routeRegistrars) > 0 {
		extraRoutes = func(mux *http.ServeMux) {
			for _, fn := range o.routeRegistrars {
				fn(mux)
			}
		}
	}
	middlewares := make([]func(http.Handler) http.Handler, len(o.middlewares))
	for i, mw := range o.middlewares {
		middlewares[i] = mw
	}

	srv := server.New(server.ServerConfig{
		Svc:                 svc,
		Logger:              logger,
		Hub:                 h,
		Storage:             store,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		RetryAfter:          retryAfter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		hub:          h,
		loop:         loop,
		svc:          svc,
		checkpointer: checkpointer,
		limiter:      limiter,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler, for embedding in another server.
func (a *App) Handler() http.Handler { return a.srv.Handler() }

// Run starts the background loops and the HTTP server, then blocks until
// ctx is cancelled or a component fails. Shutdown runs before Run returns.
func (a *App) Run(ctx context.Context) error {
	// The checkpointer outlives ctx so Drain can write the final checkpoint.
	a.checkpointer.Start(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.hub.Run(gctx) })
	g.Go(func() error { return a.loop.Run(gctx) })
	g.Go(func() error { return a.svc.RunStatusPoll(gctx, a.cfg.StatusPollInterval) })
	g.Go(func() error {
		if err := a.srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	a.close()
	return err
}

// close drains state to storage and releases resources. A task in flight
// when ctx was cancelled has finished by now: the scheduler loop only
// returns between tasks.
func (a *App) close() {
	a.logger.Info("warecell shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	a.checkpointer.Drain(drainCtx)
	cancel()

	if err := a.limiter.Close(); err != nil {
		a.logger.Warn("rate limiter close", "error", err)
	}
	if err := a.otelShutdown(context.Background()); err != nil {
		a.logger.Warn("telemetry shutdown", "error", err)
	}
	a.store.Close(context.Background())
	a.logger.Info("warecell stopped")
}

// openStorage selects the backend from dsn: postgres:// or postgresql://
// for Postgres, sqlite:// or any other non-empty value as a SQLite file,
// empty for in-memory.
func openStorage(ctx context.Context, dsn string, logger *slog.Logger) (backend, error) {
	switch {
	case dsn == "":
		logger.Warn("DATABASE_URL not set; state is kept in memory and lost on restart")
		return memory.New(), nil

	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := storage.New(ctx, dsn, logger.With("component", "storage"))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.Postgres()); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("migrations: %w", err)
		}
		db.RegisterPoolMetrics()
		return db, nil

	default:
		path := strings.TrimPrefix(dsn, "sqlite://")
		db, err := sqlite.Open(ctx, path, logger.With("component", "storage"))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.SQLite()); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return db, nil
	}
}
