package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/panocam/internal/cache"
	"github.com/therealutkarshpriyadarshi/panocam/internal/config"
	"github.com/therealutkarshpriyadarshi/panocam/internal/database"
	"github.com/therealutkarshpriyadarshi/panocam/internal/engine"
	"github.com/therealutkarshpriyadarshi/panocam/internal/live"
	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/metrics"
	"github.com/therealutkarshpriyadarshi/panocam/internal/middleware"
	"github.com/therealutkarshpriyadarshi/panocam/internal/notify"
	"github.com/therealutkarshpriyadarshi/panocam/internal/probe"
	"github.com/therealutkarshpriyadarshi/panocam/internal/queue"
	"github.com/therealutkarshpriyadarshi/panocam/internal/recording"
	"github.com/therealutkarshpriyadarshi/panocam/internal/resolver"
	"github.com/therealutkarshpriyadarshi/panocam/internal/session"
	"github.com/therealutkarshpriyadarshi/panocam/internal/stitch"
	"github.com/therealutkarshpriyadarshi/panocam/internal/tracing"
	"github.com/therealutkarshpriyadarshi/panocam/internal/webhook"
	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logger = logger.WithComponent("api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("API server failed: %v", err)
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		return err
	}
	defer closer.Close()

	api := &API{
		logger:    logger,
		prober:    probe.NewFFprobe(cfg.Stitch.FFprobePath),
		defaults:  selectionFromConfig(cfg.Capture),
		stitchCfg: cfg.Stitch,
		checks:    make(map[string]func(context.Context) error),
	}
	sinks := []notify.Sink{notify.LogSink(logger)}

	if cfg.Webhook.URL != "" {
		sinks = append(sinks, webhook.NewService(webhook.Config{
			URL:    cfg.Webhook.URL,
			Secret: cfg.Webhook.Secret,
			Events: cfg.Webhook.Events,
		}))
	}

	// Initialize cache
	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer c.Close()
		sinks = append(sinks, notify.CacheSink(c, cfg.Redis.TTL))
		api.progress = c
		api.checks["redis"] = c.Ping
	}

	// Initialize database
	if cfg.Database.Enabled {
		db, err := database.New(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		repo := database.NewRepository(db)
		sinks = append(sinks, notify.MediaSink(repo))
		api.media = repo
		api.checks["database"] = db.Health
	}

	// Initialize queue
	if cfg.Queue.Enabled {
		q, err := queue.New(cfg.Queue, logger)
		if err != nil {
			return err
		}
		defer q.Close()
		api.jobs = q
		api.checks["queue"] = func(context.Context) error { return q.Ping() }
	}

	sim := engine.NewSimulator(engine.SimulatorConfig{
		Latency:         cfg.Engine.Latency,
		StitchStep:      cfg.Engine.StitchStep,
		StitchIncrement: cfg.Engine.StitchIncrement,
		WriteOutputs:    cfg.Engine.WriteOutputs,
	})
	hub := notify.NewHub(logger, sinks...)

	api.events = hub
	api.session = session.New(sim, hub, logger, session.Config{
		Resolver:  resolver.Resolver{Strict: cfg.Capture.StrictResolution},
		OutputDir: cfg.Capture.OutputDir,
	})
	api.recording = recording.New(api.session, sim, hub, logger, recording.Config{
		OutputDir: cfg.Capture.OutputDir,
	})
	api.live = live.New(api.session, sim, hub, logger, live.Config{
		URL:          cfg.Live.URL,
		Label:        models.ResolutionLabel(cfg.Live.Label),
		AspectRatio:  cfg.Live.Ratio,
		BitrateMbps:  cfg.Live.BitrateMbps,
		Record:       cfg.Live.Record,
		RecordDir:    cfg.Live.RecordDir,
		SplitMinutes: cfg.Live.SplitMinutes,
	})
	api.stitch = stitch.New(sim, api.session, hub, logger, stitch.Options{
		AutoAdvance: cfg.Stitch.AutoAdvance,
	})
	defer func() {
		api.recording.Close()
		api.live.Close()
		api.session.Close()
		sim.Close()
		hub.Close()
	}()

	if _, err := api.session.SelectMode(ctx, api.defaults); err != nil {
		logger.WithError(err).Warn("Initial mode selection failed")
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      setupRouter(api, cfg.Server, limiter, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Port, logger, func() error {
			if _, healthy := api.health(context.Background()); !healthy {
				return errors.New("dependency check failed")
			}
			return nil
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("Starting API server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if metricsSrv != nil {
		g.Go(metricsSrv.Start)
	}

	g.Go(func() error {
		return api.runFaults(gctx, sim.Faults())
	})

	if limiter != nil {
		g.Go(func() error {
			limiter.Cleanup(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.ErrorWithErr("Metrics server forced to shutdown", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
