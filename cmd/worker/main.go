package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/panocam/internal/cache"
	"github.com/therealutkarshpriyadarshi/panocam/internal/config"
	"github.com/therealutkarshpriyadarshi/panocam/internal/database"
	"github.com/therealutkarshpriyadarshi/panocam/internal/engine"
	"github.com/therealutkarshpriyadarshi/panocam/internal/logging"
	"github.com/therealutkarshpriyadarshi/panocam/internal/metrics"
	"github.com/therealutkarshpriyadarshi/panocam/internal/notify"
	"github.com/therealutkarshpriyadarshi/panocam/internal/probe"
	"github.com/therealutkarshpriyadarshi/panocam/internal/queue"
	"github.com/therealutkarshpriyadarshi/panocam/internal/stitch"
	"github.com/therealutkarshpriyadarshi/panocam/internal/storage"
	"github.com/therealutkarshpriyadarshi/panocam/internal/tracing"
	"github.com/therealutkarshpriyadarshi/panocam/internal/webhook"
)

// stitchFlag satisfies stitch.Session for a process without a capture session
type stitchFlag struct{}

func (stitchFlag) SetStitching(bool) {}

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
	logger = logger.WithComponent("worker")

	// Handle shutdown gracefully
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("Worker failed: %v", err)
	}
	logger.Info("Worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if !cfg.Queue.Enabled {
		return errors.New("worker requires queue.enabled")
	}

	_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName+"-worker", cfg.Tracing.Endpoint)
	if err != nil {
		return err
	}
	defer closer.Close()

	w := NewWorker(logger, probe.NewFFprobe(cfg.Stitch.FFprobePath))
	w.timeout = cfg.Stitch.JobTimeout
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
		w.locks = c
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
		w.store = repo
	}

	// Initialize storage
	if cfg.Storage.Enabled && cfg.Stitch.Archive {
		stor, err := storage.New(cfg.Storage)
		if err != nil {
			return err
		}
		w.archive = stor
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	sim := engine.NewSimulator(engine.SimulatorConfig{
		Latency:         cfg.Engine.Latency,
		StitchStep:      cfg.Engine.StitchStep,
		StitchIncrement: cfg.Engine.StitchIncrement,
		WriteOutputs:    cfg.Engine.WriteOutputs,
	})
	hub := notify.NewHub(logger, sinks...)
	defer func() {
		sim.Close()
		hub.Close()
	}()

	w.queue = stitch.New(sim, stitchFlag{}, hub, logger, stitch.Options{
		AutoAdvance: cfg.Stitch.AutoAdvance,
		OnFinished:  w.finished,
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		metricsSrv := metrics.NewServer(cfg.Metrics.Port, logger, q.Ping)
		g.Go(metricsSrv.Start)
		g.Go(func() error {
			<-gctx.Done()
			return metricsSrv.Shutdown(context.Background())
		})
	}

	g.Go(func() error {
		if err := q.ConsumeJobs(gctx, w.ProcessJob); err != nil {
			return err
		}
		logger.Info("Worker started, waiting for jobs...")
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}
