package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/checkin/internal/checkin"
	"github.com/playperu/checkin/internal/config"
	"github.com/playperu/checkin/internal/connectivity"
	"github.com/playperu/checkin/internal/database"
	"github.com/playperu/checkin/internal/handler/health"
	"github.com/playperu/checkin/internal/localstore"
	"github.com/playperu/checkin/internal/migrations"
	"github.com/playperu/checkin/internal/notify"
	"github.com/playperu/checkin/internal/reconcile"
	"github.com/playperu/checkin/internal/remote"
	"github.com/playperu/checkin/internal/scan"
	"github.com/playperu/checkin/internal/server"
	"github.com/playperu/checkin/internal/snapshot"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer, stdin io.Reader) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- Local store ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	local := localstore.New(db)

	deviceID, err := local.DeviceID(ctx, cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("resolving device id: %w", err)
	}
	logger = logger.With("device_id", deviceID)
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	// --- Remote store ---
	backend, closeRemote, err := openRemote(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to remote store: %w", err)
	}
	defer closeRemote()
	logger.Info("remote store configured", "backend", cfg.RemoteBackend)

	if cfg.SeedFile != "" {
		if err := seedRemote(ctx, backend, cfg.SeedFile); err != nil {
			return err
		}
		logger.Info("remote store seeded", "file", cfg.SeedFile)
	}
	rs := remote.WithTimeout(backend, cfg.RemoteTimeout)

	// --- Events ---
	var publisher notify.Publisher = notify.Nop{}
	if cfg.AMQPURL != "" {
		p, err := notify.NewAMQPPublisher(logger, cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("connecting to amqp: %w", err)
		}
		defer p.Close()
		publisher = p
		logger.Info("publishing redemption events", "exchange", cfg.AMQPExchange)
	}

	// --- Engine ---
	monitor := connectivity.NewMonitor(logger, false)
	prober := connectivity.NewProber(logger, monitor, rs, cfg.ProbeInterval)
	loader := snapshot.NewLoader(logger, rs, local)
	processor := scan.NewProcessor(logger, local, deviceID)
	reconciler := reconcile.New(logger, local, rs, monitor, publisher, cfg.RemoteRate)

	// Start from the freshest snapshot we can get; an offline start keeps
	// the stored one.
	if prober.Probe(ctx) {
		if _, err := loader.Refresh(ctx); err != nil {
			logger.Warn("initial snapshot refresh failed, using stored snapshot", "error", err)
		}
	} else {
		logger.Warn("remote store unreachable at startup, working offline")
	}

	api := server.NewAPI(logger, server.Deps{
		Local:      local,
		Processor:  processor,
		Loader:     loader,
		Reconciler: reconciler,
		Monitor:    monitor,
	})

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, map[string]health.Checker{
			"sqlite": health.CheckFunc(local.Ping),
			"remote": health.CheckFunc(rs.Ping),
		}, "remote").Routes())
		r.Mount("/api", api.Routes())
	})

	if cfg.ScanStdin {
		// Not part of the group: a blocked stdin read must not hold up
		// shutdown.
		go func() {
			err := scan.Feed(ctx, stdin, processor, func(raw string, out checkin.ScanOutcome, err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: scan not registered, scan again\n", raw)
					return
				}
				fmt.Fprintf(os.Stderr, "%s: %s\n", raw, out.Kind)
			})
			if err != nil {
				logger.Error("stdin scan feed stopped", "error", err)
			}
		}()
	}

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	g.Go(func() error {
		return prober.Run(gctx)
	})

	g.Go(func() error {
		return reconciler.Run(gctx, cfg.SyncInterval)
	})

	return g.Wait()
}

func openRemote(ctx context.Context, cfg *config.Config) (remote.Store, func(), error) {
	switch cfg.RemoteBackend {
	case "mongo":
		s, err := remote.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close(context.Background()) }, nil
	case "redis":
		s, err := remote.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return remote.NewMemoryStore(), func() {}, nil
	}
}

func seedRemote(ctx context.Context, s remote.Store, path string) error {
	seeder, ok := s.(remote.Seeder)
	if !ok {
		return fmt.Errorf("remote backend cannot be seeded")
	}
	groups, err := remote.LoadSeed(path)
	if err != nil {
		return fmt.Errorf("loading seed file: %w", err)
	}
	if err := remote.Seed(ctx, seeder, groups); err != nil {
		return fmt.Errorf("seeding remote store: %w", err)
	}
	return nil
}
