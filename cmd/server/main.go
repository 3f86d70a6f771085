// Package main is the entry point for the wishlist sync server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/wishlist-sync/internal/changefeed"
	"github.com/vyrodovalexey/wishlist-sync/internal/config"
	"github.com/vyrodovalexey/wishlist-sync/internal/server"
	"github.com/vyrodovalexey/wishlist-sync/internal/store"
	"github.com/vyrodovalexey/wishlist-sync/internal/store/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		basicLogger, _ := zap.NewProduction()
		basicLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		basicLogger, _ := zap.NewProduction()
		basicLogger.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("configuration loaded",
		zap.Int("server_port", cfg.ServerPort),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("shutdown_timeout", cfg.ShutdownTimeout),
		zap.Bool("metrics_enabled", cfg.MetricsEnabled),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Int("feed_buffer_size", cfg.FeedBufferSize),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return 1
	}
	defer backend.close()

	srv := server.New(cfg, logger, backend.docs)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	if backend.background != nil {
		g.Go(func() error {
			return backend.background(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}

// backend is an opened document store plus whatever must run alongside it.
type backend struct {
	docs       store.Store
	background func(ctx context.Context) error
	close      func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	hubOpts := []changefeed.Option{changefeed.WithBufferSize(cfg.FeedBufferSize)}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if err := postgres.Migrate(ctx, cfg.Database.DSN); err != nil {
			return nil, err
		}

		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}

		hub := changefeed.NewHub(hubOpts...)
		listener := postgres.NewListener(pool, hub, logger.Named("listener"))

		logger.Info("using postgres store")
		return &backend{
			docs:       postgres.New(pool, hub),
			background: listener.Run,
			close:      pool.Close,
		}, nil
	case config.BackendMemory, "":
		logger.Info("using in-memory store")
		return &backend{
			docs:  store.NewMemoryStore(hubOpts...),
			close: func() {},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidStoreBackend, cfg.StoreBackend)
	}
}

// initLogger builds the JSON production logger at level, falling back to info.
func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapConfig.Build()
}
