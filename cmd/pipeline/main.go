package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/skysift/tempo-data-quality/internal/adapter/http"
	kafkaadapter "github.com/skysift/tempo-data-quality/internal/adapter/kafka"
	"github.com/skysift/tempo-data-quality/internal/artifact"
	"github.com/skysift/tempo-data-quality/internal/cache"
	"github.com/skysift/tempo-data-quality/internal/config"
	"github.com/skysift/tempo-data-quality/internal/observability"
	"github.com/skysift/tempo-data-quality/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clk := clockwork.NewRealClock()

	source, err := artifact.NewStore(cfg.ArtifactDir)
	if err != nil {
		logger.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}
	chunks, err := source.Sub("chunks")
	if err != nil {
		logger.Error("failed to open chunk store", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.CacheDBPath), 0o755); err != nil {
		logger.Error("failed to create cache dir", "error", err)
		os.Exit(1)
	}
	cacheStore, err := cache.Open(cfg.CacheDBPath, clk)
	if err != nil {
		logger.Error("failed to open cache store", "error", err)
		os.Exit(1)
	}
	defer cacheStore.Close()

	lock := artifact.NewRunLock(cfg.LockPath, cfg.LockStaleAfter, clk)

	var sink pipeline.ResultSink
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		sink = writer
		logger.Info("kafka result sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	} else {
		logger.Info("kafka result sink disabled")
	}

	p := pipeline.New(source, chunks, cacheStore, lock, sink, logger, metrics, clk, pipeline.Options{
		CellSize:        cfg.CellSizeDeg,
		ChunkSize:       cfg.ChunkSize,
		OutputChunkSize: cfg.OutputChunkSize,
		Horizon:         cfg.RetentionHorizon,
		RequestedTier:   cfg.RequestedTier,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p.Catalog(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if cfg.RunOnce {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline run failed", "error", err)
		}
		stop()
	} else {
		go func() {
			if err := p.RunLoop(ctx, cfg.RunInterval); err != nil {
				logger.Error("pipeline loop error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
