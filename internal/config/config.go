package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/skysift/tempo-data-quality/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	ArtifactDir     string
	CacheDBPath     string
	LockPath        string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Pipeline tuning.
	CellSizeDeg      float64
	ChunkSize        int // streaming decode chunk, points
	OutputChunkSize  int // points per published chunk file
	RetentionHorizon time.Duration
	LockStaleAfter   time.Duration
	RunInterval      time.Duration
	RunOnce          bool

	// Optional explicit quality tier; empty means automatic cascade.
	RequestedTier domain.QualityTier

	// Kafka result sink configuration.
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	horizon, err := parseDuration("RETENTION_HORIZON", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	lockStale, err := parseDuration("LOCK_STALE_AFTER", 2*time.Hour)
	if err != nil {
		return nil, err
	}
	runInterval, err := parseDuration("RUN_INTERVAL", 3*time.Hour)
	if err != nil {
		return nil, err
	}

	chunkSize, err := parseInt("CHUNK_SIZE", 10000, 1, 1_000_000)
	if err != nil {
		return nil, err
	}
	outputChunkSize, err := parseInt("OUTPUT_CHUNK_SIZE", 50000, 1, 10_000_000)
	if err != nil {
		return nil, err
	}

	cellSize, err := parseFloat("CELL_SIZE_DEG", 1.0)
	if err != nil {
		return nil, err
	}
	if cellSize <= 0 || cellSize > 90 {
		return nil, errors.New("CELL_SIZE_DEG must be in (0, 90]")
	}

	var tier domain.QualityTier
	if s := os.Getenv("QUALITY_TIER"); s != "" {
		tier, err = domain.ParseTier(s)
		if err != nil {
			return nil, fmt.Errorf("QUALITY_TIER: %w", err)
		}
	}

	artifactDir := envOrDefault("ARTIFACT_DIR", "output")

	brokers := parseBrokers(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		ArtifactDir:      artifactDir,
		CacheDBPath:      envOrDefault("CACHE_DB_PATH", filepath.Join(artifactDir, ".cache", "index.db")),
		LockPath:         envOrDefault("LOCK_PATH", filepath.Join(artifactDir, ".pipeline.lock")),
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		CellSizeDeg:      cellSize,
		ChunkSize:        chunkSize,
		OutputChunkSize:  outputChunkSize,
		RetentionHorizon: horizon,
		LockStaleAfter:   lockStale,
		RunInterval:      runInterval,
		RunOnce:          os.Getenv("RUN_ONCE") == "true",
		RequestedTier:    tier,
		KafkaEnabled:     kafkaEnabled,
		KafkaBrokers:     brokers,
		KafkaSinkTopic:   envOrDefault("KAFKA_SINK_TOPIC", "quality-results"),
	}

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, min, max int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("%s must be an integer in [%d, %d]", key, min, max)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}
