package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type config struct {
	listenAddr string
	appEnv     string
	logLevel   string
	appsFile   string

	recordStore   string
	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string

	queueMaxSize       int
	queueTimeout       time.Duration
	drainPacing        time.Duration
	resetSlack         time.Duration
	forwardConcurrency int
	forwardTimeout     time.Duration
	concurrencyMax     int
	concurrencyTimeout time.Duration
	maxBodyBytes       int64

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackApps     bool
}

// profile guarda os padrões da fila que mudam por ambiente.
type profile struct {
	queueMaxSize int
	queueTimeout time.Duration
}

var profiles = map[string]profile{
	"development": {queueMaxSize: 500, queueTimeout: 60 * time.Second},
	"test":        {queueMaxSize: 100, queueTimeout: 5 * time.Second},
	"production":  {queueMaxSize: 5000, queueTimeout: 30 * time.Second},
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.appEnv = strings.ToLower(getenvDefault("APP_ENV", "development"))
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.appsFile = os.Getenv("APPS_FILE")

	prof, ok := profiles[cfg.appEnv]
	if !ok {
		return config{}, fmt.Errorf("APP_ENV must be one of development, test, production; got %q", cfg.appEnv)
	}

	cfg.recordStore = strings.ToLower(getenvDefault("RECORD_STORE", "memory"))
	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisPrefix = getenvDefault("REDIS_PREFIX", "ratelimit:record")

	cfg.queueMaxSize = getenvIntDefault("QUEUE_MAX_SIZE", prof.queueMaxSize)
	cfg.queueTimeout = getenvDurationDefault("QUEUE_TIMEOUT", prof.queueTimeout)
	cfg.drainPacing = getenvDurationDefault("DRAIN_PACING", 100*time.Millisecond)
	cfg.resetSlack = getenvDurationDefault("RESET_SLACK", 100*time.Millisecond)
	cfg.forwardConcurrency = getenvIntDefault("FORWARD_CONCURRENCY", 50)
	cfg.forwardTimeout = getenvDurationDefault("FORWARD_TIMEOUT", 30*time.Second)
	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)
	cfg.maxBodyBytes = getenvInt64Default("MAX_BODY_BYTES", 1<<20)

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsRedisAddr = os.Getenv("RATE_STATS_REDIS_ADDR")
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.rateStatsRedisDB = getenvIntDefault("RATE_STATS_REDIS_DB", 0)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackApps = getenvBoolDefault("RATE_STATS_TRACK_APPS", false)

	if strings.TrimSpace(cfg.appsFile) == "" {
		return config{}, errors.New("APPS_FILE is required")
	}
	switch cfg.recordStore {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.redisAddr) == "" {
			return config{}, errors.New("REDIS_ADDR is required when RECORD_STORE=redis")
		}
	default:
		return config{}, fmt.Errorf("RECORD_STORE must be memory or redis, got %q", cfg.recordStore)
	}
	if cfg.queueMaxSize <= 0 {
		return config{}, errors.New("QUEUE_MAX_SIZE must be > 0")
	}
	if cfg.queueTimeout <= 0 {
		return config{}, errors.New("QUEUE_TIMEOUT must be > 0")
	}
	if cfg.drainPacing < 0 {
		return config{}, errors.New("DRAIN_PACING must be >= 0")
	}
	if cfg.forwardConcurrency < 0 {
		return config{}, errors.New("FORWARD_CONCURRENCY must be >= 0")
	}
	if cfg.forwardTimeout <= 0 {
		return config{}, errors.New("FORWARD_TIMEOUT must be > 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.maxBodyBytes <= 0 {
		return config{}, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if _, err := zapcore.ParseLevel(cfg.logLevel); err != nil {
		return config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// newLogger usa o encoder de desenvolvimento (console, colorido) só em
// APP_ENV=development; nos outros ambientes, JSON.
func newLogger(cfg config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.appEnv == "development" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build(zap.Fields(zap.String("env", cfg.appEnv)))
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvInt64Default(k string, def int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
