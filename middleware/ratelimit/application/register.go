package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// AppRegistry é um AppStore que também aceita registros.
type AppRegistry interface {
	domain.AppStore
	Put(ctx context.Context, cfg domain.AppConfig) error
}

// Register valida e normaliza o app, cria o RateLimitRecord inicial e só
// então publica a configuração no registry.
//
// Se o registro já existe (ex: Redis sobreviveu a um restart), os contadores
// atuais são mantidos.
func Register(ctx context.Context, apps AppRegistry, records domain.RecordStore, cfg domain.AppConfig, now time.Time, log *zap.Logger) (domain.AppConfig, error) {
	if log == nil {
		log = zap.NewNop()
	}

	strategy, err := domain.ParseStrategy(string(cfg.Strategy))
	if err != nil {
		log.Warn("unknown rate limit strategy, falling back to fixed window",
			zap.String("app_id", string(cfg.ID)), zap.String("strategy", string(cfg.Strategy)))
	}
	cfg.Strategy = strategy
	if cfg.BaseURL != "" && !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if err := cfg.Validate(); err != nil {
		return domain.AppConfig{}, err
	}

	if err := records.Create(ctx, domain.NewRecord(cfg, now)); err != nil && !errors.Is(err, domain.ErrConflict) {
		return domain.AppConfig{}, fmt.Errorf("create rate limit record for %s: %w", cfg.ID, err)
	}
	if err := apps.Put(ctx, cfg); err != nil {
		return domain.AppConfig{}, fmt.Errorf("register app %s: %w", cfg.ID, err)
	}

	log.Info("app registered",
		zap.String("app_id", string(cfg.ID)),
		zap.String("strategy", string(cfg.Strategy)),
		zap.Int("request_limit", cfg.RequestLimit),
		zap.Int64("time_window_ms", cfg.TimeWindowMs))
	return cfg, nil
}
