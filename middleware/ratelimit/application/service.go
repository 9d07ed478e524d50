package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas avalia e persiste.
// A leitura-modificação-escrita do registro de cada app é serializada por um
// mutex por app; o Version do RecordStore cobre o que escapar disso (outro
// processo, por exemplo) com uma única nova tentativa.
//
// Use sempre por ponteiro.
type Service struct {
	Apps    domain.AppStore
	Records domain.RecordStore
	Logger  *zap.Logger
	Now     func() time.Time

	// OnWindowReset é chamado, fora de qualquer lock, quando uma avaliação
	// reinicia a janela do app. O gateway liga aqui o drain da fila.
	OnWindowReset func(domain.AppID)

	locks sync.Map // domain.AppID -> *sync.Mutex
}

// Check avalia uma requisição para o app e persiste o registro atualizado.
func (s *Service) Check(ctx context.Context, id domain.AppID) (domain.AppConfig, domain.RateLimitStatus, error) {
	cfg, err := s.Apps.Lookup(ctx, id)
	if err != nil {
		return domain.AppConfig{}, domain.RateLimitStatus{}, err
	}
	if !cfg.Active {
		return domain.AppConfig{}, domain.RateLimitStatus{}, fmt.Errorf("%w: app %s is inactive", domain.ErrNotFound, id)
	}

	ev, err := s.evaluate(ctx, cfg)
	if err != nil {
		return cfg, domain.RateLimitStatus{}, err
	}
	if ev.WindowReset && s.OnWindowReset != nil {
		s.OnWindowReset(id)
	}
	return cfg, ev.Status, nil
}

func (s *Service) evaluate(ctx context.Context, cfg domain.AppConfig) (Evaluation, error) {
	mu := s.lockFor(cfg.ID)
	mu.Lock()
	defer mu.Unlock()

	ev, err := s.evaluateOnce(ctx, cfg)
	if errors.Is(err, domain.ErrConflict) {
		s.logger().Debug("rate limit record changed underneath, retrying", zap.String("app_id", string(cfg.ID)))
		ev, err = s.evaluateOnce(ctx, cfg)
	}
	return ev, err
}

func (s *Service) evaluateOnce(ctx context.Context, cfg domain.AppConfig) (Evaluation, error) {
	rec, err := s.Records.Get(ctx, cfg.ID)
	if err != nil {
		return Evaluation{}, fmt.Errorf("load rate limit record for %s: %w", cfg.ID, err)
	}

	ev := Evaluate(cfg, rec, s.now())

	updated, err := s.Records.Update(ctx, ev.Record)
	if err != nil {
		return Evaluation{}, fmt.Errorf("store rate limit record for %s: %w", cfg.ID, err)
	}
	ev.Record = updated
	return ev, nil
}

func (s *Service) lockFor(id domain.AppID) *sync.Mutex {
	if mu, ok := s.locks.Load(id); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
