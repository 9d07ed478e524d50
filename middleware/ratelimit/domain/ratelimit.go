package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type AppID string

// Strategy é o algoritmo de limitação escolhido no registro do app.
type Strategy string

const (
	TokenBucket   Strategy = "token_bucket"
	FixedWindow   Strategy = "fixed_window"
	SlidingWindow Strategy = "sliding_window"
	LeakyBucket   Strategy = "leaky_bucket"
)

// MinTimeWindowMs é a menor janela aceita no registro (1 segundo).
const MinTimeWindowMs = 1000

// Known diz se a estratégia é uma das quatro suportadas.
func (s Strategy) Known() bool {
	switch s {
	case TokenBucket, FixedWindow, SlidingWindow, LeakyBucket:
		return true
	}
	return false
}

// Effective devolve a estratégia que de fato será avaliada.
// Valores desconhecidos caem para FixedWindow.
func (s Strategy) Effective() Strategy {
	if s.Known() {
		return s
	}
	return FixedWindow
}

// ParseStrategy normaliza o texto vindo de config. Um valor desconhecido
// retorna ErrValidation junto com a estratégia original, para o chamador
// decidir se aceita o fallback.
func ParseStrategy(v string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(v)))
	if s == "" {
		return TokenBucket, nil
	}
	if !s.Known() {
		return s, fmt.Errorf("%w: unknown strategy %q", ErrValidation, v)
	}
	return s, nil
}

// AppConfig é a visão imutável de um app registrado.
type AppConfig struct {
	ID           AppID    `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	BaseURL      string   `yaml:"base_url" json:"baseUrl"`
	Strategy     Strategy `yaml:"strategy" json:"rateLimitStrategy"`
	RequestLimit int      `yaml:"request_limit" json:"requestLimit"`
	TimeWindowMs int64    `yaml:"time_window_ms" json:"timeWindowMs"`
	Active       bool     `yaml:"-" json:"isActive"`
}

func (c AppConfig) Window() time.Duration {
	return time.Duration(c.TimeWindowMs) * time.Millisecond
}

// Validate checa os limites numéricos e a URL do backend.
// Estratégia desconhecida não é erro aqui: a avaliação usa FixedWindow.
func (c AppConfig) Validate() error {
	if strings.TrimSpace(string(c.ID)) == "" {
		return fmt.Errorf("%w: app id is required", ErrValidation)
	}
	if c.RequestLimit <= 0 {
		return fmt.Errorf("%w: request limit must be > 0, got %d", ErrValidation, c.RequestLimit)
	}
	if c.TimeWindowMs < MinTimeWindowMs {
		return fmt.Errorf("%w: time window must be >= %dms, got %d", ErrValidation, MinTimeWindowMs, c.TimeWindowMs)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid base url %q", ErrValidation, c.BaseURL)
	}
	return nil
}

// RateLimitRecord guarda os contadores de um app entre avaliações.
//
// CurrentCount é contagem bruta (janelas) ou nível do balde (leaky bucket).
// PreviousCount é a contagem final da janela anterior (sliding window).
// TokenBucket só tem significado para TokenBucket e fica em [0, RequestLimit].
// Version é o token de concorrência otimista usado pelo RecordStore.
type RateLimitRecord struct {
	AppID         AppID     `json:"appId"`
	CurrentCount  float64   `json:"currentCount"`
	PreviousCount float64   `json:"previousCount"`
	WindowStart   time.Time `json:"windowStartTime"`
	LastRequest   time.Time `json:"lastRequestTime"`
	ResetTime     time.Time `json:"resetTime"`
	TokenBucket   float64   `json:"tokenBucket"`
	Version       int64     `json:"version"`
}

// NewRecord cria o registro inicial de um app: balde de tokens cheio,
// contadores zerados e a primeira janela começando em now.
func NewRecord(cfg AppConfig, now time.Time) RateLimitRecord {
	rec := RateLimitRecord{
		AppID:       cfg.ID,
		WindowStart: now,
		LastRequest: now,
		ResetTime:   now.Add(cfg.Window()),
	}
	if cfg.Strategy.Effective() == TokenBucket {
		rec.TokenBucket = float64(cfg.RequestLimit)
	}
	return rec
}

// RateLimitStatus é o resultado de uma avaliação. Nunca é persistido.
type RateLimitStatus struct {
	Limit     int
	Remaining int
	// Reset em epoch seconds.
	Reset     int64
	IsLimited bool
	// ResetTime é o mesmo instante de Reset, sem truncar para segundos.
	ResetTime time.Time
}

// ResetAt devolve o instante de reset com a maior precisão disponível.
func (s RateLimitStatus) ResetAt() time.Time {
	if !s.ResetTime.IsZero() {
		return s.ResetTime
	}
	return time.Unix(s.Reset, 0)
}

// RetryAfterSeconds é o valor do corpo de resposta 429: reset - floor(now/1000).
func (s RateLimitStatus) RetryAfterSeconds(now time.Time) int64 {
	return s.Reset - now.Unix()
}

// RecordStore persiste o RateLimitRecord de cada app.
//
// Update é compare-and-swap pelo campo Version: se o registro mudou desde a
// leitura, retorna ErrConflict. Em caso de sucesso devolve o registro com a
// nova versão.
type RecordStore interface {
	Get(ctx context.Context, id AppID) (RateLimitRecord, error)
	Update(ctx context.Context, rec RateLimitRecord) (RateLimitRecord, error)
	Create(ctx context.Context, rec RateLimitRecord) error
}

// AppStore resolve a configuração de um app pelo id.
type AppStore interface {
	Lookup(ctx context.Context, id AppID) (AppConfig, error)
}
