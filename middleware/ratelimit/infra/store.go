package infra

import (
	"sync"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// PacerStore é uma implementação de domain.PacerStore baseada em x/time/rate:
// um limiter por app com uma vaga a cada `interval`, com cache por app e
// limpeza periódica de apps ociosos.
type PacerStore struct {
	mu           sync.Mutex
	entries      map[domain.AppID]*pacerEntry
	every        rate.Limit
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type pacerEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type PacerOption func(*PacerStore)

func WithIdleTTL(d time.Duration) PacerOption {
	return func(s *PacerStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) PacerOption {
	return func(s *PacerStore) { s.cleanupEvery = d }
}

// NewPacerStore cria o store. interval <= 0 desliga o espaçamento.
func NewPacerStore(interval time.Duration, opts ...PacerOption) *PacerStore {
	every := rate.Inf
	if interval > 0 {
		every = rate.Every(interval)
	}
	s := &PacerStore{
		entries:      make(map[domain.AppID]*pacerEntry),
		every:        every,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PacerStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Get implementa domain.PacerStore.
func (s *PacerStore) Get(id domain.AppID) domain.Pacer {
	return ratePacer{lim: s.limiter(id)}
}

func (s *PacerStore) limiter(id domain.AppID) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[id]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(s.every, 1)
	s.entries[id] = &pacerEntry{lim: lim, lastSeen: now}
	return lim
}

func (s *PacerStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa apps inativos periodicamente.
// Pare cancelando o contexto.
func (s *PacerStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
type DoneContext interface {
	Done() <-chan struct{}
}

type ratePacer struct {
	lim *rate.Limiter
}

// Reserve consome a próxima vaga do limiter. Com burst 1 a reserva sempre é
// possível; o atraso é o tempo até ela valer.
func (p ratePacer) Reserve(now time.Time) time.Duration {
	return p.lim.ReserveN(now, 1).DelayFrom(now)
}
