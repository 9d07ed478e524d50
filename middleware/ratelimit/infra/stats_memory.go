package infra

import (
	"context"
	"sync"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// Counters soma eventos por tipo de decisão.
type Counters map[domain.DecisionKind]int64

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byApp   map[domain.AppID]Counters

	trackApps bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackApps(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackApps = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		total:   make(Counters),
		byRoute: make(map[string]Counters),
		byApp:   make(map[domain.AppID]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total[ev.Kind]++
	incr(s.byRoute, route, ev.Kind)
	if s.trackApps {
		incr(s.byApp, ev.AppID, ev.Kind)
	}
	return nil
}

func incr[K comparable](m map[K]Counters, k K, kind domain.DecisionKind) {
	c := m[k]
	if c == nil {
		c = make(Counters)
		m[k] = c
	}
	c[kind]++
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCounters(s.total)
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = cloneCounters(v)
	}
	return out
}

func (s *MemoryStatsStore) ByApp() map[domain.AppID]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.AppID]Counters, len(s.byApp))
	for k, v := range s.byApp {
		out[k] = cloneCounters(v)
	}
	return out
}

func cloneCounters(c Counters) Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
