package infra

import (
	"context"
	"fmt"
	"os"
	"sync"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

// MemoryAppStore é o registry de apps em memória.
type MemoryAppStore struct {
	mu   sync.RWMutex
	apps map[domain.AppID]domain.AppConfig
}

func NewMemoryAppStore() *MemoryAppStore {
	return &MemoryAppStore{apps: make(map[domain.AppID]domain.AppConfig)}
}

func (s *MemoryAppStore) Lookup(_ context.Context, id domain.AppID) (domain.AppConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.apps[id]
	if !ok {
		return domain.AppConfig{}, fmt.Errorf("%w: app %s", domain.ErrNotFound, id)
	}
	return cfg, nil
}

func (s *MemoryAppStore) Put(_ context.Context, cfg domain.AppConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[cfg.ID] = cfg
	return nil
}

// AppsFile é o formato do arquivo de registro de apps:
//
//	apps:
//	  - id: weather
//	    base_url: https://api.example.com/
//	    strategy: token_bucket
//	    request_limit: 100
//	    time_window_ms: 60000
type AppsFile struct {
	Apps []appEntry `yaml:"apps"`
}

// appEntry existe para que `active` seja true quando omitido.
type appEntry struct {
	domain.AppConfig `yaml:",inline"`
	Active           *bool `yaml:"active"`
}

// LoadAppsFile lê o YAML de apps. A validação de cada app fica para o registro.
func LoadAppsFile(path string) ([]domain.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read apps file: %v", domain.ErrValidation, err)
	}

	var f AppsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse apps file: %v", domain.ErrValidation, err)
	}

	out := make([]domain.AppConfig, 0, len(f.Apps))
	seen := make(map[domain.AppID]bool, len(f.Apps))
	for _, e := range f.Apps {
		cfg := e.AppConfig
		cfg.Active = e.Active == nil || *e.Active
		if seen[cfg.ID] {
			return nil, fmt.Errorf("%w: duplicate app id %q", domain.ErrValidation, cfg.ID)
		}
		seen[cfg.ID] = true
		out = append(out, cfg)
	}
	return out, nil
}
