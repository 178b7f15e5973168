package infra

import (
	"context"
	"sync"

	"throttle-gateway/middleware/throttle/domain"
)

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// addN soma n ao campo nomeado ("allowed" | "denied"); outros nomes são ignorados.
func (c *Counters) addN(field string, n int64) {
	switch field {
	case "allowed":
		c.Allowed += n
	case "denied":
		c.Denied += n
	}
}

// MemoryStatsStore é uma implementação simples em memória, usada pelo
// example-server para expor /stats sem depender de Redis.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byRoute  map[string]Counters
	byName   map[domain.Name]Counters
	byPolicy map[domain.PolicyKind]Counters

	trackNames bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackNames(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackNames = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute:  make(map[string]Counters),
		byName:   make(map[domain.Name]Counters),
		byPolicy: make(map[domain.PolicyKind]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)

	if ev.Method != "" || ev.Path != "" {
		route := ev.Method + " " + ev.Path
		c := s.byRoute[route]
		c.add(ev.Allowed)
		s.byRoute[route] = c
	}
	if ev.Policy != "" {
		c := s.byPolicy[ev.Policy]
		c.add(ev.Allowed)
		s.byPolicy[ev.Policy] = c
	}
	if s.trackNames {
		c := s.byName[ev.Name]
		c.add(ev.Allowed)
		s.byName[ev.Name] = c
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByName() map[domain.Name]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Name]Counters, len(s.byName))
	for k, v := range s.byName {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByPolicy() map[domain.PolicyKind]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.PolicyKind]Counters, len(s.byPolicy))
	for k, v := range s.byPolicy {
		out[k] = v
	}
	return out
}
