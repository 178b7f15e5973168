package infra

import (
	"context"
	"sync"
	"time"

	"throttle-gateway/middleware/throttle/domain"
)

// LocalManager é a variante em memória: um State por nome, sem visibilidade
// entre processos.
//
// O mapa de nomes é protegido por mutex, mas a decisão sobre o State não é.
// Quem chama Open concorrentemente no mesmo nome precisa serializar por fora,
// por exemplo com NewSerializedManager.
type LocalManager struct {
	mu           sync.Mutex
	entries      map[domain.Name]*localEntry
	now          domain.Clock
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type localEntry struct {
	state    domain.State
	lastSeen time.Time
	// maior intervalo de política time visto no nome; a entrada não pode
	// sumir antes disso, senão a próxima chamada vira "primeira chamada".
	hold time.Duration
}

type LocalOption func(*LocalManager)

func WithLocalClock(c domain.Clock) LocalOption {
	return func(m *LocalManager) { m.now = c }
}

func WithIdleTTL(d time.Duration) LocalOption {
	return func(m *LocalManager) { m.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) LocalOption {
	return func(m *LocalManager) { m.cleanupEvery = d }
}

func NewLocalManager(opts ...LocalOption) *LocalManager {
	m := &LocalManager{
		entries:      make(map[domain.Name]*localEntry),
		now:          time.Now,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateTimeBased implementa domain.Manager.
func (m *LocalManager) CreateTimeBased(name domain.Name, minInterval time.Duration) (domain.Throttle, error) {
	return m.create(name, domain.TimeBased(minInterval))
}

// CreateCountBased implementa domain.Manager.
func (m *LocalManager) CreateCountBased(name domain.Name, threshold int64) (domain.Throttle, error) {
	return m.create(name, domain.CountBased(threshold))
}

func (m *LocalManager) create(name domain.Name, p domain.Policy) (domain.Throttle, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &localThrottle{m: m, name: name, policy: p}, nil
}

// entry devolve (criando se preciso) o registro do nome.
func (m *LocalManager) entry(name domain.Name, p domain.Policy, now time.Time) *localEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entries[name]
	if !ok {
		ent = &localEntry{}
		m.entries[name] = ent
	}
	ent.lastSeen = now
	if p.Kind == domain.PolicyTime && p.Interval() > ent.hold {
		ent.hold = p.Interval()
	}
	return ent
}

// Inspect devolve uma cópia do estado atual do nome.
func (m *LocalManager) Inspect(name domain.Name) (domain.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entries[name]
	if !ok {
		return domain.State{}, false
	}
	st := ent.state
	if st.LastOpenedAt != nil {
		v := *st.LastOpenedAt
		st.LastOpenedAt = &v
	}
	return st, true
}

// Reset esquece o estado do nome; a próxima decisão parte do zero.
func (m *LocalManager) Reset(name domain.Name) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, name)
}

func (m *LocalManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Cleanup remove nomes sem Open há mais de max(idleTTL, intervalo da política).
func (m *LocalManager) Cleanup() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, ent := range m.entries {
		if now.Sub(ent.lastSeen) > max(m.idleTTL, ent.hold) {
			delete(m.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa nomes inativos periodicamente.
// Pare cancelando o contexto.
func (m *LocalManager) StartJanitor(ctx context.Context) {
	if m.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(m.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Cleanup()
			}
		}
	}()
}

type localThrottle struct {
	m      *LocalManager
	name   domain.Name
	policy domain.Policy
}

func (t *localThrottle) Name() domain.Name     { return t.name }
func (t *localThrottle) Policy() domain.Policy { return t.policy }

// Open nunca falha: não há I/O na variante local.
func (t *localThrottle) Open(context.Context) (bool, error) {
	now := t.m.now()
	ent := t.m.entry(t.name, t.policy, now)
	return ent.state.Open(t.policy, now), nil
}
