package infra

import (
	"context"
	"sync"
	"time"

	"throttle-gateway/middleware/throttle/domain"
)

// SerializedManager envolve um domain.Manager e garante que, dentro deste
// processo, no máximo um Open por nome executa de cada vez.
//
// É o que torna o LocalManager seguro atrás de um servidor HTTP. Os locks
// são contados por referência e somem quando ninguém mais espera pelo nome.
type SerializedManager struct {
	next domain.Manager

	mu    sync.Mutex
	locks map[domain.Name]*nameLock
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

func NewSerializedManager(next domain.Manager) *SerializedManager {
	return &SerializedManager{
		next:  next,
		locks: make(map[domain.Name]*nameLock),
	}
}

// CreateTimeBased implementa domain.Manager.
func (m *SerializedManager) CreateTimeBased(name domain.Name, minInterval time.Duration) (domain.Throttle, error) {
	t, err := m.next.CreateTimeBased(name, minInterval)
	if err != nil {
		return nil, err
	}
	return &serializedThrottle{m: m, next: t}, nil
}

// CreateCountBased implementa domain.Manager.
func (m *SerializedManager) CreateCountBased(name domain.Name, threshold int64) (domain.Throttle, error) {
	t, err := m.next.CreateCountBased(name, threshold)
	if err != nil {
		return nil, err
	}
	return &serializedThrottle{m: m, next: t}, nil
}

// Pending devolve quantos nomes têm Open em andamento ou aguardando.
func (m *SerializedManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *SerializedManager) acquire(name domain.Name) *nameLock {
	m.mu.Lock()
	l, ok := m.locks[name]
	if !ok {
		l = &nameLock{}
		m.locks[name] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return l
}

func (m *SerializedManager) release(name domain.Name, l *nameLock) {
	l.mu.Unlock()

	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, name)
	}
	m.mu.Unlock()
}

type serializedThrottle struct {
	m    *SerializedManager
	next domain.Throttle
}

func (t *serializedThrottle) Name() domain.Name     { return t.next.Name() }
func (t *serializedThrottle) Policy() domain.Policy { return t.next.Policy() }

func (t *serializedThrottle) Open(ctx context.Context) (bool, error) {
	name := t.next.Name()
	l := t.m.acquire(name)
	defer t.m.release(name, l)
	return t.next.Open(ctx)
}
