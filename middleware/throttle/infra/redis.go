package infra

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"throttle-gateway/middleware/throttle/domain"

	"github.com/redis/go-redis/v9"
)

//go:embed throttle.lua
var throttleScriptSource string

// throttleScript roda via EVALSHA e cai para EVAL em NOSCRIPT (ex.: Redis reiniciado).
var throttleScript = redis.NewScript(throttleScriptSource)

const (
	fieldLastOpenedAt = "last_opened_at"
	fieldCounter      = "counter"
)

// EvalObserver recebe a latência e o resultado de cada execução do script.
type EvalObserver interface {
	ObserveEval(kind domain.PolicyKind, d time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveEval(domain.PolicyKind, time.Duration, error) {}

// RedisManager é a variante distribuída: o estado de cada nome fica num hash no
// Redis e toda a sequência ler/avaliar/gravar roda como um único script Lua.
// Chamadas concorrentes de qualquer processo no mesmo nome são linearizadas
// pelo Redis; não há lock no cliente nem laço de retry.
type RedisManager struct {
	rdb      redis.UniversalClient
	prefix   string
	timeout  time.Duration
	ttl      time.Duration
	now      domain.Clock
	observer EvalObserver
}

type RedisOption func(*RedisManager)

func WithPrefix(prefix string) RedisOption {
	return func(m *RedisManager) { m.prefix = prefix }
}

// WithTimeout limita cada chamada ao Redis (0 = só o contexto do chamador).
func WithTimeout(d time.Duration) RedisOption {
	return func(m *RedisManager) { m.timeout = d }
}

// WithTTL expira chaves ociosas (0 = nunca expira).
func WithTTL(d time.Duration) RedisOption {
	return func(m *RedisManager) { m.ttl = d }
}

func WithClock(c domain.Clock) RedisOption {
	return func(m *RedisManager) { m.now = c }
}

func WithObserver(o EvalObserver) RedisOption {
	return func(m *RedisManager) { m.observer = o }
}

func NewRedisManager(rdb redis.UniversalClient, opts ...RedisOption) (*RedisManager, error) {
	m := &RedisManager{
		rdb:      rdb,
		prefix:   "throttle:",
		timeout:  5 * time.Second,
		ttl:      24 * time.Hour,
		now:      time.Now,
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.rdb == nil {
		return nil, fmt.Errorf("%w: nil redis client", domain.ErrInvalidConfiguration)
	}
	if m.timeout < 0 || m.ttl < 0 {
		return nil, fmt.Errorf("%w: negative redis timeout or ttl", domain.ErrInvalidConfiguration)
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.observer == nil {
		m.observer = noopObserver{}
	}
	return m, nil
}

// Key devolve a chave Redis usada para o nome.
func (m *RedisManager) Key(name domain.Name) string {
	return m.prefix + string(name)
}

// CreateTimeBased implementa domain.Manager.
func (m *RedisManager) CreateTimeBased(name domain.Name, minInterval time.Duration) (domain.Throttle, error) {
	return m.create(name, domain.TimeBased(minInterval))
}

// CreateCountBased implementa domain.Manager.
func (m *RedisManager) CreateCountBased(name domain.Name, threshold int64) (domain.Throttle, error) {
	return m.create(name, domain.CountBased(threshold))
}

func (m *RedisManager) create(name domain.Name, p domain.Policy) (domain.Throttle, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &redisThrottle{m: m, name: name, policy: p}, nil
}

func (m *RedisManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.timeout)
}

// expiry é o TTL aplicado à chave: nunca menor que o intervalo da política
// time, senão a chave expira no meio do cooldown e a próxima chamada admite.
func (m *RedisManager) expiry(p domain.Policy) time.Duration {
	if m.ttl <= 0 || p.Kind != domain.PolicyTime {
		return m.ttl
	}
	return max(m.ttl, p.Interval())
}

// Inspect lê o estado atual do nome sem alterá-lo.
func (m *RedisManager) Inspect(ctx context.Context, name domain.Name) (domain.State, error) {
	if err := name.Validate(); err != nil {
		return domain.State{}, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	fields, err := m.rdb.HGetAll(ctx, m.Key(name)).Result()
	if err != nil {
		return domain.State{}, &domain.ConnectivityError{Name: name, Err: err}
	}
	return parseState(name, fields)
}

// Reset apaga o estado do nome; a próxima decisão parte do zero.
func (m *RedisManager) Reset(ctx context.Context, name domain.Name) error {
	if err := name.Validate(); err != nil {
		return err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if err := m.rdb.Del(ctx, m.Key(name)).Err(); err != nil {
		return &domain.ConnectivityError{Name: name, Err: err}
	}
	return nil
}

func parseState(name domain.Name, fields map[string]string) (domain.State, error) {
	var st domain.State
	if v, ok := fields[fieldLastOpenedAt]; ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.State{}, &domain.ConnectivityError{Name: name, Err: fmt.Errorf("bad %s: %w", fieldLastOpenedAt, err)}
		}
		st.LastOpenedAt = &ms
	}
	if v, ok := fields[fieldCounter]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.State{}, &domain.ConnectivityError{Name: name, Err: fmt.Errorf("bad %s: %w", fieldCounter, err)}
		}
		st.Counter = n
	}
	return st, nil
}

type redisThrottle struct {
	m      *RedisManager
	name   domain.Name
	policy domain.Policy
}

func (t *redisThrottle) Name() domain.Name     { return t.name }
func (t *redisThrottle) Policy() domain.Policy { return t.policy }

// Open executa o script atômico. Qualquer falha do Redis vira *ConnectivityError
// e nenhuma decisão é inventada.
func (t *redisThrottle) Open(ctx context.Context) (bool, error) {
	m := t.m
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := throttleScript.Run(ctx, m.rdb, []string{m.Key(t.name)},
		string(t.policy.Kind),             // ARGV[1]
		t.policy.Threshold,                // ARGV[2]
		m.now().UnixMilli(),               // ARGV[3]
		m.expiry(t.policy).Milliseconds(), // ARGV[4]
	).Int64Slice()
	if err == nil && len(res) != 2 {
		err = errors.New("invalid lua response format")
	}
	m.observer.ObserveEval(t.policy.Kind, time.Since(start), err)

	if err != nil {
		return false, &domain.ConnectivityError{Name: t.name, Err: err}
	}
	return res[0] == 1, nil
}
