package application

import (
	"context"
	"errors"
	"time"

	"throttle-gateway/middleware/throttle/domain"
)

// Service concentra a regra de aplicação em volta de um Throttle.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// O throttle nunca escolhe fail-open/fail-closed; quem escolhe é o Service,
// por configuração (FailOpen).
type Service struct {
	Stats domain.StatsStore
	// RetryAfter fixo para negações. Se 0, usa o intervalo da política por tempo
	// ou 1s para a política por contagem.
	RetryAfter time.Duration
	FailOpen   bool
	Now        domain.Clock
}

// Decide chama Open e traduz o resultado.
//
// Em erro de conectividade devolve o erro junto com uma Decision degradada
// (Allowed = FailOpen). Outros erros são devolvidos sem decisão.
func (s Service) Decide(ctx context.Context, t domain.Throttle, ev domain.StatsEvent) (domain.Decision, error) {
	if t == nil {
		return domain.Decision{Allowed: true}, nil
	}

	ok, err := t.Open(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrConnectivity) {
			return domain.Decision{Allowed: s.FailOpen, Degraded: true}, err
		}
		return domain.Decision{}, err
	}

	s.record(ctx, t, ev, ok)

	if ok {
		return domain.Decision{Allowed: true}, nil
	}
	return domain.Decision{Allowed: false, RetryAfter: s.retryAfter(t.Policy())}, nil
}

func (s Service) retryAfter(p domain.Policy) time.Duration {
	if s.RetryAfter > 0 {
		return s.RetryAfter
	}
	if p.Kind == domain.PolicyTime && p.Threshold > 0 {
		return p.Interval()
	}
	return 1 * time.Second
}

func (s Service) record(ctx context.Context, t domain.Throttle, ev domain.StatsEvent, allowed bool) {
	if s.Stats == nil {
		return
	}
	ev.Name = t.Name()
	ev.Policy = t.Policy().Kind
	ev.Allowed = allowed
	if ev.At.IsZero() {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		ev.At = now()
	}
	_ = s.Stats.Record(ctx, ev)
}
