package domain

// Camada de domínio do throttle.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http nem do store.

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Name identifica um recurso lógico. É a chave tanto do registro em memória
// quanto da chave no store compartilhado.
type Name string

func (n Name) Validate() error {
	if strings.TrimSpace(string(n)) == "" {
		return fmt.Errorf("%w: empty throttle name", ErrInvalidConfiguration)
	}
	return nil
}

type Clock func() time.Time

// State é o mínimo persistido por nome.
//
// Counter volta a 0 exatamente quando há admissão; LastOpenedAt (ms desde epoch)
// só muda na admissão. nil significa "nunca admitido".
type State struct {
	LastOpenedAt *int64
	Counter      int64
}

// Open aplica a política sobre o estado e devolve a decisão (true = admitido).
//
// PolicyTime: admite se now-LastOpenedAt >= threshold (infinito quando nunca abriu).
// PolicyCount: admite se Counter > threshold; o período fica threshold+2 chamadas.
// Em qualquer negação só o contador é incrementado.
func (s *State) Open(p Policy, now time.Time) bool {
	nowMs := now.UnixMilli()

	var open bool
	switch p.Kind {
	case PolicyTime:
		open = s.LastOpenedAt == nil || nowMs-*s.LastOpenedAt >= p.Threshold
	case PolicyCount:
		open = s.Counter > p.Threshold
	}

	if open {
		s.LastOpenedAt = &nowMs
		s.Counter = 0
		return true
	}
	s.Counter++
	return false
}

// LastOpened devolve LastOpenedAt como time.Time (zero se nunca abriu).
func (s State) LastOpened() time.Time {
	if s.LastOpenedAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*s.LastOpenedAt)
}

// Throttle decide se um evento pode seguir agora.
//
// Cada chamada de Open altera o estado como efeito colateral. Implementações
// locais nunca retornam erro; as distribuídas retornam *ConnectivityError quando
// o store não responde, e nesse caso a decisão fica em aberto.
type Throttle interface {
	Open(ctx context.Context) (bool, error)
	Name() Name
	Policy() Policy
}

// Manager é a fábrica de throttles. Não precisa memoizar instâncias:
// quem precisar de uma instância compartilhada guarda a própria referência.
type Manager interface {
	CreateTimeBased(name Name, minInterval time.Duration) (Throttle, error)
	CreateCountBased(name Name, threshold int64) (Throttle, error)
}

// Create despacha para o construtor certo do Manager conforme o tipo da política.
func Create(m Manager, name Name, p Policy) (Throttle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Kind == PolicyTime {
		return m.CreateTimeBased(name, p.Interval())
	}
	return m.CreateCountBased(name, p.Threshold)
}

type Decision struct {
	Allowed bool
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	// Degraded indica que o store falhou e Allowed veio da política fail-open/closed
	// do chamador, não do throttle.
	Degraded bool
}
