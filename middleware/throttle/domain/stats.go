package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão de throttle.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas
// e podem ser usadas para web, consumidores de fila, etc.
//
// Observação: cuidado com cardinalidade (ex.: salvar Name/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Name    Name
	Policy  PolicyKind
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do throttle.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// O chamador trata erro como best-effort (não derruba a decisão).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
