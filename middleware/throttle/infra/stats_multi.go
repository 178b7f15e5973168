package infra

import (
	"context"

	"throttle-gateway/middleware/throttle/domain"
)

// MultiStatsStore repassa cada evento para todos os stores (nil é ignorado)
// e devolve o primeiro erro.
type MultiStatsStore []domain.StatsStore

func (m MultiStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
