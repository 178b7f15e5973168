package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"throttle-gateway/middleware/throttle/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Deve passar com -race: cada goroutine cria o throttle por chamada, como o middleware faz.
func TestSerializedManager_ConcurrentLocalOpens(t *testing.T) {
	m := NewSerializedManager(NewLocalManager())

	const workers, calls = 16, 50
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				th, err := domain.Create(m, "reindex:global", domain.CountBased(2))
				if !assert.NoError(t, err) {
					return
				}
				ok, err := th.Open(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				if ok {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*calls/4), admitted.Load())
	assert.Equal(t, 0, m.Pending())
}

func TestSerializedManager_DelegatesValidation(t *testing.T) {
	m := NewSerializedManager(NewLocalManager())

	_, err := m.CreateCountBased("", 1)
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	_, err = m.CreateTimeBased("x", -time.Second)
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	th, err := m.CreateTimeBased("x", time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.Name("x"), th.Name())
	assert.Equal(t, domain.TimeBased(time.Second), th.Policy())
	assert.Equal(t, []bool{true, false}, openN(t, th, 2))
}

func TestSerializedManager_ForwardsErrors(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.Close()
	inner, err := NewRedisManager(rdb, WithTimeout(100*time.Millisecond))
	require.NoError(t, err)
	m := NewSerializedManager(inner)

	th, err := m.CreateCountBased("down", 0)
	require.NoError(t, err)
	ok, err := th.Open(context.Background())
	assert.False(t, ok)
	require.ErrorIs(t, err, domain.ErrConnectivity)
	assert.Equal(t, 0, m.Pending())
}
