package throttle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"throttle-gateway/middleware/throttle/domain"
	"throttle-gateway/middleware/throttle/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func serve(h http.Handler, key string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example/showTela", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if key != "" {
		r.Header.Set("X-Api-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func mustMiddleware(t *testing.T, opts Options, next http.Handler) http.Handler {
	t.Helper()
	mw, err := Middleware(opts)
	require.NoError(t, err)
	return mw(next)
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func TestMiddleware_TimeBasedAllowsThenRejectsSameKey(t *testing.T) {
	calls := 0
	h := mustMiddleware(t, Options{
		Manager:            infra.NewLocalManager(),
		Policy:             domain.TimeBased(time.Hour),
		NamePrefix:         "ip:",
		RetryAfter:         1 * time.Second,
		AddThrottleHeaders: true,
	}, okHandler(&calls))

	// 1) primeira passa
	w1 := serve(h, "")
	require.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, "ip:10.0.0.1", w1.Header().Get("X-Throttle-Name"))
	assert.Equal(t, "time", w1.Header().Get("X-Throttle-Policy"))
	assert.Equal(t, "3600000", w1.Header().Get("X-Throttle-Threshold"))

	// 2) segunda deve bloquear (intervalo de 1h)
	w2 := serve(h, "")
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Equal(t, "1", w2.Header().Get("Retry-After"))

	assert.Equal(t, 1, calls)
}

func TestMiddleware_CountBasedAdmitsEveryThirdCall(t *testing.T) {
	calls := 0
	h := mustMiddleware(t, Options{
		Manager: infra.NewLocalManager(),
		Policy:  domain.CountBased(1),
	}, okHandler(&calls))

	var codes []int
	for i := 0; i < 6; i++ {
		codes = append(codes, serve(h, "").Code)
	}
	assert.Equal(t, []int{429, 429, 200, 429, 429, 200}, codes)
	assert.Equal(t, 2, calls)
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	calls := 0
	h := mustMiddleware(t, Options{
		Manager:   infra.NewLocalManager(),
		Policy:    domain.TimeBased(time.Hour),
		KeyHeader: "X-Api-Key",
	}, okHandler(&calls))

	// duas chaves diferentes => ambos devem passar (cada chave tem seu próprio estado)
	require.Equal(t, http.StatusOK, serve(h, "k1").Code)
	require.Equal(t, http.StatusOK, serve(h, "k2").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(h, "k1").Code)
}

func TestMiddleware_RetryAfterUsesSeconds(t *testing.T) {
	calls := 0
	h := mustMiddleware(t, Options{
		Manager:    infra.NewLocalManager(),
		Policy:     domain.TimeBased(time.Hour),
		RetryAfter: 2500 * time.Millisecond,
	}, okHandler(&calls))

	require.Equal(t, http.StatusOK, serve(h, "").Code)
	w2 := serve(h, "")
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
	// int(2.5s.Seconds()) == 2
	assert.Equal(t, "2", strings.TrimSpace(w2.Header().Get("Retry-After")))
}

func TestMiddleware_RecordsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore(infra.WithTrackNames(true))
	calls := 0
	h := mustMiddleware(t, Options{
		Manager: infra.NewLocalManager(),
		Policy:  domain.TimeBased(time.Hour),
		Stats:   stats,
	}, okHandler(&calls))

	serve(h, "")
	serve(h, "")

	assert.Equal(t, infra.Counters{Allowed: 1, Denied: 1}, stats.Total())
	assert.Equal(t, infra.Counters{Allowed: 1, Denied: 1}, stats.ByRoute()["GET /showTela"])
	assert.Equal(t, infra.Counters{Allowed: 1, Denied: 1}, stats.ByName()["10.0.0.1"])
}

func TestMiddleware_InvalidConfiguration(t *testing.T) {
	_, err := Middleware(Options{Policy: domain.CountBased(1)})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = Middleware(Options{Manager: infra.NewLocalManager(), Policy: domain.CountBased(-1)})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestMiddleware_EmptyNameIsServerError(t *testing.T) {
	calls := 0
	h := mustMiddleware(t, Options{
		Manager: infra.NewLocalManager(),
		Policy:  domain.CountBased(0),
		KeyFn:   func(*http.Request) string { return "" },
	}, okHandler(&calls))

	assert.Equal(t, http.StatusInternalServerError, serve(h, "").Code)
	assert.Zero(t, calls)
}

func newBrokenRedisManager(t *testing.T) domain.Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	m, err := infra.NewRedisManager(rdb, infra.WithTimeout(100*time.Millisecond))
	require.NoError(t, err)
	mr.Close()
	return m
}

func TestMiddleware_StoreDownFailClosed(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	calls := 0
	h := mustMiddleware(t, Options{
		Manager: newBrokenRedisManager(t),
		Policy:  domain.TimeBased(time.Second),
		Logger:  zap.New(core),
	}, okHandler(&calls))

	assert.Equal(t, http.StatusServiceUnavailable, serve(h, "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, "").Code)
	assert.Zero(t, calls)

	// logs amostrados: só a primeira falha dentro do intervalo aparece
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "throttle decision unresolved", entry.Message)
	assert.Equal(t, "10.0.0.1", entry.ContextMap()["throttle"])
}

func TestMiddleware_StoreDownFailOpen(t *testing.T) {
	calls := 0
	h := mustMiddleware(t, Options{
		Manager:  newBrokenRedisManager(t),
		Policy:   domain.CountBased(5),
		FailOpen: true,
	}, okHandler(&calls))

	assert.Equal(t, http.StatusOK, serve(h, "").Code)
	assert.Equal(t, 1, calls)
}

type erroringManager struct{}

type erroringThrottle struct{ name domain.Name }

func (erroringManager) CreateTimeBased(n domain.Name, _ time.Duration) (domain.Throttle, error) {
	return erroringThrottle{name: n}, nil
}

func (erroringManager) CreateCountBased(n domain.Name, _ int64) (domain.Throttle, error) {
	return erroringThrottle{name: n}, nil
}

func (e erroringThrottle) Open(context.Context) (bool, error) { return false, errors.New("bug") }
func (e erroringThrottle) Name() domain.Name                  { return e.name }
func (e erroringThrottle) Policy() domain.Policy              { return domain.CountBased(0) }

func TestMiddleware_UnexpectedErrorNeverFailsOpen(t *testing.T) {
	calls := 0
	h := mustMiddleware(t, Options{
		Manager:  erroringManager{},
		Policy:   domain.CountBased(0),
		FailOpen: true,
	}, okHandler(&calls))

	assert.Equal(t, http.StatusServiceUnavailable, serve(h, "").Code)
	assert.Zero(t, calls)
}

func TestMiddleware_ConcurrentRequestsLocalSerialized(t *testing.T) {
	var passed atomic.Int64
	h := mustMiddleware(t, Options{
		Manager:    infra.NewSerializedManager(infra.NewLocalManager()),
		Policy:     domain.CountBased(3),
		NamePrefix: "reindex:",
		KeyFn:      func(*http.Request) string { return "global" },
	}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		passed.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))

	const workers, perWorker = 10, 50
	var rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if serve(h, "").Code == http.StatusTooManyRequests {
					rejected.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	// threshold 3 => período 5
	assert.Equal(t, int64(workers*perWorker/5), passed.Load())
	assert.Equal(t, int64(workers*perWorker)-passed.Load(), rejected.Load())
}
