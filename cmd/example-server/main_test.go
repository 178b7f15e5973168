package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"throttle-gateway/middleware/throttle/domain"
	"throttle-gateway/middleware/throttle/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func do(h http.Handler, method, path, key string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "http://example"+path, nil)
	r.RemoteAddr = "10.0.0.7:4321"
	if key != "" {
		r.Header.Set("X-Api-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRouter_ThrottlesAndReportsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	h, err := newRouter(infra.NewSerializedManager(infra.NewLocalManager()), stats, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/", "k1").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodGet, "/", "k1").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/", "k2").Code)

	var codes []int
	for i := 0; i < 5; i++ {
		codes = append(codes, do(h, http.MethodPost, "/reindex", "").Code)
	}
	assert.Equal(t, []int{429, 429, 429, 429, 202}, codes)

	w := do(h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got statsView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, infra.Counters{Allowed: 3, Denied: 5}, got.Total)
	assert.Equal(t, infra.Counters{Allowed: 2, Denied: 1}, got.ByPolicy[domain.PolicyTime])
	assert.Equal(t, infra.Counters{Allowed: 1, Denied: 4}, got.ByPolicy[domain.PolicyCount])
	assert.Equal(t, infra.Counters{Allowed: 1, Denied: 4}, got.ByRoute["POST /reindex"])
}
