package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"throttle-gateway/middleware/throttle"
	"throttle-gateway/middleware/throttle/domain"
	"throttle-gateway/middleware/throttle/infra"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy)
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	local := infra.NewLocalManager()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	local.StartJanitor(ctx)

	// o middleware chama Open de várias goroutines; o wrapper serializa por nome
	mgr := infra.NewSerializedManager(local)

	r, err := newRouter(mgr, infra.NewMemoryStatsStore(), logger)
	if err != nil {
		logger.Fatal("throttle setup", zap.Error(err))
	}

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newRouter(mgr domain.Manager, stats *infra.MemoryStatsStore, logger *zap.Logger) (http.Handler, error) {
	// no máximo 1 requisição a cada 500ms por chave
	perClient, err := throttle.Middleware(throttle.Options{
		Manager:            mgr,
		Policy:             domain.TimeBased(500 * time.Millisecond),
		NamePrefix:         "api:",
		Stats:              stats,
		KeyHeader:          "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor: true,
		AddThrottleHeaders: true,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	// reprocessamento caro: só 1 a cada 5 tentativas (threshold 3 => período 5)
	reindex, err := throttle.Middleware(throttle.Options{
		Manager:    mgr,
		Policy:     domain.CountBased(3),
		NamePrefix: "reindex:",
		Stats:      stats,
		KeyFn:      func(*http.Request) string { return "global" },
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer)
	r.With(perClient).Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.With(reindex).Post("/reindex", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("reindex scheduled\n"))
	})
	r.Get("/stats", statsHandler(stats))
	return r, nil
}

type statsView struct {
	Total    infra.Counters                       `json:"total"`
	ByRoute  map[string]infra.Counters            `json:"byRoute"`
	ByPolicy map[domain.PolicyKind]infra.Counters `json:"byPolicy"`
}

func statsHandler(stats *infra.MemoryStatsStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statsView{
			Total:    stats.Total(),
			ByRoute:  stats.ByRoute(),
			ByPolicy: stats.ByPolicy(),
		})
	}
}
