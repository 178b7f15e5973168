// Upstream de validação manual: suba este servidor, aponte o gateway para ele
// (THROTTLE_UPSTREAM=http://localhost:8081) e confira quantas requisições
// realmente passaram pelo throttle.
package main

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	var hits atomic.Int64

	http.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição %d recebida com sucesso!</p>", n)
		logger.Info("request passed the throttle",
			zap.Int64("hits", n),
			zap.String("client", r.Header.Get("X-Forwarded-For")),
		)
	})
	http.HandleFunc("/hits", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%d\n", hits.Load())
	})

	logger.Info("upstream listening", zap.String("addr", "http://localhost:8081"))
	if err := http.ListenAndServe(":8081", nil); err != nil {
		logger.Fatal("upstream stopped", zap.Error(err))
	}
}
