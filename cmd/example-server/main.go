package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ratelimit-gateway/middleware/ratelimit"
	"ratelimit-gateway/middleware/ratelimit/application"
	"ratelimit-gateway/middleware/ratelimit/domain"
	"ratelimit-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

// Backend de exemplo para testar o gateway localmente:
//
//	GET  /echo/...          devolve método, caminho, query e headers recebidos
//	GET  /slow?ms=500       responde depois do atraso pedido
//	GET  /status/{code}     responde com o status pedido
//	GET  /local/demo/...    o mesmo /echo, mas com o middleware de rate limit
//	                        embutido (sem proxy e sem fila: limitado vira 429)
func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	local, err := localLimiter(ctx, "http://localhost"+addr+"/", logger)
	if err != nil {
		logger.Fatal("register local app", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/echo/", echo)
	mux.HandleFunc("GET /slow", slow)
	mux.HandleFunc("GET /status/{code}", status)
	mux.Handle("/local/", ratelimit.Middleware(ratelimit.Options{
		Checker: local,
		AppIDFn: ratelimit.PathAppID("/local/"),
		Logger:  logger,
	})(http.HandlerFunc(echo)))

	srv := &http.Server{
		Addr:              addr,
		Handler:           ratelimit.RequestLogger(logger)(mux),
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

// localLimiter registra o app "demo": 5 requisições a cada 10s, token bucket.
func localLimiter(ctx context.Context, baseURL string, logger *zap.Logger) (*application.Service, error) {
	apps := infra.NewMemoryAppStore()
	records := infra.NewMemoryRecordStore()
	_, err := application.Register(ctx, apps, records, domain.AppConfig{
		ID:           "demo",
		Name:         "local demo",
		BaseURL:      baseURL,
		Strategy:     domain.TokenBucket,
		RequestLimit: 5,
		TimeWindowMs: 10000,
		Active:       true,
	}, time.Now(), logger)
	if err != nil {
		return nil, err
	}
	return &application.Service{Apps: apps, Records: records, Logger: logger}, nil
}

func echo(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"method":     r.Method,
		"path":       r.URL.Path,
		"query":      r.URL.Query(),
		"headers":    r.Header,
		"body":       string(body),
		"receivedAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func slow(w http.ResponseWriter, r *http.Request) {
	ms, _ := strconv.Atoi(r.URL.Query().Get("ms"))
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-r.Context().Done():
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}

func status(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 100 || code > 599 {
		http.Error(w, "invalid status code", http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
}
