package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-relay/circuitbreaker"
	"chat-relay/config"
	"chat-relay/logger"
	"chat-relay/metrics"
	"chat-relay/proxy"
	"chat-relay/store"
)

func main() {
	fmt.Println(GetBuildInfo())
	fmt.Println()

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	obsLogger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer obsLogger.Close()

	obsLogger.Info(logger.ComponentConfig, logger.CategoryRequest, "", "Chat relay configuration loaded", map[string]interface{}{
		"port":               cfg.Port,
		"upstream_endpoints": len(cfg.UpstreamEndpoints),
		"upstream_api_key":   cfg.MaskedAPIKey(),
		"upstream_timeout":   cfg.UpstreamTimeout.String(),
		"block_marker":       cfg.BlockMarker,
		"history_limit":      cfg.HistoryLimit,
		"bots":               len(cfg.Bots),
		"transcript_db":      cfg.TranscriptDB,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	relayMetrics := metrics.New(registry)

	transcripts, err := openStore(cfg)
	if err != nil {
		obsLogger.Error(logger.ComponentPersistence, logger.CategoryError, "", "Failed to open transcript store", map[string]interface{}{"error": err.Error()})
		log.Fatalf("Failed to open transcript store: %v", err)
	}
	defer transcripts.Close()

	pool, err := store.NewPool(store.PoolConfig{
		Store:      transcripts,
		NumWorkers: cfg.PersistWorkers,
		QueueSize:  cfg.PersistQueueSize,
		Logger:     obsLogger,
		Failures:   relayMetrics.PersistFailures,
	})
	if err != nil {
		log.Fatalf("Failed to start persistence pool: %v", err)
	}

	health := circuitbreaker.NewHealthManager(cfg.CircuitBreaker, obsLogger)
	relay, err := proxy.NewRelay(proxy.RelayConfig{
		Endpoints:    circuitbreaker.NewRotation(cfg.UpstreamEndpoints, health),
		Health:       health,
		APIKey:       cfg.UpstreamAPIKey,
		BlockMarker:  cfg.BlockMarker,
		Timeout:      cfg.UpstreamTimeout,
		HistoryLimit: cfg.HistoryLimit,
		History:      transcripts,
		Persister:    pool,
		Logger:       obsLogger,
		Metrics:      relayMetrics,
	})
	if err != nil {
		log.Fatalf("Failed to create relay: %v", err)
	}

	mux := http.NewServeMux()
	proxy.NewHandler(cfg, relay, transcripts, health, obsLogger).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", handleRoot)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: streams are bounded by the upstream timeout.
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		obsLogger.Info(logger.ComponentHTTP, logger.CategoryRequest, "", "Chat relay started", map[string]interface{}{
			"address":  fmt.Sprintf("http://localhost:%s", cfg.Port),
			"endpoint": fmt.Sprintf("http://localhost:%s/api/v1/chat/stream", cfg.Port),
			"version":  GetVersionInfo(),
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obsLogger.Error(logger.ComponentHTTP, logger.CategoryError, "", "Server failed to start", map[string]interface{}{"error": err.Error()})
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	obsLogger.Info(logger.ComponentHTTP, logger.CategoryRequest, "", "Shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.UpstreamTimeout+5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		obsLogger.Warn(logger.ComponentHTTP, logger.CategoryWarning, "", "Graceful shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	pool.Close()
}

func newLogger(cfg *config.Config) (*logger.ObservabilityLogger, error) {
	level := logger.ParseLevel(cfg.LogLevel)
	if cfg.LogDir == "" {
		return logger.New(os.Stdout, level), nil
	}
	return logger.NewObservabilityLogger(cfg.LogDir, level)
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.TranscriptDB == "" {
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(cfg.TranscriptDB)
}

// handleRoot provides basic information about the relay
func handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{
	"service": "Chat Relay",
	"version": %q,
	"status": "running",
	"endpoints": [
		"POST /api/v1/chat/stream - Streamed chat answer (server-sent events)",
		"POST /api/v1/markup/repair - Balance and extract a markup buffer",
		"GET /api/v1/sessions/{id}/messages - Stored transcript of a session",
		"GET /health - Health check with upstream endpoint status",
		"GET /metrics - Prometheus metrics"
	]
}`, Version)
}
