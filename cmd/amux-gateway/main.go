// Package main is the entry point for the amux gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amux/gateway/internal/adapter"
	"github.com/amux/gateway/internal/auth"
	"github.com/amux/gateway/internal/bridgecache"
	"github.com/amux/gateway/internal/config"
	"github.com/amux/gateway/internal/gatewayhttp"
	"github.com/amux/gateway/internal/logsink"
	"github.com/amux/gateway/internal/mapping"
	"github.com/amux/gateway/internal/metrics"
	"github.com/amux/gateway/internal/resolver"
	"github.com/amux/gateway/internal/secret"
	"github.com/amux/gateway/internal/store/memstore"
)

// stdoutLogWriter flushes buffered request log records with the stdlib
// logger. A real deployment would swap this for a database-backed
// store.Store's sibling writer.
type stdoutLogWriter struct{}

func (stdoutLogWriter) WriteBatch(records []logsink.Record) error {
	for _, r := range records {
		log.Printf("request proxy=%q model=%s->%s status=%d latency=%dms err=%q",
			r.ProxyID, r.SourceModel, r.TargetModel, r.Status, r.LatencyMs, r.Error)
	}
	return nil
}

func main() {
	path := "config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	settings := cfg.Settings()
	st := memstore.New(settings)
	st.LoadProviders(cfg.StoreProviders())
	st.LoadProxies(cfg.StoreProxies())
	st.LoadConversionMappings(cfg.StoreConversionMappings())
	st.LoadCodeSwitchMappings(cfg.StoreCodeSwitchMappings())
	st.LoadPlatformKeys(cfg.StorePlatformKeys())

	var decryptor secret.Decryptor = secret.NoOp{}
	if pass := os.Getenv("AMUX_SECRET_PASSPHRASE"); pass != "" {
		decryptor = secret.New(pass)
	}

	adapters := adapter.NewRegistry()
	bridgeCache := bridgecache.New(bridgecache.DefaultMaxSize)
	mappingEngine := mapping.New(st)
	res := resolver.New(st)
	authGate := auth.New(st)
	metricsSink := metrics.New()

	logs := logsink.New(stdoutLogWriter{}, settings.LogsEnabled, settings.LogsMaxBodySize)

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewPromCollector(metricsSink))
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	deps := gatewayhttp.Deps{
		Store:       st,
		Adapters:    adapters,
		BridgeCache: bridgeCache,
		Resolver:    res,
		Mapping:     mappingEngine,
		Auth:        authGate,
		Metrics:     metricsSink,
		Logs:        logs,
		Secrets:     decryptor,
		HTTPClient:  http.DefaultClient,
	}

	addr := fmt.Sprintf("%s:%d", settings.ProxyHost, settings.ProxyPort)
	srv := gatewayhttp.NewServer(addr, deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("failed to start gateway: %v", err)
	}

	// The /metrics endpoint lives on its own stdlib mux rather than inside
	// the route engine, mirroring eugener-gandalf's split between the
	// request router and an operator-facing telemetry listener.
	metricsAddr := ":9528"
	go func() {
		if err := http.ListenAndServe(metricsAddr, nil); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics listener error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", metricsAddr)

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	logs.Stop()
}
