// Package main is the shadowfetch server entry point: it wires config,
// logging, the proxy health manager, the shared browser lifecycle, the
// fetch engine, the job broker, and the HTTP surface together, then serves
// until SIGINT/SIGTERM or idle shutdown.
//
// Grounded on the teacher's captcha/cmd/captcha-server/main.go assembly
// order (config -> logger -> pool -> sessions -> handlers -> router ->
// signal-driven graceful shutdown), retargeted component-for-component at
// this service's dependency chain (SPEC_FULL §2's Proxy Health Manager ->
// Fingerprint Generator -> Content Extractor -> Fetch Engine -> Job Broker
// order) and extended with the teacher's idle-shutdown wiring from
// internal/shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shadowfetch/shadowfetch/internal/broker"
	"github.com/shadowfetch/shadowfetch/internal/browserlife"
	"github.com/shadowfetch/shadowfetch/internal/config"
	"github.com/shadowfetch/shadowfetch/internal/fetchengine"
	"github.com/shadowfetch/shadowfetch/internal/httpapi"
	"github.com/shadowfetch/shadowfetch/internal/logging"
	"github.com/shadowfetch/shadowfetch/internal/proxyhealth"
	"github.com/shadowfetch/shadowfetch/internal/session"
	"github.com/shadowfetch/shadowfetch/internal/shutdown"
	"github.com/shadowfetch/shadowfetch/internal/version"

	"net/http"
)

func main() {
	cfg := config.Load()

	logger, err := logging.SetDefault(logging.Options{
		LogLevel: cfg.LogLevel,
		LogPath:  cfg.StorageDir + "/scraper.log",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	logger.Info("starting shadowfetch server",
		"version", version.Get().Version,
		"port", cfg.Port,
		"max_concurrent_browsers", cfg.MaxConcurrentBrowsers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proxies, err := proxyhealth.LoadFile(cfg.ProxiesFile)
	if err != nil {
		logger.Warn("no proxies file loaded, proceeding without a proxy pool", "error", err, "path", cfg.ProxiesFile)
	}
	proxyMgr := proxyhealth.NewManager(proxies, cfg.ProxyStrategy, logger)

	sessions, err := session.NewManager(cfg.StorageDir, logger)
	if err != nil {
		logger.Error("failed to initialize session manager", "error", err)
		os.Exit(1)
	}

	browsers := browserlife.NewManager(browserlife.Config{
		MaxConcurrent:         cfg.MaxConcurrentBrowsers,
		MaxRequestsPerBrowser: cfg.MaxRequestsPerBrowser,
		ChromePath:            cfg.ChromePath,
	}, logger)
	defer browsers.Close()

	engine := fetchengine.New(browsers, proxyMgr, sessions, cfg.MinDomainDelay, logger)

	store, err := broker.OpenStore(cfg.DBPath())
	if err != nil {
		logger.Error("failed to open job store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	jobBroker := broker.New(store, engine, broker.Config{
		Concurrency:         cfg.MaxConcurrentBrowsers,
		MaxRetries:          cfg.MaxRetries,
		JobTTL:              cfg.JobTTL,
		ResumeAbandonedJobs: cfg.ResumeAbandonedJobs,
		GitHubRepo:          cfg.GitHubRepo,
	}, registry, logger)

	if err := jobBroker.Start(ctx); err != nil {
		logger.Error("failed to start job broker", "error", err)
		os.Exit(1)
	}
	defer jobBroker.Stop()

	idle := shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
		Timeout: cfg.IdleTimeout,
		Logger:  logger,
	})
	idle.Start()
	defer idle.Stop()

	router := httpapi.NewRouter(httpapi.Deps{
		Broker:             jobBroker,
		Browsers:           browsers,
		Logger:             logger,
		SyncTimeoutDefault: cfg.SyncTimeoutDefault,
		MaxSyncTimeout:     cfg.MaxSyncTimeout,
		ConcurrencyLimit:   cfg.MaxConcurrentBrowsers,
		Idle:               idle,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.MaxSyncTimeout + 60*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case <-idle.ShutdownChan():
		logger.Info("idle timeout reached")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
