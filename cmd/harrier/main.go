// Harrier - Telecom threat scoring and automated response.
// Copyright (c) 2026 telco-sentinel
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/telco-sentinel/harrier/internal/activity"
	"github.com/telco-sentinel/harrier/internal/api"
	"github.com/telco-sentinel/harrier/internal/bus"
	"github.com/telco-sentinel/harrier/internal/cache"
	"github.com/telco-sentinel/harrier/internal/domain"
	"github.com/telco-sentinel/harrier/internal/outlier"
	"github.com/telco-sentinel/harrier/internal/pipeline"
	"github.com/telco-sentinel/harrier/internal/policy"
	"github.com/telco-sentinel/harrier/internal/repository"
	"github.com/telco-sentinel/harrier/internal/scoring"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	// External inference endpoint (overrides tier default)
	if url := os.Getenv("HARRIER_INFERENCE_URL"); url != "" {
		cfg.Scoring.InferenceURL = url
		cfg.Scoring.ExternalEnabled = true
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"external_scoring", cfg.Scoring.ExternalEnabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Activity Service
	activitySvc := activity.NewService(repo, cacheImpl)
	slog.Info("activity service initialized")

	// Initialize Score Providers
	var external scoring.Provider
	if cfg.Scoring.InferenceURL != "" {
		external = scoring.NewInferenceClient(
			cfg.Scoring.InferenceURL,
			time.Duration(cfg.Scoring.InferenceTimeoutSecs)*time.Second,
		)
	}
	fallback := scoring.NewFallback(cfg.Scoring.FallbackSeed)
	selector := scoring.NewSelector(external, fallback, cfg.Scoring.ExternalEnabled)
	slog.Info("score providers initialized",
		"external_enabled", cfg.Scoring.ExternalEnabled && external != nil,
	)

	// Initialize Custom Policy Rules
	customRules, err := policy.NewCustomRules()
	if err != nil {
		slog.Error("failed to initialize custom policy rules", "error", err)
		os.Exit(1)
	}

	// Load custom rules from database (no hardcoded defaults - configure via API)
	if err := loadPoliciesFromDatabase(ctx, repo, customRules); err != nil {
		slog.Error("failed to load policy rules", "error", err)
		os.Exit(1)
	}
	slog.Info("policy rules loaded", "count", customRules.Count())

	// Initialize Policy Engine
	policyEngine := policy.NewEngine(repo, customRules)
	slog.Info("policy engine initialized")

	// Initialize Outlier Detector
	detector := outlier.NewDetector()

	// Initialize Pipeline
	pl := pipeline.New(repo, cacheImpl, busImpl, selector, policyEngine, activitySvc)
	slog.Info("pipeline initialized")

	// Initialize async Worker (Pro tier)
	var asyncWorker *pipeline.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("HARRIER_ASYNC_WORKER") == "true" {
		asyncWorker = pipeline.NewWorker(busImpl, pl)

		// Get tenant IDs to process (from environment or global default)
		var tenantIDs []string
		if envTenants := os.Getenv("HARRIER_TENANTS"); envTenants != "" {
			for _, t := range strings.Split(envTenants, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tenantIDs = append(tenantIDs, t)
				}
			}
		}

		workerCfg := pipeline.WorkerConfig{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, pl, detector, activitySvc, customRules, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// GlobalTenantID is used when rules should apply at startup for a
// single-tenant deployment.
const GlobalTenantID = "*"

// loadPoliciesFromDatabase loads custom policy rules into the engine.
// All custom rules must be configured via POST /policies - no hardcoded defaults.
func loadPoliciesFromDatabase(ctx context.Context, repo domain.Repository, customRules *policy.CustomRules) error {
	dbRules, err := repo.ListPolicyRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list policy rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading policy rules from database", "count", len(dbRules))
		return customRules.Load(dbRules)
	}

	slog.Info("no policy rules in database - configure via POST /policies")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 HARRIER                  ║")
	fmt.Println("  ║    Telecom Threat Scoring & Response      ║")
	fmt.Println("  ║       Eyes on every signal.               ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /events               - Score an event through the pipeline")
	fmt.Println("    POST /activity             - Ingest subscriber activity records")
	fmt.Println("    POST /outliers/scan        - Run the statistical outlier scan")
	fmt.Println("    GET  /threats              - List threats")
	fmt.Println("    GET  /threats/{id}         - Get threat by ID")
	fmt.Println("    POST /threats/{id}/status  - Update threat status")
	fmt.Println("    GET  /threats/{id}/actions - List actions for a threat")
	fmt.Println("    POST /actions              - Record a manual response action")
	fmt.Println("    GET  /config               - Get response configuration")
	fmt.Println("    PUT  /config               - Update response configuration")
	fmt.Println("    GET  /policies             - List custom policy rules")
	fmt.Println("    POST /policies             - Create a custom policy rule")
	fmt.Println("    POST /policies/reload      - Hot-reload policy rules")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println("    GET  /metrics              - Prometheus metrics")
	fmt.Println()
}
