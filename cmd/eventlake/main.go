// Eventlake server: exposes the HTTP API and runs the event log flusher
// and the contract sentinel over one execution engine.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cklose2000/eventlake/pkg/api"
	"github.com/cklose2000/eventlake/pkg/config"
	"github.com/cklose2000/eventlake/pkg/contract"
	"github.com/cklose2000/eventlake/pkg/dashboard"
	"github.com/cklose2000/eventlake/pkg/database"
	"github.com/cklose2000/eventlake/pkg/engine"
	"github.com/cklose2000/eventlake/pkg/eventlog"
	"github.com/cklose2000/eventlake/pkg/guard"
	"github.com/cklose2000/eventlake/pkg/metrics"
	"github.com/cklose2000/eventlake/pkg/planner"
	"github.com/cklose2000/eventlake/pkg/redact"
	"github.com/cklose2000/eventlake/pkg/services"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Execution engine
	eng, err := engine.NewPG(ctx, dbClient.DB(), cfg.Engine.StageDir)
	if err != nil {
		slog.Error("Failed to initialize execution engine", "error", err)
		os.Exit(1)
	}

	// 4. Event log client. Everything below records through it, so it
	// starts before the rest of the stack.
	eventLog, err := eventlog.NewClient(eng, redact.NewService(nil), eventlog.Config{
		SpoolDir:         cfg.Spool.Dir,
		SpoolMaxAge:      cfg.Spool.MaxAge,
		MaxBatch:         cfg.EventLog.MaxBatch,
		FlushInterval:    cfg.EventLog.FlushInterval,
		BreakerThreshold: cfg.EventLog.BreakerThreshold,
		BreakerWindow:    cfg.EventLog.BreakerWindow,
		RedactKeys:       cfg.EventLog.RedactKeys,
	})
	if err != nil {
		slog.Error("Failed to create event log client", "error", err)
		os.Exit(1)
	}
	if err := eventLog.Start(ctx); err != nil {
		slog.Error("Failed to start event log client", "error", err)
		os.Exit(1)
	}
	slog.Info("Event log client started", "spool_dir", cfg.Spool.Dir)

	m := metrics.New()
	recorder := metrics.NewInstrumentedRecorder(eventLog, m)

	// 5. Schema contract sentinel. A failed boot check in strict mode
	// means the engine does not match the catalog; refusing to start is
	// better than serving queries against a drifted schema.
	catalog, err := contract.Load()
	if err != nil {
		slog.Error("Failed to load schema catalog", "error", err)
		os.Exit(1)
	}
	sentinel := contract.NewSentinel(eng, catalog, recorder, cfg.Sentinel.Strict, cfg.Sentinel.Interval)
	report, err := sentinel.Start(ctx)
	if err != nil {
		slog.Error("Contract sentinel boot check failed", "error", err)
		os.Exit(1)
	}
	if !report.Passed {
		slog.Warn("Contract drift detected at boot",
			"issues", len(report.Issues), "warnings", len(report.Warnings), "strict", cfg.Sentinel.Strict)
		if cfg.Sentinel.Strict {
			for _, issue := range report.Issues {
				slog.Error("Contract issue", "issue", issue)
			}
			os.Exit(1)
		}
	}
	slog.Info("Contract sentinel started", "contract_version", catalog.Version, "interval", cfg.Sentinel.Interval)

	// 6. Planner. The LLM compile path is optional; the deterministic
	// regex path always runs behind it.
	var llm planner.Compiler
	if cfg.LLM.Enabled {
		apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
		if apiKey == "" {
			slog.Warn("LLM compile path enabled but API key is unset, using regex path only",
				"api_key_env", cfg.LLM.APIKeyEnv)
		} else {
			llm = planner.NewLLMCompiler(apiKey, cfg.LLM.Model, catalog)
			slog.Info("LLM compile path enabled", "model", cfg.LLM.Model)
		}
	}
	composer := planner.NewComposer(llm, planner.NewRegexCompiler(catalog), planner.NewValidator(catalog))

	// 7. Guarded executor and dashboard factory
	perms := services.NewPermissionService(dbClient.SQLX())
	executor := guard.NewExecutor(eng, catalog, perms, sentinel, recorder, guard.Config{
		Service: cfg.Deployment.Service,
		Env:     cfg.Deployment.Env,
		GitSHA:  cfg.Deployment.GitSHA,
	})
	versions := services.NewVersionService(dbClient.SQLX())
	factory := dashboard.NewFactory(eng, catalog, versions, recorder, 0)
	sessions := services.NewSessionService(dbClient.SQLX(), recorder)
	slog.Info("Services initialized")

	// 8. HTTP server
	server := api.NewServer(cfg, api.Dependencies{
		DB:       dbClient,
		EventLog: eventLog,
		Composer: composer,
		Executor: executor,
		Factory:  factory,
		Sessions: sessions,
		Sentinel: sentinel,
		Catalog:  catalog,
		Metrics:  m,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Eventlake started",
		"service", cfg.Deployment.Service,
		"env", cfg.Deployment.Env,
		"contract_version", catalog.Version)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting requests, then drain the
	// event log buffer to the engine or the spool before the process ends.
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	logCtx, logCancel := context.WithTimeout(ctx, 10*time.Second)
	defer logCancel()
	if err := eventLog.Shutdown(logCtx); err != nil {
		slog.Error("Event log drain failed, events remain in the spool", "error", err)
	}

	slog.Info("Shutdown complete")
}
