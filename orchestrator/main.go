// The orchestrator service drives briefs through the agent pipeline:
// it owns run state, the versioned artifact log and the execution
// ledger, calls agent webhooks and receives their callbacks.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devflow-labs/devflow-go/internal/agentgw"
	"github.com/devflow-labs/devflow-go/internal/engine"
	"github.com/devflow-labs/devflow-go/internal/pipeline"
	"github.com/devflow-labs/devflow-go/internal/platform/auth"
	"github.com/devflow-labs/devflow-go/internal/platform/env"
	"github.com/devflow-labs/devflow-go/internal/platform/httpserver"
	"github.com/devflow-labs/devflow-go/internal/platform/objectstore"
	"github.com/devflow-labs/devflow-go/internal/platform/postgres"
	repopg "github.com/devflow-labs/devflow-go/internal/repo/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("DEVFLOW_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("DEVFLOW_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	waitTimeout, err := env.Duration("DEVFLOW_WAIT_TIMEOUT", 120*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	pollInterval, err := env.Duration("DEVFLOW_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	triggerTimeout, err := env.Duration("DEVFLOW_TRIGGER_TIMEOUT", 30*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	def := pipeline.Default()
	if path := env.String("DEVFLOW_PIPELINE_FILE", ""); path != "" {
		def, err = pipeline.LoadFile(path)
		if err != nil {
			logger.Error("invalid pipeline file", "path", path, "error", err)
			os.Exit(2)
		}
		logger.Info("pipeline definition loaded", "path", path, "steps", def.Len())
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := repopg.EnsureSchema(ctx, db); err != nil {
		logger.Error("schema init failed", "error", err)
		os.Exit(1)
	}

	runs := repopg.NewRunStore(db)
	artifacts := repopg.NewArtifactStore(db)
	executions := repopg.NewExecutionStore(db)
	agents := repopg.NewAgentStore(db)

	if err := agents.Reconcile(ctx, def.Steps()); err != nil {
		logger.Error("agent reconcile failed", "error", err)
		os.Exit(1)
	}

	var archiver engine.Archiver
	readiness := []httpserver.ReadinessCheck{
		{Name: "postgres", Check: func(ctx context.Context) error { return db.PingContext(ctx) }},
	}
	storeEnabled, err := env.Bool("DEVFLOW_OBJECT_STORE_ENABLED", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	if storeEnabled {
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		store, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		if err := objectstore.EnsureBucket(ctx, store, storeCfg); err != nil {
			logger.Error("bucket init failed", "error", err)
			os.Exit(1)
		}
		archiver = objectstore.NewArchiver(store, storeCfg)
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name:  "objectstore",
			Check: func(ctx context.Context) error { return objectstore.CheckBucket(ctx, store, storeCfg) },
		})
	}

	gateway := agentgw.NewClient(nil, agentgw.Config{
		APIKey:  env.String("DEVFLOW_AGENT_API_KEY", ""),
		Timeout: triggerTimeout,
	}, logger)

	eng, err := engine.New(def, engine.Deps{
		Runs:       runs,
		Artifacts:  artifacts,
		Executions: executions,
		Gateway:    gateway,
		Archiver:   archiver,
		Logger:     logger,
	}, engine.Config{
		WaitTimeout:   waitTimeout,
		PollInterval:  pollInterval,
		DefaultDomain: env.String("DEVFLOW_DEFAULT_DOMAIN", ""),
	})
	if err != nil {
		logger.Error("engine init failed", "error", err)
		os.Exit(1)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	var authenticator auth.Authenticator
	var oidcService *auth.OIDCService
	switch authCfg.Mode {
	case auth.ModeDev:
		authenticator = auth.NewDevAuthenticator(authCfg)
	case auth.ModeOIDC:
		svc, err := auth.NewOIDCService(ctx, authCfg)
		if err != nil {
			logger.Error("oidc init failed", "error", err)
			os.Exit(1)
		}
		oidcService = svc
		authenticator = svc
	case auth.ModeDisabled:
		authenticator = nil
	}

	api := newOrchestratorAPI(
		logger,
		eng,
		agents,
		artifacts,
		executions,
		db,
		env.String("DEVFLOW_CALLBACK_API_KEY", ""),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz("orchestrator"))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks("orchestrator", readiness...))

	apiMux := http.NewServeMux()
	api.register(apiMux)
	if oidcService != nil {
		login, err := oidcService.LoginHandler()
		if err != nil {
			logger.Error("oidc login handler init failed", "error", err)
			os.Exit(1)
		}
		callback, err := oidcService.CallbackHandler()
		if err != nil {
			logger.Error("oidc callback handler init failed", "error", err)
			os.Exit(1)
		}
		mux.HandleFunc("GET /auth/login", login)
		mux.HandleFunc("GET /auth/callback", callback)
	}

	var apiHandler http.Handler = apiMux
	if authenticator != nil {
		apiHandler = auth.Middleware{
			Logger:        logger,
			Authenticator: authenticator,
			SkipPrefixes:  []string{"/callbacks/"},
			EnforceRoles:  authCfg.EnforceRoles,
		}.Wrap(apiHandler)
	}
	mux.Handle("/", apiHandler)

	handler := httpserver.Wrap(logger, "orchestrator", mux)
	if err := httpserver.Run(ctx, logger, httpserver.Config{
		Service:         "orchestrator",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, handler); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}

	// Background step executions spawned by approve and reject finish
	// before shutdown completes.
	eng.Wait()
	logger.Info("orchestrator stopped")
}
