package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldworks-labs/protocol-hub/internal/platform/auditlog"
	"github.com/fieldworks-labs/protocol-hub/internal/platform/auth"
	"github.com/fieldworks-labs/protocol-hub/internal/platform/env"
	"github.com/fieldworks-labs/protocol-hub/internal/platform/httpserver"
	"github.com/fieldworks-labs/protocol-hub/internal/platform/objectstore"
	"github.com/fieldworks-labs/protocol-hub/internal/platform/postgres"
	"github.com/fieldworks-labs/protocol-hub/internal/repo"
	repopg "github.com/fieldworks-labs/protocol-hub/internal/repo/postgres"
	"github.com/fieldworks-labs/protocol-hub/internal/repo/upstream"
	"github.com/fieldworks-labs/protocol-hub/internal/service/protocols"
)

const serviceName = "protocol-api"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("PROTOCOL_API_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("PROTOCOL_API_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	// Postgres always backs API keys and the audit log, even when protocol
	// data comes from the upstream adapter.
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

	protocolRepo, err := buildProtocolRepository(ctx, db)
	if err != nil {
		logger.Error("invalid repository config", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, err := buildAuthenticator(ctx, authCfg, db)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))

	readinessChecks := []httpserver.ReadinessCheck{{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return db.PingContext(checkCtx)
		},
	}}

	auditReads, err := env.Bool("PROTOCOL_AUDIT_SNAPSHOT_READS", true)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	var auditDB auditlog.QueryRower
	if auditReads {
		auditDB = db
	}

	api := newProtocolAPI(logger, protocols.New(protocolRepo), auditDB)

	attachmentsEnabled, err := env.Bool("PROTOCOL_ATTACHMENTS_ENABLED", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	if attachmentsEnabled {
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		storeClient, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		presignTTL, err := env.Duration("PROTOCOL_ATTACHMENT_PRESIGN_TTL", 10*time.Minute)
		if err != nil {
			logger.Error("invalid env", "error", err)
			os.Exit(2)
		}
		api = api.withAttachmentStore(storeClient, storeCfg, presignTTL)

		readinessChecks = append(readinessChecks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBucket(checkCtx, storeClient, storeCfg)
			},
		})
	}

	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, readinessChecks...))
	api.register(mux)

	authMiddleware := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			return auditlog.InsertAuthDeny(ctx, db, serviceName, event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}

	handler := httpserver.Wrap(logger, serviceName, authMiddleware.Wrap(mux))
	if err := httpserver.Run(ctx, logger, httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, handler); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

// buildProtocolRepository selects the swappable backend: the local postgres
// reference implementation or the upstream remote adapter.
func buildProtocolRepository(ctx context.Context, db repopg.DB) (repo.ProtocolRepository, error) {
	backend := env.String("PROTOCOL_REPO_BACKEND", "postgres")
	switch backend {
	case "postgres":
		return repopg.NewProtocolStore(db), nil
	case "upstream":
		cfg, err := upstream.LoadConfig(env.String("UPSTREAM_CONFIG_PATH", ""))
		if err != nil {
			return nil, err
		}
		return upstream.New(ctx, cfg)
	default:
		return nil, fmt.Errorf("PROTOCOL_REPO_BACKEND must be postgres or upstream (got %q)", backend)
	}
}

func buildAuthenticator(ctx context.Context, cfg auth.Config, db auth.QueryRower) (auth.Authenticator, error) {
	switch cfg.Mode {
	case auth.ModeAPIKey:
		return auth.NewAPIKeyAuthenticator(db)
	case auth.ModeOIDC:
		return auth.NewOIDCAuthenticator(ctx, cfg)
	case auth.ModeDev:
		return auth.DevAuthenticator{TenantID: cfg.DevTenantID}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
}
