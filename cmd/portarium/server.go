package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq" // Postgres Driver

	"github.com/portarium/core/pkg/auth"
	"github.com/portarium/core/pkg/authz"
	"github.com/portarium/core/pkg/cache"
	"github.com/portarium/core/pkg/commands"
	"github.com/portarium/core/pkg/config"
	"github.com/portarium/core/pkg/events"
	"github.com/portarium/core/pkg/evidence"
	"github.com/portarium/core/pkg/evidence/worm"
	"github.com/portarium/core/pkg/idempotency"
	"github.com/portarium/core/pkg/observability"
	"github.com/portarium/core/pkg/orchestrator"
	"github.com/portarium/core/pkg/policy"
	"github.com/portarium/core/pkg/primitives"
	"github.com/portarium/core/pkg/projection"
	"github.com/portarium/core/pkg/ratelimit"
	"github.com/portarium/core/pkg/workflows"
)

// offloadThreshold is the canonical payload size, in bytes, above which
// evidence payloads move to the WORM store.
const offloadThreshold = 8 * 1024

func runServer() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "portarium-core",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		log.Fatalf("observability: %v", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := initSchemas(ctx, db, cfg); err != nil {
		log.Fatalf("init schemas: %v", err)
	}

	signer, err := newSigner(cfg)
	if err != nil {
		log.Fatalf("evidence signer: %v", err)
	}

	ledgerOpts := []evidence.Option{evidence.WithSigner(signer)}
	if cfg.EvidencePayloadBackend != "inline" {
		payloads, wormErr := worm.NewStoreFromEnv(ctx)
		if wormErr != nil {
			log.Fatalf("evidence payload store: %v", wormErr)
		}
		ledgerOpts = append(ledgerOpts, evidence.WithPayloadOffload(payloads, offloadThreshold))
	}
	ledger := evidence.NewLedger(evidence.NewSQLStore(db), ledgerOpts...)

	var (
		queryCache cache.Cache
		limiter    ratelimit.Limiter
		idemStore  idempotency.Store
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		queryCache = cache.NewRedisCache(client, "portarium")
		limiter = ratelimit.NewRedisLimiter(client)
		idemStore = idempotency.NewRedisStore(client, cfg.IdempotencyTTL)
	} else {
		queryCache = cache.NewMemoryCache()
		limiter = ratelimit.NewMemoryLimiter()
		idemStore = idempotency.NewPostgresStore(db, cfg.IdempotencyTTL)
	}

	engine, err := policy.NewEngine()
	if err != nil {
		log.Fatalf("policy engine: %v", err)
	}

	table := authz.DefaultTable()
	if cfg.RolesFile != "" {
		loaded, tblErr := authz.LoadTable(cfg.RolesFile)
		if tblErr != nil {
			log.Fatalf("role table: %v", tblErr)
		}
		table = loaded
		logger.Info("role table loaded", "path", cfg.RolesFile)
	}
	rules := defaultRules()
	var guards commands.GuardSource
	if cfg.Profile != "" {
		profile, profErr := config.LoadProfile(cfg.ProfilesDir, cfg.Profile)
		if profErr != nil {
			log.Fatalf("operating profile: %v", profErr)
		}
		profileRules, rulesErr := profile.Rules()
		if rulesErr != nil {
			log.Fatalf("operating profile limits: %v", rulesErr)
		}
		for command, rule := range profileRules {
			rules[command] = rule
		}
		guards = func(_ context.Context, _ primitives.TenantID, command string) ([]policy.Guard, error) {
			return profile.GuardsFor(command), nil
		}
		logger.Info("operating profile loaded", "profile", profile.Name)
	}

	workflowStore := workflows.NewSQLStore(db)
	if cfg.WorkflowsDir != "" {
		seeded, seedErr := workflows.Seed(ctx, workflowStore, cfg.WorkflowsDir)
		if seedErr != nil {
			log.Fatalf("seed workflows: %v", seedErr)
		}
		logger.Info("workflow definitions seeded", "count", seeded, "dir", cfg.WorkflowsDir)
	}

	var smoother *ratelimit.Smoother
	if cfg.BurstRPS > 0 {
		smoother = ratelimit.NewSmoother(cfg.BurstRPS, cfg.BurstSize)
		go sweepSmoother(ctx, smoother)
	}

	outbox := events.NewPostgresOutbox(db)
	relay := events.NewRelay(outbox, events.NewLogPublisher(logger), logger)
	go relay.Run(ctx, cfg.OutboxInterval)

	projector := projection.NewPostgresProjector(db)
	invalidator := cache.NewInvalidator(queryCache, logger)

	pipeline, err := commands.NewPipeline(commands.Deps{
		Authz:        table,
		Policy:       engine,
		Guards:       guards,
		Limiter:      limiter,
		Rules:        rules,
		Smoother:     smoother,
		Idempotency:  idemStore,
		Store:        commands.NewSQLStore(db),
		Workflows:    workflowStore,
		Ledger:       ledger,
		Publisher:    outbox,
		Invalidator:  invalidator,
		Projector:    projector,
		Orchestrator: orchestrator.NewMemoryOrchestrator(),
		Logger:       logger,
		Telemetry:    obs,
		AuditDenials: cfg.AuditDenials,
	})
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	queries := commands.NewQueries(table, queryCache, projector, ledger, cfg.QueryCacheTTL, logger)

	authenticator := newAuthenticator(cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newHandler(pipeline, queries, authenticator, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newSigner(cfg *config.Config) (*evidence.Ed25519Signer, error) {
	if cfg.EvidenceSigningSecret != "" {
		return evidence.NewDerivedSigner([]byte(cfg.EvidenceSigningSecret), "evidence-ledger")
	}
	return evidence.NewEd25519Signer()
}

func newAuthenticator(cfg *config.Config) *auth.Authenticator {
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	return auth.NewHMACAuthenticator([]byte(cfg.JWTSecret))
}

func initSchemas(ctx context.Context, db *sql.DB, cfg *config.Config) error {
	inits := []func(context.Context) error{
		evidence.NewSQLStore(db).Init,
		idempotency.NewPostgresStore(db, cfg.IdempotencyTTL).Init,
		events.NewPostgresOutbox(db).Init,
		projection.NewPostgresProjector(db).Init,
		workflows.NewSQLStore(db).Init,
		commands.NewSQLStore(db).Init,
	}
	for _, init := range inits {
		if err := init(ctx); err != nil {
			return err
		}
	}
	return nil
}

// sweepSmoother drops idle tenant buckets so one-off tenants do not pin
// memory for the life of the process.
func sweepSmoother(ctx context.Context, smoother *ratelimit.Smoother) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			smoother.Sweep(15 * time.Minute)
		}
	}
}

// defaultRules are the per-command quotas applied when no operating
// profile overrides them.
func defaultRules() map[string]ratelimit.Rule {
	return map[string]ratelimit.Rule{
		commands.CmdStartWorkflow:     {Limit: 60, Window: time.Minute},
		commands.CmdCreateApproval:    {Limit: 120, Window: time.Minute},
		commands.CmdSubmitApproval:    {Limit: 120, Window: time.Minute},
		commands.CmdCompleteWorkItem:  {Limit: 120, Window: time.Minute},
		commands.CmdRegisterWorkspace: {Limit: 10, Window: time.Minute},
	}
}
