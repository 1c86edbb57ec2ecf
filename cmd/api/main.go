package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"leadflow_backend/internal/actions"
	"leadflow_backend/internal/broker"
	"leadflow_backend/internal/catalog"
	"leadflow_backend/internal/engine/gate"
	"leadflow_backend/internal/engine/hook"
	"leadflow_backend/internal/engine/intake"
	"leadflow_backend/internal/engine/orchestrator"
	"leadflow_backend/internal/engine/procedure"
	"leadflow_backend/internal/engine/selector"
	"leadflow_backend/internal/engine/signals"
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/handlers"
	"leadflow_backend/internal/http/router"
	"leadflow_backend/internal/kb"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/media"
	"leadflow_backend/internal/metrics"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/telegram"
	"leadflow_backend/platform/ai/moonshot"
	"leadflow_backend/platform/cache"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"
)

const catalogCacheTTL = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting engine api", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)

	store := newCacheStore(ctx, cfg, log)

	var chat *moonshot.ChatClient
	if cfg.IsLLMEnabled() {
		chat = moonshot.NewChatClient(moonshot.Config{
			APIKey:  cfg.GetLLMAPIKey(),
			BaseURL: cfg.GetLLMBaseURL(),
			Model:   cfg.GetLLMModel(),
		})
		log.Info("llm client initialized", "model", cfg.GetLLMModel())
	} else {
		log.Warn("LLM_API_KEY not configured; gate runs deterministic layers only")
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	catalogModule := catalog.NewModule(cfg.GetCatalogDir(), catalogCacheTTL, log)
	catalogSvc := catalogModule.Service()

	leadsModule := leads.NewModule(pool, eventBus, log)
	leadsSvc := leadsModule.Service()

	var classifier gate.Strategy
	if chat != nil && cfg.GetGateMode() != config.GateModeDetOnly {
		classifier = gate.NewLLMClassifier(chat, log)
	}
	confirmGate := gate.New(gate.FromAppConfig(cfg), leadsSvc, catalogSvc, classifier, store, eventBus, log)

	var verifier intake.SignupVerifier
	var deposits intake.DepositChecker
	if brokerClient := broker.NewClient(cfg, log); brokerClient != nil {
		verifier = brokerClient
		deposits = brokerClient
		log.Info("broker verification api enabled")
	}
	intakeAgent := intake.New(intake.DefaultConfig(), verifier, deposits, log)

	sel := selector.New(catalogSvc, cfg.GetAutomationCooldown(), log)
	procedures := procedure.NewRunner(catalogSvc, log)
	knowledge := kb.New(cfg.GetKBPath(), chat, store, cfg.GetKBCacheTTL(), log)

	orch := orchestrator.New(confirmGate, intakeAgent, sel, procedures, knowledge, catalogSvc, leadsSvc, eventBus, log)

	// ========================================================================
	// Delivery and Side Effects
	// ========================================================================

	var presigner media.Presigner
	if cfg.IsMinIOEnabled() {
		minioPresigner, err := media.NewMinIOPresigner(cfg)
		if err != nil {
			log.Error("failed to initialize media storage", "error", err)
			panic("failed to initialize media storage: " + err.Error())
		}
		if err := withRetry(ctx, log, "ensure media bucket", 5, 2*time.Second, func() error {
			return minioPresigner.EnsureBucket(ctx)
		}); err != nil {
			log.Error("failed to ensure media bucket exists", "error", err)
			panic("failed to ensure media bucket exists: " + err.Error())
		}
		presigner = minioPresigner
		log.Info("media storage initialized", "bucket", cfg.GetMinioBucketMedia())
	}

	sender := telegram.NewClient(cfg, log)
	if sender == nil {
		log.Warn("TELEGRAM_BOT_TOKEN not configured; outbound deliveries are dropped")
	}
	executor := actions.NewExecutor(sender, presigner, leadsSvc, eventBus, log)

	// Event subscribers: confirmation hook, review alerts, metric counters.
	hook.New(leadsSvc, catalogSvc, eventBus, log).Register(eventBus)
	notification.NewNotifier(notification.NewMailer(cfg), leadsSvc, log).Register(eventBus)
	metrics.NewCollector().Register(eventBus)

	engineModule := handlers.NewEngine(leadsSvc, orch, executor, log)
	if chat != nil {
		extractor, err := signals.NewExtractor(moonshot.Config{
			APIKey:  cfg.GetLLMAPIKey(),
			BaseURL: cfg.GetLLMBaseURL(),
			Model:   cfg.GetLLMModel(),
		}, cfg.GetReplyTimeout(), log)
		if err != nil {
			log.Warn("signal extractor disabled", "error", err)
		} else {
			engineModule.WithSignals(extractor, catalogSvc)
		}
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   pool,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			engineModule,
			catalogModule,
			leadsModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownCtx
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// newCacheStore prefers Redis for idempotency records so replays survive
// restarts; a bounded in-process map is the fallback.
func newCacheStore(ctx context.Context, cfg *config.Config, log *logger.Logger) cache.Store {
	if cfg.GetRedisURL() != "" {
		opt, err := redis.ParseURL(cfg.GetRedisURL())
		if err == nil {
			client := redis.NewClient(opt)
			if err := client.Ping(ctx).Err(); err == nil {
				log.Info("redis cache initialized", "addr", opt.Addr)
				return cache.NewRedis(client)
			}
			log.Warn("redis unreachable, using in-memory cache", "addr", opt.Addr)
			_ = client.Close()
		} else {
			log.Warn("invalid REDIS_URL, using in-memory cache", "error", err)
		}
	}
	return cache.NewMemory(cache.WithMaxEntries(4096))
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
