package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/astrelia/readings/config"
	"github.com/astrelia/readings/internal/auth"
	"github.com/astrelia/readings/internal/cache"
	"github.com/astrelia/readings/internal/chart"
	"github.com/astrelia/readings/internal/httpapi"
	"github.com/astrelia/readings/internal/ledger"
	"github.com/astrelia/readings/internal/lock"
	"github.com/astrelia/readings/internal/orchestrate"
	"github.com/astrelia/readings/internal/prompt"
	"github.com/astrelia/readings/internal/provider"
	"github.com/astrelia/readings/internal/provider/claude"
	"github.com/astrelia/readings/internal/provider/gemini"
	"github.com/astrelia/readings/internal/provider/openai"
	"github.com/astrelia/readings/internal/reading"
	"github.com/astrelia/readings/internal/seeder"
	"github.com/astrelia/readings/internal/task"
	"github.com/astrelia/readings/internal/telemetry"
	"github.com/astrelia/readings/internal/usage"
	"github.com/astrelia/readings/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("astral-readings", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 6. Init stores
	ledgerStore := ledger.NewPostgresStore(pool)
	usageStore := usage.NewPostgresStore(pool)
	readingStore := reading.NewPostgresStore(pool)

	// 7. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimitRPM)

	// 8. Init provider failover chain in configured order; providers
	// without an API key are left out of the chain.
	available := map[string]provider.Provider{}
	if cfg.GeminiAPIKey != "" {
		available["gemini"] = gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel)
	}
	if cfg.OpenAIAPIKey != "" {
		available["openai"] = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}
	if cfg.AnthropicAPIKey != "" {
		available["claude"] = claude.New(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	}

	var entries []orchestrate.Entry
	for _, name := range cfg.ProviderOrder {
		p, ok := available[name]
		if !ok {
			log.Printf("provider %s not configured, skipping", name)
			continue
		}
		entries = append(entries, orchestrate.Entry{Provider: p, Timeout: cfg.ProviderTimeout})
	}
	if len(entries) == 0 {
		log.Fatal("no providers configured: set at least one of GEMINI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY")
	}

	// 9. Init orchestrator with background task supervisor
	tasks := task.NewSupervisor()
	orchestrator := orchestrate.New(entries, usageStore, tasks)

	// 10. Init reading service
	svc := reading.NewService(reading.Config{
		Readings:    readingStore,
		Ledger:      ledgerStore,
		Cache:       cache.New(rdb, cache.NewPostgresStore(pool)),
		Locker:      lock.NewLocker(rdb),
		Engine:      chart.NewEngine(),
		Assembler:   prompt.NewAssembler(prompt.NewPostgresTemplateStore(pool)),
		Generator:   orchestrator,
		Tasks:       tasks,
		RuleVersion: cfg.RuleVersion,
		LockTTL:     cfg.LockTTL,
	})

	// 11. Init handler
	tracer := otel.GetTracerProvider().Tracer("astral-readings")
	handler := httpapi.NewHandler(svc, usageStore, limiter, tracer)

	// 12. Seed demo subject if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedDemoSubject(ctx, authStore, ledgerStore)
	}

	// 13. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", handler.HandleHealth)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/readings", handler.HandleCreateReading)
		r.Get("/v1/readings", handler.HandleListReadings)
		r.Get("/v1/readings/{id}", handler.HandleGetReading)
		r.Post("/v1/generate", handler.HandleGenerate)
		r.Post("/v1/generate/stream", handler.HandleGenerateStream)
		r.Get("/v1/usage", handler.HandleUsage)
	})

	// 14. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("astral-readings listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	tasks.Wait()
	log.Println("bye")
}
