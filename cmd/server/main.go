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

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	httpadapter "dealguard/internal/adapters/http"
	"dealguard/internal/adapters/memory"
	pg "dealguard/internal/adapters/postgres"
	"dealguard/internal/config"
	"dealguard/internal/metrics"
	"dealguard/internal/policy"
	"dealguard/internal/ports"
	"dealguard/internal/ratelimit"
	"dealguard/internal/services/gateway"
	"dealguard/internal/services/intake"
	"dealguard/internal/services/ledger"
	"dealguard/internal/services/override"
	"dealguard/internal/services/signals"
	"dealguard/internal/telemetry"
	"dealguard/internal/workers/healthscorer"
)

// repos is the full repository surface one backing store provides.
type repos interface {
	ports.EntityRepository
	ports.EvidenceRepository
	ports.HealthRepository
	ports.ActorRepository
	ports.TokenRepository
	ports.LedgerRepository
	ports.DecisionWriter
	ports.JobRepository
}

func main() {
	cfg := config.Load()

	policyCfg, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("policy config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, "dealguard")
	if err != nil {
		log.Fatalf("telemetry init error: %v", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
		defer done()
		_ = shutdownTracing(shutdownCtx)
	}()

	var store repos
	if cfg.DatabaseURL != "" {
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect error: %v", err)
		}
		defer db.Close()
		store = db
	} else {
		log.Printf("DATABASE_URL not set, using in-memory store")
		store = memory.NewStore()
	}

	recorder := metrics.NewRecorder()
	signalSource := signals.New(store, store, store, store, policyCfg)
	gatewaySvc := gateway.New(store, signalSource, store, store, policyCfg, recorder)
	overrideSvc := override.New(store, store, store, store, policyCfg)
	intakeSvc := intake.New(store, store, store, store, store)
	ledgerSvc := ledger.New(store, store)

	var limiter ratelimit.Limiter
	if cfg.RateLimit > 0 {
		if cfg.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				log.Fatalf("redis url error: %v", err)
			}
			limiter = ratelimit.NewRedis(redis.NewClient(opts), time.Minute)
		} else {
			limiter = ratelimit.NewInMemory(time.Minute)
		}
	}

	srv := &httpadapter.Server{
		Intake:    intakeSvc,
		Gateway:   gatewaySvc,
		Overrides: overrideSvc,
		Ledger:    ledgerSvc,
		Limiter:   limiter,
		RateLimit: cfg.RateLimit,
	}
	router := srv.Router(func(r chi.Router) {
		r.Handle("/metrics", recorder.Handler())
	})
	handler := telemetry.HTTPMiddleware("dealguard")(router)

	if cfg.HealthWorkers > 0 {
		processor := healthscorer.EvidenceProcessor{
			Evidence: store,
			Health:   store,
			Config:   policyCfg,
			Now:      time.Now,
		}
		go healthscorer.Run(ctx, store, processor, cfg.HealthWorkers, 500*time.Millisecond)
		log.Printf("health workers started: %d", cfg.HealthWorkers)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- http.ListenAndServe(cfg.ListenAddr, handler) }()
	log.Printf("listening on %s", cfg.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("shutting down on %s", sig)
		cancel()
		time.Sleep(300 * time.Millisecond)
	case err := <-errCh:
		log.Fatal(fmt.Errorf("server error: %w", err))
	}
}
