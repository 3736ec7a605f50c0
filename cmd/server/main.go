package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/gridpilot/accounting-engine/internal/accounting"
	"github.com/gridpilot/accounting-engine/internal/api"
	"github.com/gridpilot/accounting-engine/internal/config"
	"github.com/gridpilot/accounting-engine/internal/logging"
	"github.com/gridpilot/accounting-engine/internal/metrics"
	"github.com/gridpilot/accounting-engine/internal/model"
	"github.com/gridpilot/accounting-engine/internal/phase"
	"github.com/gridpilot/accounting-engine/internal/store"
	"github.com/gridpilot/accounting-engine/internal/tariff"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Dir)
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.Redis.CacheTTL)*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Accounting core ---
	factory := accounting.NewFactory(st)
	ledger := accounting.NewLedger(st, factory)

	// --- Tariff market ---
	subs := tariff.NewSubscriptionManager(st, ledger)
	rules := tariff.Rules{MinRate: cfg.Tariff.MinRate, MaxRate: cfg.Tariff.MaxRate}
	registry := tariff.NewRegistry(st, ledger, subs, rules, cfg.Tariff.PublicationFee)

	// --- WebSocket hub ---
	hub := api.NewHub()
	go hub.Run()

	// --- Phase coordinator ---
	phaseTimeout := time.Duration(cfg.Simulation.PhaseTimeoutMS) * time.Millisecond
	coordinator := phase.NewCoordinator(ledger, phaseTimeout, func(summaries []model.BrokerSummary) {
		if len(summaries) > 0 {
			hub.BroadcastClose(summaries[0].Timeslot, summaries)
		}
	})
	coordinator.Register(tariff.NewPeriodicCharger(st, ledger))

	// --- HTTP service ---
	svc := api.NewService(st, ledger, registry, subs, coordinator)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"accounting-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for timeslot close broadcasts.
		r.Get("/ws", hub.HandleWS)
		svc.Routes(r)
	})

	// --- Simulation clock ---
	simCtx, stopSim := context.WithCancel(context.Background())
	simDone := make(chan error, 1)
	go func() {
		interval := time.Duration(cfg.Simulation.TimeslotMS) * time.Millisecond
		simDone <- coordinator.Run(simCtx, model.Timeslot(cfg.Simulation.StartSlot), interval)
	}()

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("accounting-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: stop on signal, or immediately if the simulation
	// dies with a ledger-integrity failure.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("shutting down accounting-engine...")
	case err := <-simDone:
		if err != nil {
			slog.Error("simulation failed", "err", err)
		}
	}

	stopSim()
	coordinator.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("accounting-engine stopped")
}
