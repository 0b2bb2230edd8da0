package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialgate/internal/auth"
	"dialgate/internal/calls"
	"dialgate/internal/config"
	"dialgate/internal/dispatch"
	"dialgate/internal/httpapi"
	"dialgate/internal/quota"
	"dialgate/internal/ratelimit"
	"dialgate/internal/reporting"
	"dialgate/internal/storage"
	"dialgate/internal/telephony"
	"dialgate/internal/webhook"
	"dialgate/pkg/logger"
	"dialgate/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	repo := calls.NewPostgresRepo(db)
	guard := quota.NewGuard(quota.NewPostgresCounters(db), quota.Limits{
		MaxPerDay:   cfg.Quota.MaxCallsPerDay,
		MaxPerMonth: cfg.Quota.MaxCallsPerMonth,
	})
	limiter := ratelimit.NewRedisLimiter(rdb, cfg.Rate.CallsPerMinute, time.Minute)

	var store storage.Store
	if cfg.Storage.Endpoint != "" {
		s, err := storage.NewMinioStore(rootCtx, cfg.Storage)
		if err != nil {
			log.Error("storage init failed", "err", err)
			os.Exit(1)
		}
		store = s
	} else {
		// Local-only fallback; production requires STORAGE_ENDPOINT.
		log.Warn("storage endpoint not set, recordings held in memory")
		store = storage.NewMemoryStore()
	}

	var provider telephony.Provider
	if cfg.Twilio.AccountSID != "" {
		provider = telephony.NewTwilioProvider(cfg.Twilio)
	} else {
		log.Warn("twilio credentials not set, using fake provider")
		provider = &telephony.FakeProvider{}
	}

	svc := dispatch.NewService(repo, provider, guard, dispatch.Config{
		PublicBaseURL:      cfg.App.PublicBaseURL,
		FromNumber:         cfg.Twilio.FromNumber,
		BatchMaxSize:       cfg.Batch.MaxSize,
		BatchDispatchDelay: cfg.Batch.DispatchDelay,
	}, log)

	reconciler := webhook.NewReconciler(repo, store, webhook.Config{
		FetchGrace: cfg.Twilio.FetchGrace,
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
	}, log)

	scheduler := dispatch.NewScheduler(svc, 15*time.Second)
	go scheduler.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:     authManager,
		Dispatch: svc,
		Reports:  reporting.NewService(repo),
		Repo:     repo,
	}
	registerRoutes(r, h, authManager, limiter, webhook.NewHandlers(reconciler), !cfg.IsProduction())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Drain in-flight dispatches and recording fetches so every accepted call
	// ends in an observable state.
	svc.Wait()
	reconciler.Wait()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
