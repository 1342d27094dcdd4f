package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/mdm-api/internal/config"
	"github.com/jwalitptl/mdm-api/internal/email"
	"github.com/jwalitptl/mdm-api/internal/handler"
	authh "github.com/jwalitptl/mdm-api/internal/handler/auth"
	ench "github.com/jwalitptl/mdm-api/internal/handler/encounter"
	osh "github.com/jwalitptl/mdm-api/internal/handler/orderset"
	prefh "github.com/jwalitptl/mdm-api/internal/handler/preference"
	"github.com/jwalitptl/mdm-api/internal/llm"
	"github.com/jwalitptl/mdm-api/internal/middleware"
	"github.com/jwalitptl/mdm-api/internal/repository/postgres"
	"github.com/jwalitptl/mdm-api/internal/router"
	authsvc "github.com/jwalitptl/mdm-api/internal/service/auth"
	"github.com/jwalitptl/mdm-api/internal/service/cdr"
	encountersvc "github.com/jwalitptl/mdm-api/internal/service/encounter"
	"github.com/jwalitptl/mdm-api/internal/service/notification"
	ordersetsvc "github.com/jwalitptl/mdm-api/internal/service/orderset"
	preferencesvc "github.com/jwalitptl/mdm-api/internal/service/preference"
	quotasvc "github.com/jwalitptl/mdm-api/internal/service/quota"
	"github.com/jwalitptl/mdm-api/internal/watch"
	"github.com/jwalitptl/mdm-api/internal/worker"
	"github.com/jwalitptl/mdm-api/pkg/auth"
	"github.com/jwalitptl/mdm-api/pkg/logger"
	"github.com/jwalitptl/mdm-api/pkg/messaging"
	redisbroker "github.com/jwalitptl/mdm-api/pkg/messaging/redis"
	"github.com/jwalitptl/mdm-api/pkg/metrics"
	"github.com/jwalitptl/mdm-api/pkg/security"
)

func main() {
	log := logger.NewLogger(nil)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err, "failed to load config")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	m := metrics.NewMetrics("mdm", "api")
	zl := zlog.Logger

	var broker messaging.Broker
	if cfg.Redis.URL != "" {
		broker, err = redisbroker.NewBroker(redisbroker.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
			PoolSize:     10,
			MinIdleConns: 2,
		}, &zl)
		if err != nil {
			log.Fatal(err, "failed to connect to redis")
		}
		defer broker.Close()
	}

	// Repositories
	baseRepo := postgres.NewBaseRepository(db)
	encounterRepo := postgres.NewEncounterRepository(baseRepo)
	orderSetRepo := postgres.NewOrderSetRepository(baseRepo)
	prefRepo := postgres.NewPreferenceRepository(baseRepo)
	userRepo := postgres.NewUserRepository(baseRepo)
	quotaRepo := postgres.NewQuotaRepository(baseRepo)

	// Live document fanout
	hub := watch.NewHub(broker, m, &zl)

	// Services
	generator := llm.NewClient(llm.Config{
		BaseURL: cfg.Generator.BaseURL,
		APIKey:  cfg.Generator.APIKey,
		Timeout: time.Duration(cfg.Generator.TimeoutSeconds) * time.Second,
	}, &zl)

	var emailSvc email.Service = email.NoopService{}
	if cfg.SMTP.Host != "" {
		emailSvc = email.NewSMTPService(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	}

	cdrSvc := cdr.NewService(encounterRepo, cdr.DefaultLibrary(), cfg.Encounter.DebounceInterval, log.WithComponent("cdr"), m)
	// Snapshots from other instances reconcile into open CDR sessions.
	hub.AddReconciler(cdrSvc)
	quotaSvc := quotasvc.NewService(encounterRepo, quotaRepo, cfg.Encounter.MonthlyQuota, log.WithComponent("quota"), m)
	notifier := notification.NewService(userRepo, emailSvc, log.WithComponent("notification"))
	encounterSvc := encountersvc.NewService(
		encounterRepo,
		generator,
		cdrSvc,
		quotaSvc,
		notifier,
		hub,
		encountersvc.Config{
			MaxSubmissionsPerSection: cfg.Encounter.MaxSubmissionsPerSection,
			ShiftWindow:              time.Duration(cfg.Encounter.ShiftWindowHours) * time.Hour,
		},
		log.WithComponent("encounter"),
		m,
	)
	orderSetSvc := ordersetsvc.NewService(orderSetRepo, prefRepo, log.WithComponent("orderset"))
	prefSvc := preferencesvc.NewService(prefRepo, log.WithComponent("preference"))

	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	hasher := security.NewBcryptHasher(12)
	authSvc := authsvc.NewService(userRepo, jwtSvc, hasher, orderSetSvc, log.WithComponent("auth"))

	// HTTP layer
	authMW := middleware.NewAuthMiddleware(jwtSvc)
	r := router.NewRouter(
		authMW,
		authh.NewHandler(authSvc),
		ench.NewHandler(encounterSvc, cdrSvc, hub),
		osh.NewHandler(orderSetSvc),
		prefh.NewHandler(prefSvc),
		handler.NewHandler(db),
		router.Config{
			RateLimit:     rate.Limit(100),
			RateBurst:     200,
			CORSConfig:    middleware.DefaultCORSConfig(),
			MetricsPrefix: "mdm_api",
		},
	)
	r.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Remote snapshot fanout
	go func() {
		if err := hub.Run(ctx); err != nil {
			log.Error(err, "watch hub stopped")
		}
	}()

	// In-process shift-window sweep; the standalone worker covers
	// deployments that disable it here.
	archiver := worker.NewArchiver(encounterSvc, 5*time.Minute, log.WithComponent("archiver"))
	go func() {
		if err := archiver.Start(ctx); err != nil {
			log.Error(err, "archiver stopped")
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: 0, // SSE streams stay open
	}

	go func() {
		log.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "graceful shutdown failed")
		os.Exit(1)
	}
}
