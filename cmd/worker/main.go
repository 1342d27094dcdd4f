package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
	"go.uber.org/zap"

	"github.com/jwalitptl/mdm-api/internal/repository/postgres"
	encountersvc "github.com/jwalitptl/mdm-api/internal/service/encounter"
	"github.com/jwalitptl/mdm-api/internal/watch"
	"github.com/jwalitptl/mdm-api/internal/worker"
	"github.com/jwalitptl/mdm-api/pkg/logger"
	"github.com/jwalitptl/mdm-api/pkg/messaging"
	redisbroker "github.com/jwalitptl/mdm-api/pkg/messaging/redis"
	"github.com/jwalitptl/mdm-api/pkg/metrics"
)

// Config comes from the environment; the worker runs headless and carries
// no config file.
type Config struct {
	DatabaseURL   string        `envconfig:"DATABASE_URL" required:"true"`
	RedisURL      string        `envconfig:"REDIS_URL"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	HealthAddr    string        `envconfig:"HEALTH_ADDR" default:":8081"`
}

func main() {
	zl, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zl.Sync()

	var cfg Config
	if err := envconfig.Process("worker", &cfg); err != nil {
		zl.Fatal("failed to load config", zap.Error(err))
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	zlogger := zlog.Logger

	var broker messaging.Broker
	if cfg.RedisURL != "" {
		broker, err = redisbroker.NewBroker(redisbroker.Config{
			URL:          cfg.RedisURL,
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
			PoolSize:     5,
			MinIdleConns: 1,
		}, &zlogger)
		if err != nil {
			zl.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer broker.Close()
	}

	m := metrics.NewMetrics("mdm", "worker")
	appLog := logger.NewLogger(nil).WithComponent("archiver")
	hub := watch.NewHub(broker, m, &zlogger)

	encounterRepo := postgres.NewEncounterRepository(postgres.NewBaseRepository(db))
	// The archival path only touches the repository and the snapshot
	// publisher; the generation, tracking and quota collaborators stay nil.
	svc := encountersvc.NewService(encounterRepo, nil, nil, nil, nil, hub, encountersvc.Config{}, appLog, m)

	archiver := worker.NewArchiver(svc, cfg.SweepInterval, appLog)

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.HealthAddr, mux); err != nil {
			zl.Fatal("health server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zl.Info("archival worker started", zap.Duration("sweep_interval", cfg.SweepInterval))
	if err := archiver.Start(ctx); err != nil {
		zl.Fatal("archiver failed", zap.Error(err))
	}
	zl.Info("archival worker stopped")
}
