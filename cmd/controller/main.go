package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"annotation-ml-controller/internal/config"
	"annotation-ml-controller/internal/infra/adapters/merge"
	pg "annotation-ml-controller/internal/infra/db/postgres"
	"annotation-ml-controller/internal/infra/logging"
	"annotation-ml-controller/internal/infra/metrics"
	red "annotation-ml-controller/internal/infra/redis"
	"annotation-ml-controller/internal/infra/registry"
	"annotation-ml-controller/internal/infra/sched"
	"annotation-ml-controller/internal/infra/web"
	"annotation-ml-controller/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (relaxed auth, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("dev mode enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	taskBroker := red.NewBroker(redisClient, cfg.Redis.Namespace)
	workerFeed := red.NewWorkerFeed(redisClient, cfg.Redis.Namespace, logger)
	locker := red.NewLocker(redisClient, cfg.Redis.Namespace)

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	jobRepo := pg.NewJobRepo(pool)
	taskRepo := pg.NewTaskRepo(pool)
	projectRepo := pg.NewProjectRepo(pool)
	modelStateRepo := pg.NewModelStateRepo(pool, tm)

	// ---- Worker registry ----
	reg := registry.New(cfg.Scheduler.HeartbeatExpiry)

	// ---- Use cases ----
	gate := usecase.NewProjectGate()
	dispatchUC := usecase.NewDispatchUseCase(jobRepo, taskRepo, reg, taskBroker, cfg.Scheduler, logger)
	admissionUC := usecase.NewAdmissionUseCase(jobRepo, taskRepo, projectRepo, modelStateRepo, dispatchUC, gate, cfg.Scheduler.MaxConcurrentTasks, logger)
	merger := merge.NewManifestMerger("artifacts", logger)
	aggregatorUC := usecase.NewAggregatorUseCase(modelStateRepo, merger, locker, logger)
	collectorUC := usecase.NewCollectorUseCase(jobRepo, taskRepo, reg, aggregatorUC, admissionUC, gate, taskBroker, logger)
	supervisorUC := usecase.NewSupervisorUseCase(jobRepo, taskRepo, reg, dispatchUC, collectorUC, admissionUC, gate, cfg.Scheduler.TaskTimeout, cfg.Scheduler.TaskRetryLimit, logger)

	// ---- Background workers ----
	go func() { _ = collectorUC.Run(ctx) }()

	registryWorker := sched.NewRegistryWorker(workerFeed, reg, supervisorUC, cfg.Scheduler.HeartbeatExpiry/3, logger)
	go func() {
		if err := registryWorker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("registry worker stopped")
		}
	}()

	supervisorWorker := sched.NewSupervisorWorker(cfg.Scheduler.SweepInterval, supervisorUC, logger)
	go func() { _ = supervisorWorker.Run(ctx) }()

	// ---- Admin API ----
	srv := web.NewServer(admissionUC, reg, cfg.Admin.APIKey, logger)
	go func() {
		if err := srv.Start(cfg.Admin.Port); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin API server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("admin API shutdown")
	}
}
