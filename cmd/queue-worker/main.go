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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waitroomlab/waitroom/internal/di"
	"github.com/waitroomlab/waitroom/internal/handler"
	"github.com/waitroomlab/waitroom/internal/worker"
	"github.com/waitroomlab/waitroom/pkg/config"
	"github.com/waitroomlab/waitroom/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.NewContainer(ctx, cfg, "waitroom-queue-worker")
	if err != nil {
		log.Fatalf("Failed to build dependencies: %v", err)
	}
	defer container.Close()

	appLog := logger.Get()
	appLog.Info("Starting Queue Worker...")
	appLog.Info(fmt.Sprintf("Worker configuration: ReleaseInterval=%v, ExpiryInterval=%v, ExpiryBatchSize=%d, MergeChunkSize=%d",
		cfg.Engine.ReleaseInterval, cfg.Engine.ExpiryInterval, cfg.Engine.ExpiryBatchSize, cfg.Engine.MergeChunkSize))

	releaseWorker := worker.NewReleaseWorker(
		container.Admission, container.QueueRepo, container.SessionRepo,
		cfg.Engine.ReleaseInterval, container.Clock, appLog,
	)
	expiryWorker := worker.NewExpiryWorker(
		container.Sessions, container.SessionRepo, container.QueueRepo, container.Clock,
		cfg.Engine.ExpiryInterval, cfg.Engine.ExpiryBatchSize, appLog,
	)
	mergeWorker := worker.NewMergeWorker(
		container.QueueRepo, container.SessionRepo, container.Publisher, container.Clock,
		cfg.Engine.ReleaseInterval, cfg.Engine.MergeChunkSize, appLog,
	)

	releaseWorker.Start(ctx)
	expiryWorker.Start(ctx)
	mergeWorker.Start(ctx)

	go reportStats(ctx, releaseWorker, expiryWorker, appLog)

	// Probes and metrics on the worker port
	go serveProbes(cfg, container, appLog)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down queue worker...")
	cancel()

	mergeWorker.Stop()
	expiryWorker.Stop()
	releaseWorker.Stop()
	appLog.Info("Queue worker stopped")
}

// reportStats periodically logs worker counters
func reportStats(ctx context.Context, rw *worker.ReleaseWorker, ew *worker.ExpiryWorker, log *logger.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs := rw.GetStats()
			es := ew.GetStats()
			log.Info(fmt.Sprintf("Stats: ticks=%d released=%d release_errors=%d sweeps=%d expired=%d races=%d",
				rs.Ticks, rs.Released, rs.Errors, es.Sweeps, es.Dropped, es.Races))
		}
	}
}

func serveProbes(cfg *config.Config, container *di.Container, log *logger.Logger) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler.NewHealthHandler("waitroom-queue-worker", map[string]handler.HealthChecker{
		"postgres": container.DB.HealthCheck,
		"redis":    container.Redis.HealthCheck,
	}).RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info(fmt.Sprintf("Worker probes listening on %s", addr))
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Error(fmt.Sprintf("Probe server error: %v", err))
	}
}
