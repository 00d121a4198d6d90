package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Import pprof for profiling
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waitroomlab/waitroom/internal/di"
	"github.com/waitroomlab/waitroom/internal/handler"
	"github.com/waitroomlab/waitroom/internal/metrics"
	"github.com/waitroomlab/waitroom/pkg/config"
	"github.com/waitroomlab/waitroom/pkg/logger"
	"github.com/waitroomlab/waitroom/pkg/middleware"
	"github.com/waitroomlab/waitroom/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	container, err := di.NewContainer(ctx, cfg, "waitroom-api")
	if err != nil {
		log.Fatalf("Failed to build dependencies: %v", err)
	}
	defer container.Close()

	appLog := logger.Get()
	appLog.Info("Starting Waitroom API...")

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
		gin.DisableConsoleColor()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware("waitroom-api"))
	router.Use(metrics.Middleware())

	// Probes and metrics
	healthHandler := handler.NewHealthHandler("waitroom-api", map[string]handler.HealthChecker{
		"postgres": container.DB.HealthCheck,
		"redis":    container.Redis.HealthCheck,
	})
	healthHandler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Visitor routes share one rate limiter keyed by client IP; join
	// storms get a 429 instead of overwhelming the store.
	rateLimiter := middleware.NewClientRateLimiter(middleware.DefaultRateLimitConfig())
	defer rateLimiter.Stop()

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"version": cfg.App.Version,
				"service": "waitroom-api",
			})
		})

		public := v1.Group("")
		public.Use(middleware.RateLimit(rateLimiter))
		handler.NewSessionHandler(container.Admission, container.Sessions).RegisterRoutes(public)

		// Operator mutations honor X-Idempotency-Key so retried
		// requests replay the stored response instead of re-running.
		admin := v1.Group("/admin")
		admin.Use(middleware.Idempotency(middleware.IdempotencyConfig{Redis: container.Redis.Client()}))
		handler.NewAdminHandler(container.Admin).RegisterRoutes(admin)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// pprof on a side port
	go func() {
		pprofAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1000)
		appLog.Info(fmt.Sprintf("pprof server listening on %s", pprofAddr))
		if err := http.ListenAndServe(pprofAddr, nil); err != nil {
			appLog.Error(fmt.Sprintf("pprof server error: %v", err))
		}
	}()

	go func() {
		appLog.Info(fmt.Sprintf("Waitroom API listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Fatal(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	appLog.Info("Server exited gracefully")
}
