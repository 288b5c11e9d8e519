package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/build"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/db"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/handlers"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/logging"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/notify"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/ports"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/procs"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/queue"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/reaper"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/store"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/telemetry"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/utils"
)

func main() {
	log := logging.Init()

	configPath := "config.yaml"
	if p := os.Getenv("BUILDER_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := utils.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanup, err := telemetry.Setup(ctx, cfg.MetricsPort)
	if err != nil {
		log.Fatalf("failed to set up observability: %v", err)
	}
	defer cleanup()

	gdb, err := db.InitMySQL(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to connect to MySQL: %v", err)
	}
	jobStore := store.New(gdb)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	allocator, err := ports.NewAllocator(cfg.Ports.First, cfg.Ports.Last)
	if err != nil {
		log.Fatalf("invalid port range: %v", err)
	}
	registry := procs.NewRegistry()
	emitter := notify.NewEmitter(jobStore, rdb)

	worker := build.NewWorker(jobStore, allocator, registry, emitter, build.Config{
		Root:           cfg.Build.Root,
		InstallCommand: cfg.Build.InstallCommand,
		BuildCommand:   cfg.Build.BuildCommand,
		StartCommand:   cfg.Build.StartCommand,
		PreviewHost:    cfg.PreviewHost,
		StepTimeout:    cfg.Build.StepTimeout.D(),
		StartupTimeout: cfg.Build.StartupTimeout.D(),
		StopGrace:      cfg.Build.StopGrace.D(),
	})

	scheduler := queue.NewScheduler(jobStore, worker, registry, allocator, emitter,
		cfg.Build.MaxConcurrent, cfg.Build.StopGrace.D())

	sweeper := reaper.New(jobStore, registry, allocator, reaper.Config{
		Root:              cfg.Build.Root,
		Interval:          cfg.Reaper.Interval.D(),
		InactivityTimeout: cfg.Reaper.InactivityTimeout.D(),
		DiskWarnBytes:     cfg.Reaper.DiskWarnBytes,
		StopGrace:         cfg.Build.StopGrace.D(),
	})

	// Restart recovery must finish before any dispatch: survivors of a
	// previous run are killed or their ports re-reserved.
	if err := sweeper.ReconcileOnStart(ctx); err != nil {
		log.Fatalf("startup reconciliation failed: %v", err)
	}

	go scheduler.Run(ctx)
	go sweeper.Run(ctx)

	r := gin.Default()
	r.Use(otelgin.Middleware("website-builder"))

	buildHandler := handlers.NewBuildHandler(jobStore, scheduler, registry)
	jobHandler := handlers.NewJobHandler(jobStore, scheduler)
	notificationHandler := handlers.NewNotificationHandler(jobStore, emitter)
	previewHandler := handlers.NewPreviewHandler(jobStore, registry)
	adminHandler := handlers.NewAdminHandler(sweeper)

	r.POST("/builds", buildHandler.Enqueue)
	r.GET("/builds/:websiteId/status", buildHandler.Status)
	r.POST("/builds/:websiteId/stop", buildHandler.Stop)
	r.POST("/builds/:websiteId/restart", buildHandler.Restart)

	r.GET("/jobs/:jobId", jobHandler.Get)
	r.DELETE("/jobs/:jobId", jobHandler.Cancel)
	r.POST("/jobs/:jobId/retry", jobHandler.Retry)
	r.GET("/jobs/:jobId/queue-position", jobHandler.QueuePosition)
	r.GET("/queue/stats", jobHandler.Stats)

	r.GET("/notifications", notificationHandler.List)
	r.GET("/notifications/stream", notificationHandler.Stream)
	r.POST("/notifications/:id/read", notificationHandler.MarkRead)
	r.DELETE("/notifications/:id", notificationHandler.Delete)

	r.Any("/preview/:websiteId/*path", previewHandler.Proxy)

	r.POST("/admin/cleanup", adminHandler.Sweep)
	r.POST("/admin/cleanup/:websiteId", adminHandler.ForceCleanup)
	r.GET("/admin/disk-usage", adminHandler.DiskUsage)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
	go func() {
		log.Printf("starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down")

	cancel()
	scheduler.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
