package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/doc_gen_server/config"
	"github.com/qs3c/doc_gen_server/internal/api"
	"github.com/qs3c/doc_gen_server/internal/api/handler"
	"github.com/qs3c/doc_gen_server/internal/database"
	"github.com/qs3c/doc_gen_server/internal/pkg/cron"
	"github.com/qs3c/doc_gen_server/internal/pkg/metrics"
	"github.com/qs3c/doc_gen_server/internal/pkg/pubsub"
	"github.com/qs3c/doc_gen_server/internal/pkg/queue"
	"github.com/qs3c/doc_gen_server/internal/pkg/ws"
	"github.com/qs3c/doc_gen_server/internal/registry"
	"github.com/qs3c/doc_gen_server/internal/repository"
	"github.com/qs3c/doc_gen_server/internal/service"
	"github.com/qs3c/doc_gen_server/internal/worker"
)

const version = "0.1.0"

func main() {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Init()

	// 初始化数据库
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Printf("Database connected (%s)", cfg.Database.Driver)
	jobRepo := repository.NewJobRepository(db)

	// 初始化 WebSocket Hub
	wsHub := ws.NewHub()
	forward := handler.Forward(wsHub)
	retention := time.Duration(cfg.Analysis.RetentionHours) * time.Hour

	// 注册表与任务投递：redis 模式交给独立 worker，local 模式在进程内执行
	var (
		reg      registry.Registry
		jobQueue service.JobQueue
		runner   *worker.Runner
	)
	if cfg.Queue.Mode == "redis" {
		rdb, err := database.NewRedis(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect redis: %v", err)
		}
		log.Println("Redis connected")

		reg = registry.NewRedis(rdb, retention)
		jobQueue = queue.NewQueue(rdb, cfg.Queue.AnalysisQueue, cfg.Queue.Backlog)

		// worker 发布的进度转发到 WebSocket
		subscriber := pubsub.NewSubscriber(rdb)
		go func() {
			if err := subscriber.Subscribe(ctx, nil, forward); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Progress subscriber stopped: %v", err)
			}
		}()
	} else {
		reg = registry.NewMemory()
		processor, ossClient := worker.Setup(ctx, cfg, reg, jobRepo, pubsub.FuncPublisher(forward))
		runner = worker.NewRunner(processor, cfg.Queue.MaxWorkers, cfg.Queue.Backlog)
		runner.Start(ctx)
		jobQueue = runner

		if ossClient != nil {
			go worker.NewReuploader(ossClient, cfg.Analysis.OutputDir).Start(ctx)
		}
	}

	// 定时清理
	sweeper := cron.NewService(reg, jobRepo, cfg)
	sweeper.Start()
	defer sweeper.Stop()

	// 初始化 Service
	analysisService := service.NewAnalysisService(reg, jobRepo, jobQueue, sweeper, cfg)
	uploadService := service.NewUploadService(analysisService, cfg)

	// 初始化 Router
	router := api.NewRouter(
		handler.NewAnalysisHandler(analysisService),
		handler.NewUploadHandler(uploadService),
		handler.NewWebSocketHandler(wsHub, analysisService),
		handler.NewHealthHandler(wsHub, version),
		cfg,
	)

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router.Setup()}
	go func() {
		log.Printf("Server starting on %s (queue mode: %s)", addr, cfg.Queue.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	cancel()
	if runner != nil {
		runner.Wait()
	}
	log.Println("Server shutdown complete")
}
