package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/qs3c/doc_gen_server/config"
	"github.com/qs3c/doc_gen_server/internal/database"
	"github.com/qs3c/doc_gen_server/internal/pkg/metrics"
	"github.com/qs3c/doc_gen_server/internal/pkg/pubsub"
	"github.com/qs3c/doc_gen_server/internal/pkg/queue"
	"github.com/qs3c/doc_gen_server/internal/registry"
	"github.com/qs3c/doc_gen_server/internal/repository"
	"github.com/qs3c/doc_gen_server/internal/worker"
)

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

	metrics.Init()

	// 初始化数据库
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 Queue、注册表和 Pub/Sub
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue, cfg.Queue.Backlog)
	reg := registry.NewRedis(rdb, time.Duration(cfg.Analysis.RetentionHours)*time.Hour)
	publisher := pubsub.NewPublisher(rdb)

	// 创建任务处理器
	processor, ossClient := worker.Setup(ctx, cfg, reg, repository.NewJobRepository(db), publisher)
	if ossClient != nil {
		go worker.NewReuploader(ossClient, cfg.Analysis.OutputDir).Start(ctx)
	}

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	workers := cfg.Queue.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	log.Printf("Worker started, max workers: %d", workers)

	// 启动 worker 循环
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					log.Printf("Worker %d shutting down", workerID)
					return
				default:
					// 从队列获取任务
					msg, err := jobQueue.Pop(ctx, 5*time.Second)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						log.Printf("Worker %d: failed to pop job: %v", workerID, err)
						continue
					}

					if msg == nil {
						continue // 超时，继续等待
					}

					log.Printf("Worker %d: processing job %s", workerID, msg.AnalysisID)
					if err := processor.Process(ctx, msg); err != nil {
						log.Printf("Worker %d: job %s failed: %v", workerID, msg.AnalysisID, err)
					}
				}
			}
		}(i)
	}

	wg.Wait()
	log.Println("Worker shutdown complete")
}
