package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qs3c/doc_gen_server/config"
	"github.com/qs3c/doc_gen_server/internal/database"
	"github.com/qs3c/doc_gen_server/internal/pkg/cron"
	"github.com/qs3c/doc_gen_server/internal/pkg/oss"
	"github.com/qs3c/doc_gen_server/internal/registry"
	"github.com/qs3c/doc_gen_server/internal/repository"
)

var (
	dryRun         = flag.Bool("dry-run", true, "Dry run mode, don't actually delete files")
	retentionHours = flag.Int("retention", 0, "Hours to keep finished jobs (0 uses config)")
	cleanHistory   = flag.Bool("clean-history", true, "Delete expired rows from the history table")
)

func main() {
	flag.Parse()

	log.Println("🧹 Starting cleanup task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *retentionHours > 0 {
		cfg.Analysis.RetentionHours = *retentionHours
	}

	// 历史库
	var history *repository.JobRepository
	if *cleanHistory {
		db, err := database.New(&cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		history = repository.NewJobRepository(db)
	}

	// redis 模式下注册表中也有过期记录
	var reg registry.Registry
	if cfg.Queue.Mode == "redis" {
		rdb, err := database.NewRedis(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect redis: %v", err)
		}
		reg = registry.NewRedis(rdb, time.Duration(cfg.Analysis.RetentionHours)*time.Hour)
	}

	sweeper := cron.NewService(reg, history, cfg).WithDryRun(*dryRun)
	if cfg.OSS.Enabled && cfg.OSS.Endpoint != "" {
		if ossClient, err := oss.NewClient(&cfg.OSS); err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			sweeper.WithRemover(ossClient)
		}
	}

	before := getDirSize(cfg.Analysis.OutputDir)
	report, err := sweeper.RunNow(context.Background())
	if err != nil {
		log.Fatalf("Cleanup failed: %v", err)
	}
	after := getDirSize(cfg.Analysis.OutputDir)

	// 输出统计
	log.Println("\n" + strings.Repeat("=", 60))
	log.Println("📊 Cleanup Summary")
	log.Println(strings.Repeat("=", 60))
	log.Printf("Retention: %d hours", cfg.Analysis.RetentionHours)
	log.Printf("Expired jobs: %d", report.Jobs)
	log.Printf("Output dirs: %d", report.Outputs)
	log.Printf("Workspaces: %d", report.Workspaces)
	log.Printf("Uploads: %d", report.Uploads)
	log.Printf("History rows: %d", report.History)
	log.Printf("Output size: %s -> %s", formatSize(before), formatSize(after))
	if *dryRun {
		log.Println("\n⚠️  DRY RUN MODE - No files were actually deleted")
		log.Println("   Run with -dry-run=false to actually delete files")
	} else {
		log.Println("\n✅ Cleanup completed!")
	}
	log.Println(strings.Repeat("=", 60))
}

// getDirSize 计算目录大小
func getDirSize(path string) int64 {
	var size int64
	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// formatSize 格式化文件大小
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
