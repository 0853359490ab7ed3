package worker

import (
	"context"
	"log"
	"time"

	"github.com/qs3c/doc_gen_server/config"
	"github.com/qs3c/doc_gen_server/internal/dispatch"
	"github.com/qs3c/doc_gen_server/internal/ingest"
	"github.com/qs3c/doc_gen_server/internal/llm"
	"github.com/qs3c/doc_gen_server/internal/pkg/oss"
	"github.com/qs3c/doc_gen_server/internal/pkg/pubsub"
	"github.com/qs3c/doc_gen_server/internal/registry"
	"github.com/qs3c/doc_gen_server/internal/repository"
)

// Setup 按配置组装处理器；OSS 未启用或初始化失败时返回的 client 为 nil
func Setup(
	ctx context.Context,
	cfg *config.Config,
	reg registry.Registry,
	history *repository.JobRepository,
	publisher pubsub.Publisher,
) (*Processor, *oss.Client) {
	provider := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
	pool := dispatch.NewPool(cfg.LLM.RequestsPerWindow, time.Duration(cfg.LLM.WindowSeconds)*time.Second, dispatch.RealClock())
	if len(cfg.LLM.APIKeys) == 0 {
		log.Println("Warning: no LLM API keys configured, jobs without their own keys get no insights")
	}

	processor := NewProcessor(reg, history, publisher, pool, provider, cfg)

	if cfg.Github.Enabled {
		processor.WithMetadata(ingest.NewMetadataFetcher(ctx, cfg.Github.Token))
		log.Println("GitHub metadata enabled")
	}

	var ossClient *oss.Client
	if cfg.OSS.Enabled && cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		c, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			ossClient = c
			processor.WithUploader(c)
			log.Println("OSS client initialized")
		}
	}
	return processor, ossClient
}
