package worker

import (
	"context"
	"time"

	"github.com/qs3c/doc_gen_server/internal/ingest"
)

// Source 获取远程仓库；Reachable 在进入 cloning 之前确认目标可达
type Source interface {
	Reachable(ctx context.Context, repoURL string) error
	Clone(ctx context.Context, repoURL, destDir string) error
}

// GitSource 通过 git 命令行获取仓库
type GitSource struct {
	Timeout time.Duration
}

func (s GitSource) Reachable(ctx context.Context, repoURL string) error {
	return ingest.Reachable(ctx, repoURL, s.Timeout)
}

func (s GitSource) Clone(ctx context.Context, repoURL, destDir string) error {
	return ingest.CloneRepo(ctx, repoURL, destDir, s.Timeout)
}
