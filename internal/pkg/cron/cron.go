package cron

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qs3c/doc_gen_server/config"
	"github.com/qs3c/doc_gen_server/internal/ingest"
	"github.com/qs3c/doc_gen_server/internal/registry"
	"github.com/qs3c/doc_gen_server/internal/repository"
)

const sweepInterval = time.Hour

// Remover 删除对象存储中某个任务的全部文档
type Remover interface {
	DeleteJob(jobID string) error
}

// Report 一次清理的统计
type Report struct {
	Jobs       int   `json:"jobs"`
	Outputs    int   `json:"outputs"`
	Workspaces int   `json:"workspaces"`
	Uploads    int   `json:"uploads"`
	History    int64 `json:"history"`
}

// Total 清理的条目总数
func (r *Report) Total() int {
	return r.Jobs + r.Outputs + r.Workspaces + r.Uploads + int(r.History)
}

// Service 按保留时间清理任务记录、输出目录、工作区与上传文件
type Service struct {
	registry      registry.Registry
	history       *repository.JobRepository
	remover       Remover
	outputDir     string
	workspaceDir  string
	uploadTempDir string
	retention     time.Duration
	dryRun        bool
	now           func() time.Time
	stopChan      chan struct{}
}

// NewService 创建清理服务；registry、history 可为 nil
func NewService(reg registry.Registry, history *repository.JobRepository, cfg *config.Config) *Service {
	hours := cfg.Analysis.RetentionHours
	if hours <= 0 {
		hours = 24
	}
	return &Service{
		registry:      reg,
		history:       history,
		outputDir:     cfg.Analysis.OutputDir,
		workspaceDir:  cfg.Analysis.WorkspaceDir,
		uploadTempDir: cfg.Upload.TempDir,
		retention:     time.Duration(hours) * time.Hour,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

// WithRemover 同时清理对象存储
func (s *Service) WithRemover(r Remover) *Service {
	s.remover = r
	return s
}

// WithDryRun 只统计不删除
func (s *Service) WithDryRun(dryRun bool) *Service {
	s.dryRun = dryRun
	return s
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runCleanup()
	log.Printf("Cron service started (retention %v)", s.retention)
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

// runCleanup 每小时执行一次全量清理
func (s *Service) runCleanup() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if _, err := s.RunNow(context.Background()); err != nil {
				log.Printf("Cleanup failed: %v", err)
			}
		}
	}
}

// RunNow 立即执行一次清理
func (s *Service) RunNow(ctx context.Context) (*Report, error) {
	cutoff := s.now().Add(-s.retention)
	report := &Report{}

	if s.registry != nil && !s.dryRun {
		ids, err := s.registry.Expire(ctx, cutoff)
		if err != nil {
			return report, err
		}
		report.Jobs = len(ids)
		for _, id := range ids {
			s.removeOutput(id)
		}
	}

	report.Outputs = s.cleanupOutputs(cutoff)
	report.Workspaces = s.cleanupDirs(s.workspaceDir, cutoff, func(name string) bool {
		return strings.HasPrefix(name, ingest.WorkspacePrefix)
	})
	report.Uploads = s.cleanupDirs(s.uploadTempDir, cutoff, func(name string) bool {
		return strings.HasSuffix(name, ".zip")
	})

	if s.history != nil && !s.dryRun {
		n, err := s.history.DeleteBefore(cutoff)
		if err != nil {
			log.Printf("Cleanup history: failed: %v", err)
		}
		report.History = n
	}

	if report.Total() > 0 {
		log.Printf("Cleanup summary: jobs=%d, outputs=%d, workspaces=%d, uploads=%d, history=%d (dry-run=%v)",
			report.Jobs, report.Outputs, report.Workspaces, report.Uploads, report.History, s.dryRun)
	}
	return report, nil
}

// removeOutput 删除任务的本地输出与对象存储副本
func (s *Service) removeOutput(jobID string) {
	if s.outputDir != "" {
		if err := os.RemoveAll(filepath.Join(s.outputDir, jobID)); err != nil {
			log.Printf("Cleanup outputs: failed to remove %s: %v", jobID, err)
		}
	}
	if s.remover != nil {
		if err := s.remover.DeleteJob(jobID); err != nil {
			log.Printf("Cleanup oss: failed to delete %s: %v", jobID, err)
		}
	}
}

// cleanupOutputs 清理过期的输出目录，包括注册表中已没有记录的
func (s *Service) cleanupOutputs(cutoff time.Time) int {
	entries := s.expiredEntries(s.outputDir, cutoff, func(string) bool { return true })
	for _, name := range entries {
		if !s.dryRun {
			s.removeOutput(name)
		}
	}
	return len(entries)
}

func (s *Service) cleanupDirs(root string, cutoff time.Time, match func(string) bool) int {
	entries := s.expiredEntries(root, cutoff, match)
	if s.dryRun {
		return len(entries)
	}
	cleaned := 0
	for _, name := range entries {
		path := filepath.Join(root, name)
		if err := os.RemoveAll(path); err != nil {
			log.Printf("Cleanup: failed to remove %s: %v", path, err)
			continue
		}
		cleaned++
	}
	return cleaned
}

// expiredEntries 列出 root 下修改时间早于 cutoff 的条目
func (s *Service) expiredEntries(root string, cutoff time.Time, match func(string) bool) []string {
	if root == "" {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Cleanup: failed to read dir %s: %v", root, err)
		}
		return nil
	}

	var names []string
	for _, entry := range entries {
		if !match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			names = append(names, entry.Name())
		}
	}
	return names
}
