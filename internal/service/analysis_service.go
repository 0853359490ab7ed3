package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/doc_gen_server/config"
	"github.com/qs3c/doc_gen_server/internal/assemble"
	"github.com/qs3c/doc_gen_server/internal/ingest"
	"github.com/qs3c/doc_gen_server/internal/model"
	"github.com/qs3c/doc_gen_server/internal/model/dto"
	"github.com/qs3c/doc_gen_server/internal/pkg/cron"
	"github.com/qs3c/doc_gen_server/internal/pkg/metrics"
	"github.com/qs3c/doc_gen_server/internal/pkg/queue"
	"github.com/qs3c/doc_gen_server/internal/registry"
	"github.com/qs3c/doc_gen_server/internal/repository"
)

var (
	ErrAnalysisNotFound = errors.New("analysis not found")
	ErrNotCompleted     = errors.New("analysis has not completed")
	ErrAlreadyFinished  = errors.New("analysis already finished")
	ErrQueueUnavailable = errors.New("analysis queue is unavailable, try again later")
)

// JobQueue 任务投递：本地 Runner 或 Redis 队列
type JobQueue interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
}

// AnalysisService 任务提交与查询
type AnalysisService struct {
	registry registry.Registry
	history  *repository.JobRepository
	queue    JobQueue
	sweeper  *cron.Service
	outputs  *assemble.Writer
	cfg      *config.Config
	now      func() time.Time
}

// NewAnalysisService 创建分析服务；history、sweeper 可为 nil
func NewAnalysisService(
	reg registry.Registry,
	history *repository.JobRepository,
	jobQueue JobQueue,
	sweeper *cron.Service,
	cfg *config.Config,
) *AnalysisService {
	return &AnalysisService{
		registry: reg,
		history:  history,
		queue:    jobQueue,
		sweeper:  sweeper,
		outputs:  assemble.NewWriter(cfg.Analysis.OutputDir),
		cfg:      cfg,
		now:      time.Now,
	}
}

// SubmitGithub 创建任务并投递，立即返回
func (s *AnalysisService) SubmitGithub(ctx context.Context, req *dto.SubmitGithubRequest) (*dto.SubmitResponse, error) {
	repoURL := strings.TrimSpace(req.GithubURL)
	if err := ingest.ValidateRepoURL(repoURL); err != nil {
		return nil, err
	}
	return s.submit(ctx, model.SourceGithub, repoURL, &queue.JobMessage{
		SourceType: model.SourceGithub,
		RepoURL:    repoURL,
		APIKeys:    req.APIKeys,
	})
}

// submit 写入注册表后投递；投递失败时任务直接标记失败
func (s *AnalysisService) submit(ctx context.Context, sourceType, target string, msg *queue.JobMessage) (*dto.SubmitResponse, error) {
	job := model.NewAnalysisJob(uuid.NewString(), target, sourceType, s.now())
	if err := s.registry.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to register job: %w", err)
	}

	msg.AnalysisID = job.ID
	if err := s.queue.Push(ctx, msg); err != nil {
		log.Printf("Job %s: failed to enqueue: %v", job.ID, err)
		s.registry.Update(ctx, job.ID, func(j *model.AnalysisJob) error {
			return j.Fail("failed to queue analysis", s.now())
		})
		return nil, ErrQueueUnavailable
	}

	metrics.JobSubmitted()
	log.Printf("Job %s: submitted %s %s", job.ID, sourceType, target)
	return &dto.SubmitResponse{AnalysisID: job.ID, Status: string(job.Status)}, nil
}

// Get 查找任务：先查注册表，再查历史表
func (s *AnalysisService) Get(ctx context.Context, id string) (*model.AnalysisJob, error) {
	job, err := s.registry.Get(ctx, id)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, registry.ErrNotFound) {
		return nil, err
	}
	if s.history == nil {
		return nil, ErrAnalysisNotFound
	}
	job, err = s.history.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	return job, nil
}

// Status 任务进度
func (s *AnalysisService) Status(ctx context.Context, id string) (*dto.StatusResponse, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewStatusResponse(job), nil
}

// resultDir 已完成任务的输出目录
func (s *AnalysisService) resultDir(ctx context.Context, id string) (string, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != model.StatusCompleted {
		return "", ErrNotCompleted
	}
	if job.ResultDir != "" {
		return job.ResultDir, nil
	}
	return s.outputs.Dir(id), nil
}

// Results 文档集摘要
func (s *AnalysisService) Results(ctx context.Context, id string) (*dto.ResultsResponse, error) {
	dir, err := s.resultDir(ctx, id)
	if err != nil {
		return nil, err
	}
	manifest, err := assemble.ReadManifest(dir)
	if err != nil {
		if errors.Is(err, assemble.ErrDocumentNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}

	resp := &dto.ResultsResponse{
		AnalysisID:  id,
		GeneratedAt: manifest.GeneratedAt.Format(time.RFC3339),
		Documents:   make([]dto.DocumentLink, 0, len(manifest.Documents)),
		Meta:        manifest.Meta,
	}
	for _, doc := range manifest.Documents {
		resp.Documents = append(resp.Documents, dto.DocumentLink{
			Name:  doc.Name,
			Title: doc.Title,
			Kind:  doc.Kind,
			Size:  doc.Size,
			URL:   fmt.Sprintf("/api/analysis/results/%s/documents/%s", id, doc.Name),
		})
	}
	return resp, nil
}

// Document 单份文档的 markdown 原文
func (s *AnalysisService) Document(ctx context.Context, id, name string) ([]byte, error) {
	dir, err := s.resultDir(ctx, id)
	if err != nil {
		return nil, err
	}
	return assemble.ReadDocument(dir, strings.TrimPrefix(name, "/"))
}

// List 注册表中的全部任务，新的在前
func (s *AnalysisService) List(ctx context.Context) ([]*dto.StatusResponse, error) {
	jobs, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]*dto.StatusResponse, len(jobs))
	for i, job := range jobs {
		items[i] = dto.NewStatusResponse(job)
	}
	return items, nil
}

// History 分页查询已结束任务
func (s *AnalysisService) History(page, pageSize int, status string) ([]*dto.StatusResponse, int64, error) {
	if s.history == nil {
		return []*dto.StatusResponse{}, 0, nil
	}
	jobs, total, err := s.history.List(page, pageSize, status)
	if err != nil {
		return nil, 0, err
	}
	items := make([]*dto.StatusResponse, len(jobs))
	for i, job := range jobs {
		items[i] = dto.NewStatusResponse(job)
	}
	return items, total, nil
}

// Cancel 请求取消，流水线在下一个检查点结束任务
func (s *AnalysisService) Cancel(ctx context.Context, id string) (*dto.StatusResponse, error) {
	job, err := s.registry.Update(ctx, id, func(j *model.AnalysisJob) error {
		if j.Status.IsTerminal() {
			return ErrAlreadyFinished
		}
		j.CancelRequested = true
		j.Message = "cancellation requested"
		return nil
	})
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	log.Printf("Job %s: cancellation requested", id)
	return dto.NewStatusResponse(job), nil
}

// Cleanup 立即执行一次过期清理
func (s *AnalysisService) Cleanup(ctx context.Context) (*cron.Report, error) {
	if s.sweeper == nil {
		return &cron.Report{}, nil
	}
	return s.sweeper.RunNow(ctx)
}
