package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qs3c/doc_gen_server/config"
	"github.com/qs3c/doc_gen_server/internal/assemble"
	"github.com/qs3c/doc_gen_server/internal/dispatch"
	"github.com/qs3c/doc_gen_server/internal/extract"
	"github.com/qs3c/doc_gen_server/internal/ingest"
	"github.com/qs3c/doc_gen_server/internal/llm"
	"github.com/qs3c/doc_gen_server/internal/model"
	"github.com/qs3c/doc_gen_server/internal/pkg/metrics"
	"github.com/qs3c/doc_gen_server/internal/pkg/pubsub"
	"github.com/qs3c/doc_gen_server/internal/pkg/queue"
	"github.com/qs3c/doc_gen_server/internal/rank"
	"github.com/qs3c/doc_gen_server/internal/registry"
	"github.com/qs3c/doc_gen_server/internal/repository"
)

// Processor 任务处理器，按 pending → cloning → extracting → enriching → assembling 推进
type Processor struct {
	registry  registry.Registry
	history   *repository.JobRepository
	publisher pubsub.Publisher
	pool      *dispatch.Pool
	provider  llm.Provider
	source    Source
	extractor *extract.Extractor
	writer    *assemble.Writer
	uploader  assemble.Uploader
	metadata  *ingest.MetadataFetcher
	cfg       *config.Config
	now       func() time.Time
}

// NewProcessor 创建任务处理器；history、publisher 可为 nil
func NewProcessor(
	reg registry.Registry,
	history *repository.JobRepository,
	publisher pubsub.Publisher,
	pool *dispatch.Pool,
	provider llm.Provider,
	cfg *config.Config,
) *Processor {
	return &Processor{
		registry:  reg,
		history:   history,
		publisher: publisher,
		pool:      pool,
		provider:  provider,
		source:    GitSource{Timeout: time.Duration(cfg.Analysis.CloneTimeoutSeconds) * time.Second},
		extractor: extract.NewExtractor(extract.Options{
			Workers:     cfg.Analysis.ExtractWorkers,
			FileTimeout: time.Duration(cfg.Analysis.FileTimeoutSeconds) * time.Second,
		}),
		writer: assemble.NewWriter(cfg.Analysis.OutputDir),
		cfg:    cfg,
		now:    time.Now,
	}
}

// WithSource 替换仓库来源
func (p *Processor) WithSource(s Source) *Processor {
	p.source = s
	return p
}

// WithUploader 完成后把文档同步到对象存储
func (p *Processor) WithUploader(u assemble.Uploader) *Processor {
	p.uploader = u
	return p
}

// WithMetadata 通过 GitHub API 补充仓库描述
func (p *Processor) WithMetadata(m *ingest.MetadataFetcher) *Processor {
	p.metadata = m
	return p
}

// Process 处理分析任务
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	job, err := p.registry.Get(ctx, msg.AnalysisID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job.Status != model.StatusPending {
		return fmt.Errorf("job %s is %s, expected pending", job.ID, job.Status)
	}
	id := job.ID
	start := p.now()

	workspace := ingest.Workspace(p.cfg.Analysis.WorkspaceDir, id)
	defer func() {
		if err := ingest.Cleanup(p.cfg.Analysis.WorkspaceDir, workspace); err != nil {
			log.Printf("Job %s: failed to clean workspace: %v", id, err)
		}
		if msg.UploadPath != "" {
			os.Remove(msg.UploadPath)
		}
	}()

	// pending：目标不可达时直接失败，不进入 cloning
	if p.isCancelled(ctx, id) {
		return p.fail(ctx, id, model.CancelledMessage, nil)
	}
	if err := p.prepare(ctx, msg); err != nil {
		return p.fail(ctx, id, ingest.UserMessage(err), err)
	}

	// Step 1: 获取源码
	stage := p.now()
	if err := p.advance(ctx, id, model.StatusCloning, ""); err != nil {
		return err
	}
	projectDir, info, err := p.fetch(ctx, msg, job, workspace)
	if err != nil {
		return p.fail(ctx, id, ingest.UserMessage(err), err)
	}
	p.progress(ctx, id, 10, "repository ready")
	metrics.StageDuration(string(model.StatusCloning), p.now().Sub(stage).Seconds())

	// Step 2: 提取结构并排序
	if p.isCancelled(ctx, id) {
		return p.fail(ctx, id, model.CancelledMessage, nil)
	}
	stage = p.now()
	if err := p.advance(ctx, id, model.StatusExtracting, ""); err != nil {
		return err
	}
	files, ranked, err := p.extractStage(ctx, id, projectDir)
	if err != nil {
		if errors.Is(err, extract.ErrCancelled) {
			return p.fail(ctx, id, model.CancelledMessage, nil)
		}
		return p.fail(ctx, id, "failed to read the repository contents", err)
	}
	metrics.StageDuration(string(model.StatusExtracting), p.now().Sub(stage).Seconds())

	// Step 3: 模型解读，失败的文件只标记不可用
	if p.isCancelled(ctx, id) {
		return p.fail(ctx, id, model.CancelledMessage, nil)
	}
	stage = p.now()
	if err := p.advance(ctx, id, model.StatusEnriching, fmt.Sprintf("enriching %d files", len(ranked))); err != nil {
		return err
	}
	results := p.enrichStage(ctx, id, msg, ranked)
	if p.isCancelled(ctx, id) {
		return p.fail(ctx, id, model.CancelledMessage, nil)
	}
	metrics.StageDuration(string(model.StatusEnriching), p.now().Sub(stage).Seconds())

	// Step 4: 组装并写出文档
	stage = p.now()
	if err := p.advance(ctx, id, model.StatusAssembling, ""); err != nil {
		return err
	}
	set, err := assemble.Assemble(info, files, ranked, results, p.now().Sub(start))
	if err != nil {
		return p.fail(ctx, id, "failed to assemble documentation", err)
	}
	dir, err := p.writer.Write(id, set, p.now())
	if err != nil {
		return p.fail(ctx, id, "failed to write documentation", err)
	}
	if p.uploader != nil {
		if n := assemble.Mirror(p.uploader, id, set); n == len(set.Documents) {
			if err := assemble.MarkMirrored(dir); err != nil {
				log.Printf("Job %s: failed to mark mirrored: %v", id, err)
			}
		}
	}
	metrics.StageDuration(string(model.StatusAssembling), p.now().Sub(stage).Seconds())

	done, err := p.registry.Update(ctx, id, func(j *model.AnalysisJob) error {
		j.EnrichedCount = set.Meta.EnrichedCount
		return j.Complete(dir, p.now())
	})
	if err != nil {
		return p.fail(ctx, id, "failed to record completion", err)
	}
	p.finish(ctx, done)

	log.Printf("Job %s: completed in %v, %d files, %d endpoints, %d/%d files enriched",
		id, p.now().Sub(start).Round(time.Millisecond), len(files), set.Meta.EndpointCount,
		set.Meta.EnrichedCount, len(ranked))
	return nil
}

// prepare 校验输入并确认目标可达
func (p *Processor) prepare(ctx context.Context, msg *queue.JobMessage) error {
	if msg.SourceType == model.SourceUpload {
		if _, err := os.Stat(msg.UploadPath); err != nil {
			return &ingest.IngestError{UserMessage: "the uploaded archive is missing or expired", RawError: err}
		}
		return nil
	}
	if err := ingest.ValidateRepoURL(msg.RepoURL); err != nil {
		return err
	}
	return p.source.Reachable(ctx, msg.RepoURL)
}

// fetch 克隆仓库或解压上传的归档，返回项目根目录
func (p *Processor) fetch(ctx context.Context, msg *queue.JobMessage, job *model.AnalysisJob, workspace string) (string, model.RepoInfo, error) {
	if msg.SourceType == model.SourceUpload {
		info := model.RepoInfo{Name: strings.TrimSuffix(filepath.Base(job.Target), filepath.Ext(job.Target))}
		if err := ingest.ExtractArchive(msg.UploadPath, workspace); err != nil {
			return "", info, &ingest.IngestError{UserMessage: "failed to extract the uploaded archive", RawError: err}
		}
		log.Printf("Job %s: extracted upload %s", job.ID, job.Target)
		return ingest.FindProjectRoot(workspace), info, nil
	}

	log.Printf("Job %s: cloning repo %s", job.ID, msg.RepoURL)
	if err := p.source.Clone(ctx, msg.RepoURL, workspace); err != nil {
		return "", model.RepoInfo{}, err
	}

	info := ingest.ParseRepoInfo(msg.RepoURL)
	if p.metadata != nil && ingest.IsGithubURL(msg.RepoURL) {
		metaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		enriched, err := p.metadata.Enrich(metaCtx, info)
		cancel()
		if err != nil {
			log.Printf("Job %s: repository metadata unavailable: %v", job.ID, err)
		} else {
			info = enriched
		}
	}
	return workspace, info, nil
}

func (p *Processor) extractStage(ctx context.Context, id, projectDir string) ([]model.SourceFile, []rank.Ranked, error) {
	cands, err := ingest.Discover(projectDir, ingest.DiscoverOptions{
		MaxFileSize:    p.cfg.Analysis.MaxFileSize,
		IgnorePatterns: p.cfg.Analysis.IgnorePatterns,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Job %s: discovered %d source files", id, len(cands))

	tracker := p.stageTracker(ctx, id, "files extracted")
	files, err := p.extractor.ExtractAll(ctx, projectDir, cands, extract.Hooks{
		OnFile:    tracker,
		Cancelled: func() bool { return p.isCancelled(ctx, id) },
	})
	if err != nil {
		return nil, nil, err
	}

	langs := make(map[string]bool)
	var languages model.StringArray
	endpoints, functions := 0, 0
	for i := range files {
		metrics.FileExtracted(files[i].Warning != "")
		endpoints += len(files[i].Endpoints())
		functions += len(files[i].Functions())
		if !langs[files[i].Language] {
			langs[files[i].Language] = true
			languages = append(languages, files[i].Language)
		}
	}

	ranked := rank.Rank(files, p.rankConfig())
	p.update(ctx, id, func(j *model.AnalysisJob) error {
		j.FileCount = len(files)
		j.EndpointCount = endpoints
		j.FunctionCount = functions
		j.Languages = languages
		j.SetProgress(j.StageProgress(1, 1), fmt.Sprintf("ranked %d files", len(ranked)), p.now())
		return nil
	})
	return files, ranked, nil
}

func (p *Processor) enrichStage(ctx context.Context, id string, msg *queue.JobMessage, ranked []rank.Ranked) map[string]model.EnrichmentResult {
	reqs := make([]model.EnrichmentRequest, 0, len(ranked))
	for _, r := range ranked {
		reqs = append(reqs, model.EnrichmentRequest{Path: r.File.Path, Prompt: llm.BuildPrompt(r.File)})
	}

	keys := msg.APIKeys
	if len(keys) == 0 {
		keys = p.cfg.LLM.APIKeys
	}
	budgets := p.pool.Get(keys)
	defer budgets.Release()
	d := dispatch.NewDispatcher(p.provider, budgets, dispatch.Config{
		MaxAttempts: p.cfg.LLM.MaxAttempts,
		BaseDelay:   time.Duration(p.cfg.LLM.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(p.cfg.LLM.MaxDelayMs) * time.Millisecond,
	})

	tracker := p.stageTracker(ctx, id, "files enriched")
	results := d.Dispatch(ctx, reqs, dispatch.Hooks{
		OnResult: func(done, total int, res model.EnrichmentResult) {
			if !res.Available() {
				log.Printf("Job %s: enrichment unavailable for %s (%s)", id, res.Path, res.Failure)
			}
			tracker(done, total)
		},
		Cancelled: func() bool { return p.isCancelled(ctx, id) },
	})
	return results
}

// stageTracker 返回阶段内进度回调，只在整数进度变化时写注册表
func (p *Processor) stageTracker(ctx context.Context, id, label string) func(done, total int) {
	last := -1
	return func(done, total int) {
		pct := 100 * done / max(total, 1)
		if pct == last {
			return
		}
		last = pct
		p.update(ctx, id, func(j *model.AnalysisJob) error {
			j.SetProgress(j.StageProgress(done, total), fmt.Sprintf("%d/%d %s", done, total, label), p.now())
			return nil
		})
	}
}

func (p *Processor) rankConfig() rank.Config {
	cfg := rank.DefaultConfig()
	w := p.cfg.Analysis.Ranking
	if w.Endpoint > 0 {
		cfg.EndpointWeight = w.Endpoint
	}
	if w.Function > 0 {
		cfg.FunctionWeight = w.Function
	}
	if w.PathRole > 0 {
		cfg.PathRoleWeight = w.PathRole
	}
	if p.cfg.Analysis.MaxEnrichedFiles > 0 {
		cfg.MaxFiles = p.cfg.Analysis.MaxEnrichedFiles
	}
	return cfg
}

func (p *Processor) isCancelled(ctx context.Context, id string) bool {
	if ctx.Err() != nil {
		return true
	}
	job, err := p.registry.Get(ctx, id)
	return err == nil && job.CancelRequested
}

// update 修改注册表记录并推送进度
func (p *Processor) update(ctx context.Context, id string, fn func(*model.AnalysisJob) error) (*model.AnalysisJob, error) {
	job, err := p.registry.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, job)
	return job, nil
}

func (p *Processor) advance(ctx context.Context, id string, next model.JobStatus, message string) error {
	if message == "" {
		message = pubsub.StatusMessages[string(next)]
	}
	_, err := p.update(ctx, id, func(j *model.AnalysisJob) error {
		return j.Advance(next, message, p.now())
	})
	if err != nil {
		return p.fail(ctx, id, "internal error", err)
	}
	log.Printf("Job %s: %s", id, next)
	return nil
}

func (p *Processor) progress(ctx context.Context, id string, pct int, message string) {
	p.update(ctx, id, func(j *model.AnalysisJob) error {
		j.SetProgress(pct, message, p.now())
		return nil
	})
}

// fail 标记失败，reason 给用户看，cause 只写日志
func (p *Processor) fail(ctx context.Context, id, reason string, cause error) error {
	if cause != nil {
		log.Printf("Job %s: failed: %s: %v", id, reason, cause)
	} else {
		log.Printf("Job %s: failed: %s", id, reason)
	}

	// 任务被取消时 ctx 可能已失效，终态仍需写入
	job, err := p.registry.Update(context.WithoutCancel(ctx), id, func(j *model.AnalysisJob) error {
		return j.Fail(reason, p.now())
	})
	if err != nil {
		log.Printf("Job %s: failed to record failure: %v", id, err)
		return fmt.Errorf("job %s: %s", id, reason)
	}
	p.finish(ctx, job)
	return fmt.Errorf("job %s: %s", id, reason)
}

// finish 终态后的收尾：推送、写历史、计数
func (p *Processor) finish(ctx context.Context, job *model.AnalysisJob) {
	p.publish(ctx, job)
	if p.history != nil {
		if err := p.history.Save(job); err != nil {
			log.Printf("Job %s: failed to save history: %v", job.ID, err)
		}
	}
	metrics.JobFinished(string(job.Status), float64(job.ElapsedSeconds))
}

func (p *Processor) publish(ctx context.Context, job *model.AnalysisJob) {
	if p.publisher == nil {
		return
	}
	err := p.publisher.PublishProgress(context.WithoutCancel(ctx), &pubsub.ProgressMessage{
		AnalysisID: job.ID,
		Status:     string(job.Status),
		Progress:   job.Progress,
		Message:    job.Message,
		Error:      job.ErrorMessage,
	})
	if err != nil {
		log.Printf("Job %s: failed to publish progress: %v", job.ID, err)
	}
}
