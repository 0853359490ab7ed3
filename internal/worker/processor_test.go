package worker

import (
	"archive/zip"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/doc_gen_server/config"
	"github.com/qs3c/doc_gen_server/internal/assemble"
	"github.com/qs3c/doc_gen_server/internal/dispatch"
	"github.com/qs3c/doc_gen_server/internal/ingest"
	"github.com/qs3c/doc_gen_server/internal/llm"
	"github.com/qs3c/doc_gen_server/internal/model"
	"github.com/qs3c/doc_gen_server/internal/pkg/pubsub"
	"github.com/qs3c/doc_gen_server/internal/pkg/queue"
	"github.com/qs3c/doc_gen_server/internal/registry"
	"github.com/qs3c/doc_gen_server/internal/repository"
	"github.com/qs3c/doc_gen_server/internal/testutil"
)

const testRepoURL = "https://github.com/acme/shop"

// localSource 把本地目录当作远程仓库
type localSource struct {
	dir      string
	reachErr error
}

func (s localSource) Reachable(ctx context.Context, repoURL string) error {
	return s.reachErr
}

func (s localSource) Clone(ctx context.Context, repoURL, dest string) error {
	return filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(s.dir, path)
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0644)
	})
}

type providerFunc func(ctx context.Context, key string, req model.EnrichmentRequest) (*model.Insight, error)

func (f providerFunc) Enrich(ctx context.Context, key string, req model.EnrichmentRequest) (*model.Insight, error) {
	return f(ctx, key, req)
}

func okProvider(calls *atomic.Int32) llm.Provider {
	return providerFunc(func(ctx context.Context, key string, req model.EnrichmentRequest) (*model.Insight, error) {
		calls.Add(1)
		return &model.Insight{Summary: "Handles " + req.Path, Behaviors: []string{"does things"}}, nil
	})
}

type memUploader struct {
	mu   sync.Mutex
	keys []string
}

func (u *memUploader) UploadDocument(jobID, name string, data []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, jobID+"/"+name)
	return "https://cdn.example.com/" + jobID + "/" + name, nil
}

type testEnv struct {
	processor *Processor
	registry  registry.Registry
	history   *repository.JobRepository
	cfg       *config.Config
	pool      *dispatch.Pool
	clock     *dispatch.FakeClock

	mu     sync.Mutex
	events []*pubsub.ProgressMessage
}

func (e *testEnv) published() []*pubsub.ProgressMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*pubsub.ProgressMessage(nil), e.events...)
}

func newTestEnv(t *testing.T, provider llm.Provider, repo string) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{}
	cfg.Analysis.WorkspaceDir = t.TempDir()
	cfg.Analysis.OutputDir = t.TempDir()
	cfg.Analysis.ExtractWorkers = 2
	cfg.LLM.APIKeys = []string{"key-one", "key-two"}
	cfg.LLM.MaxAttempts = 2
	cfg.LLM.BaseDelayMs = 10
	cfg.LLM.MaxDelayMs = 100

	env := &testEnv{registry: registry.NewMemory(), history: repository.NewJobRepository(db), cfg: cfg}
	publisher := pubsub.FuncPublisher(func(msg *pubsub.ProgressMessage) {
		env.mu.Lock()
		defer env.mu.Unlock()
		cp := *msg
		env.events = append(env.events, &cp)
	})
	env.clock = dispatch.NewFakeClock(time.Now())
	env.pool = dispatch.NewPool(15, time.Minute, env.clock)

	env.processor = NewProcessor(env.registry, env.history, publisher, env.pool, provider, cfg).
		WithSource(localSource{dir: repo})
	return env
}

func (e *testEnv) submit(t *testing.T, id string) *queue.JobMessage {
	t.Helper()
	job := model.NewAnalysisJob(id, testRepoURL, model.SourceGithub, time.Now())
	require.NoError(t, e.registry.Create(context.Background(), job))
	return &queue.JobMessage{AnalysisID: id, SourceType: model.SourceGithub, RepoURL: testRepoURL}
}

func TestProcessor_FullPipeline(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, okProvider(&calls), testutil.WriteRepo(t, testutil.ThreeFileRepo()))
	ctx := context.Background()

	require.NoError(t, env.processor.Process(ctx, env.submit(t, "job-1")))

	job, err := env.registry.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 3, job.FileCount)
	assert.Equal(t, 2, job.EndpointCount)
	assert.Equal(t, 3, job.EnrichedCount)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, job.Languages, "python")

	manifest, err := assemble.ReadManifest(job.ResultDir)
	require.NoError(t, err)
	names := make([]string, 0, len(manifest.Documents))
	for _, d := range manifest.Documents {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, assemble.OverviewName)
	assert.Contains(t, names, assemble.APIIndexName)
	assert.Contains(t, names, assemble.FileDocName("users.py"))

	index, err := assemble.ReadDocument(job.ResultDir, assemble.APIIndexName)
	require.NoError(t, err)
	assert.Contains(t, string(index), "`/users`")
	assert.Contains(t, string(index), "`/orders`")

	// 工作区已清理
	_, err = os.Stat(ingest.Workspace(env.cfg.Analysis.WorkspaceDir, "job-1"))
	assert.True(t, os.IsNotExist(err))

	// 历史记录
	saved, err := env.history.GetByID("job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, saved.Status)

	// 推送的状态按顺序经过每个阶段，进度不回退
	var statuses []string
	last := 0
	for _, ev := range env.published() {
		assert.GreaterOrEqual(t, ev.Progress, last)
		last = ev.Progress
		if len(statuses) == 0 || statuses[len(statuses)-1] != ev.Status {
			statuses = append(statuses, ev.Status)
		}
	}
	assert.Equal(t, []string{"cloning", "extracting", "enriching", "assembling", "completed"}, statuses)
	events := env.published()
	assert.Equal(t, pubsub.TypeDone, events[len(events)-1].Type)
}

func TestProcessor_UnreachableTarget(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, okProvider(&calls), t.TempDir())
	env.processor.WithSource(localSource{reachErr: &ingest.IngestError{
		UserMessage: "repository not found or not accessible",
		RawError:    errors.New("exit status 128"),
	}})
	ctx := context.Background()

	err := env.processor.Process(ctx, env.submit(t, "job-404"))
	require.Error(t, err)

	job, err := env.registry.Get(ctx, "job-404")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Nil(t, job.StartedAt)
	assert.Equal(t, "repository not found or not accessible", job.ErrorMessage)
	assert.Equal(t, int32(0), calls.Load())

	// 没有经过 cloning
	for _, ev := range env.published() {
		assert.NotEqual(t, "cloning", ev.Status)
	}
}

func TestProcessor_InvalidURL(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, okProvider(&calls), t.TempDir())
	ctx := context.Background()

	msg := env.submit(t, "job-bad")
	msg.RepoURL = "not a url"
	require.Error(t, env.processor.Process(ctx, msg))

	job, err := env.registry.Get(ctx, "job-bad")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, job.Status)
	assert.NotEmpty(t, job.ErrorMessage)
}

func TestProcessor_AllThrottledStillCompletes(t *testing.T) {
	var calls atomic.Int32
	provider := providerFunc(func(ctx context.Context, key string, req model.EnrichmentRequest) (*model.Insight, error) {
		calls.Add(1)
		return nil, &llm.ThrottleError{RetryAfter: time.Second}
	})
	env := newTestEnv(t, provider, testutil.WriteRepo(t, testutil.ThreeFileRepo()))
	ctx := context.Background()

	require.NoError(t, env.processor.Process(ctx, env.submit(t, "job-429")))

	job, err := env.registry.Get(ctx, "job-429")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, 0, job.EnrichedCount)
	assert.Equal(t, int32(3*env.cfg.LLM.MaxAttempts), calls.Load())

	manifest, err := assemble.ReadManifest(job.ResultDir)
	require.NoError(t, err)
	assert.Equal(t, 3, manifest.Meta.UnavailableCount)
}

func TestProcessor_RequestKeysOverrideConfig(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	provider := providerFunc(func(ctx context.Context, key string, req model.EnrichmentRequest) (*model.Insight, error) {
		mu.Lock()
		seen[key] = true
		mu.Unlock()
		return &model.Insight{Summary: "ok"}, nil
	})
	env := newTestEnv(t, provider, testutil.WriteRepo(t, testutil.ThreeFileRepo()))

	msg := env.submit(t, "job-keys")
	msg.APIKeys = []string{"user-key"}
	require.NoError(t, env.processor.Process(context.Background(), msg))

	assert.Equal(t, map[string]bool{"user-key": true}, seen)

	// 任务结束后请求级 Key 不再常驻
	env.clock.Advance(2 * time.Minute)
	env.pool.Get(nil).Release()
	assert.Equal(t, 0, env.pool.Len())
}

func TestProcessor_EnrichmentCap(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, okProvider(&calls), testutil.WriteRepo(t, testutil.ThreeFileRepo()))
	env.cfg.Analysis.MaxEnrichedFiles = 1
	ctx := context.Background()

	require.NoError(t, env.processor.Process(ctx, env.submit(t, "job-cap")))

	job, err := env.registry.Get(ctx, "job-cap")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, 1, job.EnrichedCount)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProcessor_CancelDuringEnrichment(t *testing.T) {
	var env *testEnv
	var calls atomic.Int32
	provider := providerFunc(func(ctx context.Context, key string, req model.EnrichmentRequest) (*model.Insight, error) {
		calls.Add(1)
		_, err := env.registry.Update(ctx, "job-cancel", func(j *model.AnalysisJob) error {
			j.CancelRequested = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &model.Insight{Summary: "ok"}, nil
	})
	env = newTestEnv(t, provider, testutil.WriteRepo(t, testutil.ThreeFileRepo()))
	env.cfg.LLM.APIKeys = []string{"only-key"}
	ctx := context.Background()

	require.Error(t, env.processor.Process(ctx, env.submit(t, "job-cancel")))

	job, err := env.registry.Get(ctx, "job-cancel")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Equal(t, model.CancelledMessage, job.ErrorMessage)
	assert.Equal(t, int32(1), calls.Load())
	assert.Less(t, job.Progress, 85)
	assert.Empty(t, job.ResultDir)
}

func TestProcessor_NotPending(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, okProvider(&calls), t.TempDir())
	ctx := context.Background()

	msg := env.submit(t, "job-done")
	_, err := env.registry.Update(ctx, "job-done", func(j *model.AnalysisJob) error {
		return j.Fail("boom", time.Now())
	})
	require.NoError(t, err)

	assert.Error(t, env.processor.Process(ctx, msg))
	assert.Empty(t, env.published())
}

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create("shop-main/" + name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestProcessor_Upload(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, okProvider(&calls), t.TempDir())
	ctx := context.Background()

	zipPath := writeZip(t, testutil.ThreeFileRepo())
	job := model.NewAnalysisJob("job-zip", "shop.zip", model.SourceUpload, time.Now())
	require.NoError(t, env.registry.Create(ctx, job))

	msg := &queue.JobMessage{AnalysisID: "job-zip", SourceType: model.SourceUpload, UploadPath: zipPath}
	require.NoError(t, env.processor.Process(ctx, msg))

	got, err := env.registry.Get(ctx, "job-zip")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.FileCount)

	overview, err := assemble.ReadDocument(got.ResultDir, assemble.OverviewName)
	require.NoError(t, err)
	assert.Contains(t, string(overview), "shop")

	// 上传文件处理后删除
	_, err = os.Stat(zipPath)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessor_UploadMissing(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, okProvider(&calls), t.TempDir())
	ctx := context.Background()

	job := model.NewAnalysisJob("job-nozip", "gone.zip", model.SourceUpload, time.Now())
	require.NoError(t, env.registry.Create(ctx, job))

	msg := &queue.JobMessage{AnalysisID: "job-nozip", SourceType: model.SourceUpload, UploadPath: "/nonexistent/gone.zip"}
	require.Error(t, env.processor.Process(ctx, msg))

	got, err := env.registry.Get(ctx, "job-nozip")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "the uploaded archive is missing or expired", got.ErrorMessage)
}

func TestProcessor_MirrorsDocuments(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, okProvider(&calls), testutil.WriteRepo(t, testutil.ThreeFileRepo()))
	up := &memUploader{}
	env.processor.WithUploader(up)
	ctx := context.Background()

	require.NoError(t, env.processor.Process(ctx, env.submit(t, "job-oss")))

	job, err := env.registry.Get(ctx, "job-oss")
	require.NoError(t, err)
	assert.True(t, assemble.IsMirrored(job.ResultDir))
	assert.Contains(t, up.keys, "job-oss/"+assemble.OverviewName)
}

func TestReuploader_Run(t *testing.T) {
	out := t.TempDir()
	w := assemble.NewWriter(out)
	set := &model.DocumentSet{Documents: []model.Document{
		{Name: assemble.OverviewName, Title: "Overview", Kind: model.DocOverview, Body: "# shop"},
	}}
	_, err := w.Write("job-a", set, time.Now())
	require.NoError(t, err)
	dirB, err := w.Write("job-b", set, time.Now())
	require.NoError(t, err)
	require.NoError(t, assemble.MarkMirrored(dirB))

	up := &memUploader{}
	r := NewReuploader(up, out)

	assert.Equal(t, 1, r.Run())
	assert.Equal(t, []string{"job-a/" + assemble.OverviewName}, up.keys)
	assert.True(t, assemble.IsMirrored(w.Dir("job-a")))

	// 第二轮没有需要补传的
	assert.Equal(t, 0, r.Run())
}

func TestRunner_PushWhenFull(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, okProvider(&calls), t.TempDir())
	r := NewRunner(env.processor, 1, 1)
	ctx := context.Background()

	require.NoError(t, r.Push(ctx, &queue.JobMessage{AnalysisID: "a"}))
	assert.ErrorIs(t, r.Push(ctx, &queue.JobMessage{AnalysisID: "b"}), ErrQueueFull)
}

func TestRunner_ProcessesJobs(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, okProvider(&calls), testutil.WriteRepo(t, testutil.ThreeFileRepo()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(env.processor, 2, 10)
	r.Start(ctx)
	require.NoError(t, r.Push(ctx, env.submit(t, "job-r1")))
	require.NoError(t, r.Push(ctx, env.submit(t, "job-r2")))

	require.Eventually(t, func() bool {
		for _, id := range []string{"job-r1", "job-r2"} {
			job, err := env.registry.Get(ctx, id)
			if err != nil || job.Status != model.StatusCompleted {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	r.Wait()
}
