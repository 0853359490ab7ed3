package extract

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/qs3c/doc_gen_server/internal/ingest"
	"github.com/qs3c/doc_gen_server/internal/model"
)

// ErrCancelled 提取过程中任务被取消
var ErrCancelled = errors.New("extraction cancelled")

// Options 提取池参数
type Options struct {
	Workers     int           // 0 表示 CPU 核数
	FileTimeout time.Duration // 单文件解析超时
}

// Hooks 进度回调与取消检查，均可为空
type Hooks struct {
	OnFile    func(done, total int)
	Cancelled func() bool
}

// Extractor 并发提取源文件，结果顺序与输入一致
type Extractor struct {
	workers int
	timeout time.Duration
}

// NewExtractor 创建提取器
func NewExtractor(opts Options) *Extractor {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	timeout := opts.FileTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Extractor{workers: workers, timeout: timeout}
}

// ExtractAll 提取全部候选文件，所有文件处理完才返回
func (e *Extractor) ExtractAll(ctx context.Context, root string, cands []ingest.Candidate, hooks Hooks) ([]model.SourceFile, error) {
	results := make([]model.SourceFile, len(cands))
	if len(cands) == 0 {
		return results, nil
	}

	workers := e.workers
	if workers > len(cands) {
		workers = len(cands)
	}

	var (
		mu        sync.Mutex
		done      int
		cancelled bool
	)
	isCancelled := func() bool {
		if ctx.Err() != nil {
			return true
		}
		return hooks.Cancelled != nil && hooks.Cancelled()
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = e.extractOne(ctx, root, cands[idx])

				mu.Lock()
				done++
				n := done
				if hooks.OnFile != nil {
					hooks.OnFile(n, len(cands))
				}
				mu.Unlock()
			}
		}()
	}

	for i := range cands {
		// 每个文件开始前检查取消标记
		if isCancelled() {
			cancelled = true
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if cancelled {
		return nil, ErrCancelled
	}
	return results, nil
}

// extractOne 处理单个文件，任何本地错误都只影响该文件
func (e *Extractor) extractOne(ctx context.Context, root string, c ingest.Candidate) (file model.SourceFile) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Extract %s: recovered from panic: %v", c.Path, r)
			file = Failed(c.Path, c.Language, c.Size, fmt.Sprintf("extraction panicked: %v", r))
		}
	}()

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(c.Path)))
	if err != nil {
		log.Printf("Extract %s: read failed: %v", c.Path, err)
		return Failed(c.Path, c.Language, c.Size, fmt.Sprintf("read failed: %v", err))
	}

	fileCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	file = ExtractFile(fileCtx, c.Path, c.Language, content)
	if errors.Is(fileCtx.Err(), context.DeadlineExceeded) {
		log.Printf("Extract %s: timed out after %v", c.Path, e.timeout)
		file = Failed(c.Path, c.Language, c.Size, fmt.Sprintf("extraction timed out after %v", e.timeout))
	}
	return file
}
