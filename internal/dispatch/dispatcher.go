package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/qs3c/doc_gen_server/internal/llm"
	"github.com/qs3c/doc_gen_server/internal/model"
	"github.com/qs3c/doc_gen_server/internal/pkg/metrics"
)

// Config 重试参数
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig 默认最多 3 次，退避 2s 起步，上限 60s
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second}
}

// Hooks 调度过程中的回调
type Hooks struct {
	// OnResult 每个文件得出最终结果后调用，done 为已完成数
	OnResult  func(done, total int, res model.EnrichmentResult)
	Cancelled func() bool
}

// Dispatcher 把解读请求分发到各 Key 上
type Dispatcher struct {
	provider llm.Provider
	budgets  *Budgets
	cfg      Config
}

// NewDispatcher 创建调度器
func NewDispatcher(provider llm.Provider, budgets *Budgets, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Dispatcher{provider: provider, budgets: budgets, cfg: cfg}
}

// Budgets 返回共享的额度表
func (d *Dispatcher) Budgets() *Budgets {
	return d.budgets
}

// Backoff 第 attempt 次失败后的冷却时间
func (d *Dispatcher) Backoff(attempt int) time.Duration {
	delay := d.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.MaxDelay {
			return d.cfg.MaxDelay
		}
	}
	if delay > d.cfg.MaxDelay {
		return d.cfg.MaxDelay
	}
	return delay
}

// Dispatch 并发处理全部请求，worker 数等于 Key 数；
// 返回每个路径的结果，失败的文件标记为不可用而不会中断整体
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []model.EnrichmentRequest, hooks Hooks) map[string]model.EnrichmentResult {
	results := make(map[string]model.EnrichmentResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	var mu sync.Mutex
	done := 0
	finish := func(res model.EnrichmentResult) {
		mu.Lock()
		results[res.Path] = res
		done++
		n := done
		mu.Unlock()

		if res.Available() {
			metrics.EnrichmentResult("available")
		} else {
			metrics.EnrichmentResult(res.Failure)
		}
		if hooks.OnResult != nil {
			hooks.OnResult(n, len(reqs), res)
		}
	}

	if d.budgets == nil || d.budgets.Len() == 0 {
		for _, req := range reqs {
			finish(model.EnrichmentResult{Path: req.Path, Failure: model.FailureNoKeys, Detail: ErrNoKeys.Error()})
		}
		return results
	}

	workers := d.budgets.Len()
	if workers > len(reqs) {
		workers = len(reqs)
	}

	jobs := make(chan model.EnrichmentRequest)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				finish(d.enrichOne(ctx, req, hooks.Cancelled))
			}
		}()
	}
	for _, req := range reqs {
		jobs <- req
	}
	close(jobs)
	wg.Wait()

	return results
}

func cancelled(ctx context.Context, fn func() bool) bool {
	return ctx.Err() != nil || (fn != nil && fn())
}

// enrichOne 单个文件的重试循环，取消只在请求之间检查
func (d *Dispatcher) enrichOne(ctx context.Context, req model.EnrichmentRequest, isCancelled func() bool) model.EnrichmentResult {
	res := model.EnrichmentResult{Path: req.Path}
	var lastErr error

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if cancelled(ctx, isCancelled) {
			res.Failure = model.FailureCancelled
			res.Detail = model.CancelledMessage
			return res
		}

		lease, err := d.budgets.AcquireUntil(ctx, func() bool { return cancelled(ctx, isCancelled) })
		if err != nil {
			res.Failure = model.FailureCancelled
			res.Detail = err.Error()
			if errors.Is(err, ErrCancelled) {
				res.Detail = model.CancelledMessage
			}
			return res
		}
		res.Attempts = attempt
		res.KeyID = lease.ID

		insight, err := d.provider.Enrich(ctx, lease.Key, req)
		if err == nil {
			d.budgets.Record(lease.Index, OutcomeSuccess, 0)
			metrics.ProviderRequest("success")
			res.Insight = insight
			return res
		}
		lastErr = err

		var throttle *llm.ThrottleError
		var perr *llm.ProviderError
		switch {
		case errors.As(err, &throttle):
			cooldown := throttle.RetryAfter
			if cooldown <= 0 {
				cooldown = d.Backoff(attempt)
			}
			// 冷却不超过 MaxDelay
			if cooldown > d.cfg.MaxDelay {
				cooldown = d.cfg.MaxDelay
			}
			d.budgets.Record(lease.Index, OutcomeThrottled, cooldown)
			metrics.ProviderRequest("throttled")
			log.Printf("Enrich %s: key %s throttled (attempt %d/%d), cooling down %v", req.Path, lease.ID, attempt, d.cfg.MaxAttempts, cooldown)

		case errors.As(err, &perr) && perr.Transient:
			if ctx.Err() != nil {
				res.Failure = model.FailureCancelled
				res.Detail = ctx.Err().Error()
				return res
			}
			d.budgets.Record(lease.Index, OutcomeFailed, d.Backoff(attempt))
			metrics.ProviderRequest("transient")
			log.Printf("Enrich %s: transient provider error on key %s (attempt %d/%d): %v", req.Path, lease.ID, attempt, d.cfg.MaxAttempts, err)

		default:
			d.budgets.Record(lease.Index, OutcomeFailed, 0)
			metrics.ProviderRequest("error")
			log.Printf("Enrich %s: provider error on key %s: %v", req.Path, lease.ID, err)
			res.Failure = model.FailureProviderError
			res.Detail = err.Error()
			return res
		}
	}

	if errors.As(lastErr, new(*llm.ThrottleError)) {
		res.Failure = model.FailureThrottled
	} else {
		res.Failure = model.FailureProviderError
	}
	if lastErr != nil {
		res.Detail = lastErr.Error()
	}
	return res
}
