package worker

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/qs3c/doc_gen_server/internal/pkg/queue"
)

// ErrQueueFull 本地队列已满
var ErrQueueFull = errors.New("analysis queue is full")

// Runner 进程内的有界任务池，不依赖 Redis
type Runner struct {
	processor *Processor
	jobs      chan *queue.JobMessage
	workers   int
	wg        sync.WaitGroup
}

// NewRunner 创建本地任务池
func NewRunner(p *Processor, workers, backlog int) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if backlog <= 0 {
		backlog = 100
	}
	return &Runner{
		processor: p,
		jobs:      make(chan *queue.JobMessage, backlog),
		workers:   workers,
	}
}

// Push 投递任务，队列满时立即返回 ErrQueueFull
func (r *Runner) Push(ctx context.Context, msg *queue.JobMessage) error {
	select {
	case r.jobs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Start 启动 worker，ctx 取消后退出
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func(id int) {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-r.jobs:
					log.Printf("Runner %d: processing job %s", id, msg.AnalysisID)
					if err := r.processor.Process(ctx, msg); err != nil {
						log.Printf("Runner %d: %v", id, err)
					}
				}
			}
		}(i)
	}
	log.Printf("Runner started with %d workers", r.workers)
}

// Wait 等待所有 worker 退出
func (r *Runner) Wait() {
	r.wg.Wait()
}
