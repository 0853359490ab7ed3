// Package registry 保存进行中与最近完成的分析任务，供轮询查询
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/qs3c/doc_gen_server/internal/model"
)

var ErrNotFound = errors.New("analysis not found")
var ErrExists = errors.New("analysis already exists")

// Registry 任务注册表；Update 在持有记录的情况下执行 fn，fn 返回错误时不写回
type Registry interface {
	Create(ctx context.Context, job *model.AnalysisJob) error
	Get(ctx context.Context, id string) (*model.AnalysisJob, error)
	Update(ctx context.Context, id string, fn func(*model.AnalysisJob) error) (*model.AnalysisJob, error)
	List(ctx context.Context) ([]*model.AnalysisJob, error)
	Delete(ctx context.Context, id string) error
	// Expire 删除在 before 之前结束的任务，返回被删除的 ID
	Expire(ctx context.Context, before time.Time) ([]string, error)
}

// Memory 进程内注册表
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*model.AnalysisJob
}

// NewMemory 创建进程内注册表
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*model.AnalysisJob)}
}

func (m *Memory) Create(ctx context.Context, job *model.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrExists
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*model.AnalysisJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, id string, fn func(*model.AnalysisJob) error) (*model.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := job.Clone()
	if err := fn(next); err != nil {
		return job.Clone(), err
	}
	m.jobs[id] = next
	return next.Clone(), nil
}

func (m *Memory) List(ctx context.Context) ([]*model.AnalysisJob, error) {
	m.mu.RLock()
	out := make([]*model.AnalysisJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.Clone())
	}
	m.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) Expire(ctx context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, job := range m.jobs {
		if expired(job, before) {
			delete(m.jobs, id)
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// expired 只有已结束的任务会过期
func expired(job *model.AnalysisJob, before time.Time) bool {
	if !job.Status.IsTerminal() {
		return false
	}
	finished := job.UpdatedAt
	if job.CompletedAt != nil {
		finished = *job.CompletedAt
	}
	return finished.Before(before)
}

func sortNewestFirst(jobs []*model.AnalysisJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}
