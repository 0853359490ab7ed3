// Package dispatch 在多把 API Key 之间分配模型调用，保证每把 Key 的滑动窗口额度
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNoKeys    = errors.New("no api keys configured")
	ErrCancelled = errors.New("analysis cancelled")
)

// cancelPoll 等待额度期间检查取消标记的间隔
const cancelPoll = 500 * time.Millisecond

// Outcome 单次请求结果
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeThrottled
	OutcomeFailed
)

// KeyBudget 单把 Key 的额度记录
type KeyBudget struct {
	ID            string        `json:"id"`
	Limit         int           `json:"limit"`
	Window        time.Duration `json:"window"`
	Requests      []time.Time   `json:"-"`
	Used          int           `json:"used"`
	Total         int           `json:"total"`
	Successes     int           `json:"successes"`
	Failures      int           `json:"failures"`
	Throttled     int           `json:"throttled"`
	LastUsed      time.Time     `json:"last_used"`
	CooldownUntil time.Time     `json:"cooldown_until"`

	seq uint64
}

// prune 丢弃窗口外的请求时间
func (k *KeyBudget) prune(now time.Time) {
	cutoff := now.Add(-k.Window)
	i := 0
	for i < len(k.Requests) && !k.Requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		k.Requests = append(k.Requests[:0], k.Requests[i:]...)
	}
	k.Used = len(k.Requests)
}

func (k *KeyBudget) available(now time.Time) bool {
	return len(k.Requests) < k.Limit && !now.Before(k.CooldownUntil)
}

// nextAvailable 最早可用时刻，调用前需先 prune
func (k *KeyBudget) nextAvailable(now time.Time) time.Time {
	at := now
	if len(k.Requests) >= k.Limit {
		// 最老的一条滑出窗口即可再发一次
		at = k.Requests[len(k.Requests)-k.Limit].Add(k.Window)
	}
	if k.CooldownUntil.After(at) {
		at = k.CooldownUntil
	}
	return at
}

// Lease 一次已计入额度的使用权
type Lease struct {
	Index int
	Key   string
	ID    string
	At    time.Time
}

// Budgets 一组 Key 的额度视图。由 Pool 创建时，同一把 Key 在所有视图中
// 指向同一条 KeyBudget，并共用 Pool 的互斥锁
type Budgets struct {
	mu      *sync.Mutex
	keys    []string
	budgets []*KeyBudget
	clock   Clock
	seq     *uint64

	releaseOnce sync.Once
	release     func()
}

// NewBudgets 创建额度表；limit<=0 或 window<=0 时使用 15 次 / 60 秒
func NewBudgets(keys []string, limit int, window time.Duration, clock Clock) *Budgets {
	if limit <= 0 {
		limit = 15
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if clock == nil {
		clock = RealClock()
	}
	b := &Budgets{
		mu:      &sync.Mutex{},
		keys:    append([]string(nil), keys...),
		budgets: make([]*KeyBudget, len(keys)),
		clock:   clock,
		seq:     new(uint64),
	}
	for i, k := range keys {
		b.budgets[i] = newKeyBudget(k, limit, window)
	}
	return b
}

func newKeyBudget(key string, limit int, window time.Duration) *KeyBudget {
	return &KeyBudget{ID: MaskKey(key), Limit: limit, Window: window}
}

// Release 归还视图，之后 Pool 可以回收其中空闲的 Key；可重复调用
func (b *Budgets) Release() {
	b.releaseOnce.Do(func() {
		if b.release != nil {
			b.release()
		}
	})
}

// Len Key 数量
func (b *Budgets) Len() int {
	return len(b.keys)
}

// Acquire 选出最久未使用且仍有额度、不在冷却中的 Key 并记一次请求；
// 没有可用 Key 时睡到最近的可用时刻再试
func (b *Budgets) Acquire(ctx context.Context) (Lease, error) {
	return b.AcquireUntil(ctx, nil)
}

// AcquireUntil 同 Acquire，等待期间 stop 返回 true 时放弃并返回 ErrCancelled
func (b *Budgets) AcquireUntil(ctx context.Context, stop func() bool) (Lease, error) {
	if len(b.keys) == 0 {
		return Lease{}, ErrNoKeys
	}
	for {
		if err := ctx.Err(); err != nil {
			return Lease{}, err
		}
		if stop != nil && stop() {
			return Lease{}, ErrCancelled
		}

		b.mu.Lock()
		now := b.clock.Now()
		best := -1
		var wakeAt time.Time
		for i, kb := range b.budgets {
			kb.prune(now)
			if kb.available(now) {
				if best < 0 || kb.seq < b.budgets[best].seq {
					best = i
				}
				continue
			}
			if at := kb.nextAvailable(now); wakeAt.IsZero() || at.Before(wakeAt) {
				wakeAt = at
			}
		}

		if best >= 0 {
			kb := b.budgets[best]
			*b.seq++
			kb.seq = *b.seq
			kb.Requests = append(kb.Requests, now)
			kb.Used = len(kb.Requests)
			kb.Total++
			kb.LastUsed = now
			b.mu.Unlock()
			return Lease{Index: best, Key: b.keys[best], ID: kb.ID, At: now}, nil
		}
		b.mu.Unlock()

		wait := wakeAt.Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		if stop != nil && wait > cancelPoll {
			wait = cancelPoll
		}
		if err := b.clock.Sleep(ctx, wait); err != nil {
			return Lease{}, err
		}
	}
}

// Record 记录请求结果；cooldown>0 时该 Key 在此之前不会被选中
func (b *Budgets) Record(index int, outcome Outcome, cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.budgets) {
		return
	}
	kb := b.budgets[index]
	switch outcome {
	case OutcomeSuccess:
		kb.Successes++
	case OutcomeThrottled:
		kb.Throttled++
	default:
		kb.Failures++
	}
	if cooldown > 0 {
		if until := b.clock.Now().Add(cooldown); until.After(kb.CooldownUntil) {
			kb.CooldownUntil = until
		}
	}
}

// Snapshot 返回额度表副本
func (b *Budgets) Snapshot() []KeyBudget {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	out := make([]KeyBudget, len(b.budgets))
	for i, kb := range b.budgets {
		kb.prune(now)
		out[i] = *kb
		out[i].Requests = append([]time.Time(nil), kb.Requests...)
	}
	return out
}

// MaskKey 仅保留末四位用于日志与展示
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
