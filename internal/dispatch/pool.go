package dispatch

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// keyState 进程内一把 Key 的共享额度与引用计数
type keyState struct {
	budget *KeyBudget
	refs   int
}

// Pool 进程级额度表：每把 Key 只有一条 KeyBudget，
// 不同任务即使 Key 组合不同，同一把 Key 也共享窗口额度
type Pool struct {
	mu     sync.Mutex
	seq    uint64
	limit  int
	window time.Duration
	clock  Clock
	keys   map[string]*keyState
}

// NewPool 创建额度表；limit<=0 或 window<=0 时使用 15 次 / 60 秒
func NewPool(limit int, window time.Duration, clock Clock) *Pool {
	if limit <= 0 {
		limit = 15
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Pool{
		limit:  limit,
		window: window,
		clock:  clock,
		keys:   make(map[string]*keyState),
	}
}

// Get 返回这组 Key 的额度视图，Key 顺序与重复不影响结果；
// 用完后调用 Release
func (p *Pool) Get(keys []string) *Budgets {
	keys = normalizeKeys(keys)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked(p.clock.Now())

	entries := make([]*KeyBudget, len(keys))
	for i, k := range keys {
		st, ok := p.keys[k]
		if !ok {
			st = &keyState{budget: newKeyBudget(k, p.limit, p.window)}
			p.keys[k] = st
		}
		st.refs++
		entries[i] = st.budget
	}

	return &Budgets{
		mu:      &p.mu,
		keys:    keys,
		budgets: entries,
		clock:   p.clock,
		seq:     &p.seq,
		release: func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for _, k := range keys {
				if st, ok := p.keys[k]; ok && st.refs > 0 {
					st.refs--
				}
			}
		},
	}
}

// Len 当前持有的 Key 数量
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// evictLocked 回收无人引用、窗口已清空且不在冷却中的 Key，
// 这样的记录与新建的记录等价，请求级 Key 也不会常驻内存
func (p *Pool) evictLocked(now time.Time) {
	for k, st := range p.keys {
		if st.refs > 0 {
			continue
		}
		st.budget.prune(now)
		if len(st.budget.Requests) == 0 && !now.Before(st.budget.CooldownUntil) {
			delete(p.keys, k)
		}
	}
}

// normalizeKeys 去空白、去重并排序
func normalizeKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
