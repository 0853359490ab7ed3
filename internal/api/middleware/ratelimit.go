package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/qs3c/doc_gen_server/config"
	"github.com/qs3c/doc_gen_server/internal/pkg/response"
)

// 超过该时间未出现的客户端会被回收
const limiterIdle = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端 IP 的令牌桶
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter 创建限流器，RequestsPerSecond <= 0 时不限流
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow 该客户端当前是否可以再提交一次
func (l *RateLimiter) Allow(client string) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[client] = v
	}
	v.lastSeen = now

	for ip, other := range l.visitors {
		if now.Sub(other.lastSeen) > limiterIdle {
			delete(l.visitors, ip)
		}
	}
	return v.limiter.AllowN(now, 1)
}

// RateLimit 提交接口限流中间件
func RateLimit(l *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			response.RateLimitError(c, "too many submissions, slow down")
			return
		}
		c.Next()
	}
}
