package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrFull 队列积压达到上限
var ErrFull = errors.New("analysis queue is full")

// pushScript 积压未满时才入队，返回 -1 表示已满
var pushScript = redis.NewScript(`
if tonumber(ARGV[2]) > 0 and redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[2]) then
	return -1
end
return redis.call('LPUSH', KEYS[1], ARGV[1])
`)

// Queue 基于 Redis list 的分析任务队列，server 入队，cmd/worker 出队
type Queue struct {
	client    *redis.Client
	queueName string
	backlog   int
}

// JobMessage 一次分析任务的投递内容
type JobMessage struct {
	AnalysisID string   `json:"analysis_id"`
	SourceType string   `json:"source_type"`
	RepoURL    string   `json:"repo_url,omitempty"`
	UploadPath string   `json:"upload_path,omitempty"` // 上传的 zip 文件路径
	APIKeys    []string `json:"api_keys,omitempty"`    // 为空时使用服务端配置
}

// NewQueue 创建队列；backlog <= 0 表示不限制积压
func NewQueue(client *redis.Client, queueName string, backlog int) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
		backlog:   backlog,
	}
}

// Push 将任务加入队列，积压已满时返回 ErrFull
func (q *Queue) Push(ctx context.Context, msg *JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	n, err := pushScript.Run(ctx, q.client, []string{q.queueName}, data, q.backlog).Int64()
	if err != nil {
		return fmt.Errorf("failed to push to queue: %w", err)
	}
	if n < 0 {
		return ErrFull
	}
	return nil
}

// Pop 从队列获取任务（阻塞），超时返回 nil, nil
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*JobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Length 当前积压
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}
