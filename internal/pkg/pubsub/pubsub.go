package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelAnalysisProgress = "analysis_progress"
)

// ProgressMessage 进度消息
type ProgressMessage struct {
	Type       string `json:"type"`
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// 消息类型
const (
	TypeProgress = "job_progress"
	TypeDone     = "job_done"
)

// 各状态的默认提示
var StatusMessages = map[string]string{
	"pending":    "waiting in queue",
	"cloning":    "fetching repository",
	"extracting": "extracting source structure",
	"enriching":  "generating file insights",
	"assembling": "assembling documentation",
	"completed":  "analysis completed",
	"failed":     "analysis failed",
}

// Publisher 进度发布接口
type Publisher interface {
	PublishProgress(ctx context.Context, msg *ProgressMessage) error
}

// normalize 填充类型与默认提示
func normalize(msg *ProgressMessage) {
	if msg.Type == "" {
		msg.Type = TypeProgress
		if msg.Status == "completed" || msg.Status == "failed" {
			msg.Type = TypeDone
		}
	}
	if msg.Message == "" {
		if message, ok := StatusMessages[msg.Status]; ok {
			msg.Message = message
		}
	}
}

// RedisPublisher Redis 发布者，供独立 worker 进程使用
type RedisPublisher struct {
	client *redis.Client
}

// NewPublisher 创建 Redis 发布者
func NewPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// PublishProgress 发布进度消息
func (p *RedisPublisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	normalize(msg)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	return p.client.Publish(ctx, ChannelAnalysisProgress, data).Err()
}

// FuncPublisher 进程内发布，直接调用处理函数
type FuncPublisher func(*ProgressMessage)

func (f FuncPublisher) PublishProgress(ctx context.Context, msg *ProgressMessage) error {
	normalize(msg)
	if f != nil {
		f(msg)
	}
	return nil
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅进度消息，ready 在订阅生效后关闭（可为 nil）
func (s *Subscriber) Subscribe(ctx context.Context, ready chan<- struct{}, handler func(*ProgressMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelAnalysisProgress)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var progressMsg ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progressMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&progressMsg)
		}
	}
}
