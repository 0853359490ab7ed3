// Package llm 调用 OpenAI 兼容的对话补全接口生成文件解读
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/qs3c/doc_gen_server/internal/model"
)

var ErrEmptyResponse = errors.New("provider returned no content")

// ThrottleError 服务端限流，RetryAfter 为零表示没有给出等待时间
type ThrottleError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *ThrottleError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// ProviderError 非限流错误；Transient 为 true 时值得重试（5xx、网络错误）
type ProviderError struct {
	StatusCode int
	Body       string
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider request failed: %v", e.Err)
	}
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, truncate(e.Body, 200))
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Provider 发送单次解读请求
type Provider interface {
	Enrich(ctx context.Context, apiKey string, req model.EnrichmentRequest) (*model.Insight, error)
}

// Config 客户端参数
type Config struct {
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Client 对话补全客户端
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient 创建客户端
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.1-8b-instant"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Enrich 发送请求并解析结果
func (c *Client) Enrich(ctx context.Context, apiKey string, req model.EnrichmentRequest) (*model.Insight, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Err: err, Transient: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Err: err, Transient: true}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottleError{
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), string(body)),
			Body:       truncate(string(body), 200),
		}
	case resp.StatusCode >= 500:
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(body), Transient: true}
	case resp.StatusCode != http.StatusOK:
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(body), Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	return ParseInsight(parsed.Choices[0].Message.Content), nil
}

var (
	tryAgainSecRe = regexp.MustCompile(`try again in ([\d.]+)s\b`)
	tryAgainMsRe  = regexp.MustCompile(`try again in ([\d.]+)ms\b`)
	tryAgainMinRe = regexp.MustCompile(`try again in (\d+)m([\d.]+)s\b`)
)

// ParseRetryAfter 优先读取 Retry-After 头，其次解析正文中的 "try again in 5.2s"
func ParseRetryAfter(header, body string) time.Duration {
	if header = strings.TrimSpace(header); header != "" {
		if secs, err := strconv.ParseFloat(header, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
		if t, err := http.ParseTime(header); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}

	lower := strings.ToLower(body)
	if m := tryAgainMinRe.FindStringSubmatch(lower); m != nil {
		mins, _ := strconv.Atoi(m[1])
		secs, _ := strconv.ParseFloat(m[2], 64)
		return time.Duration(mins)*time.Minute + time.Duration(secs*float64(time.Second))
	}
	if m := tryAgainMsRe.FindStringSubmatch(lower); m != nil {
		ms, _ := strconv.ParseFloat(m[1], 64)
		return time.Duration(ms * float64(time.Millisecond))
	}
	if m := tryAgainSecRe.FindStringSubmatch(lower); m != nil {
		secs, _ := strconv.ParseFloat(m[1], 64)
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
