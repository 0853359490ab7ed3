package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// IngestError 获取仓库失败，UserMessage 返回给调用方，RawError 写日志
type IngestError struct {
	UserMessage string
	RawError    error
}

func (e *IngestError) Error() string {
	return e.UserMessage
}

func (e *IngestError) Unwrap() error {
	return e.RawError
}

// UserMessage 提取错误中的用户可读信息
func UserMessage(err error) string {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.UserMessage
	}
	return err.Error()
}

// classify 根据 git 输出分类错误
func classify(output string, err error) *IngestError {
	lower := strings.ToLower(output + " " + err.Error())
	raw := fmt.Errorf("%w, output: %s", err, strings.TrimSpace(output))

	switch {
	case strings.Contains(lower, "repository not found") ||
		strings.Contains(lower, "not found"):
		return &IngestError{UserMessage: "repository not found or not accessible", RawError: raw}
	case strings.Contains(lower, "could not resolve host") ||
		strings.Contains(lower, "unable to access"):
		return &IngestError{UserMessage: "unable to reach the repository host", RawError: raw}
	case strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "403") ||
		strings.Contains(lower, "permission denied"):
		return &IngestError{UserMessage: "access to the repository was denied, only public repositories are supported", RawError: raw}
	case strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "timed out"):
		return &IngestError{UserMessage: "cloning timed out, the repository may be too large", RawError: raw}
	case strings.Contains(lower, "empty repository"):
		return &IngestError{UserMessage: "the repository is empty", RawError: raw}
	default:
		return &IngestError{UserMessage: "failed to fetch the repository", RawError: raw}
	}
}

func gitCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd
}

// Reachable 检查远端仓库是否可达，不下载内容
func Reachable(ctx context.Context, repoURL string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := gitCommand(checkCtx, "ls-remote", "--heads", repoURL).CombinedOutput()
	if err != nil {
		if checkCtx.Err() != nil {
			err = fmt.Errorf("%w: %v", checkCtx.Err(), err)
		}
		return classify(string(output), err)
	}
	return nil
}

// CloneRepo 浅克隆仓库到指定目录，失败不重试
func CloneRepo(ctx context.Context, repoURL, destDir string, timeout time.Duration) error {
	// 确保目标目录不存在
	if _, err := os.Stat(destDir); err == nil {
		if err := os.RemoveAll(destDir); err != nil {
			return &IngestError{
				UserMessage: "failed to prepare the workspace",
				RawError:    fmt.Errorf("failed to clean existing directory: %w", err),
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
		return &IngestError{
			UserMessage: "failed to prepare the workspace",
			RawError:    fmt.Errorf("failed to create parent directory: %w", err),
		}
	}

	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cloneCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := gitCommand(cloneCtx, "clone", "--depth", "1", "--single-branch", repoURL, destDir).CombinedOutput()
	if err != nil {
		// 克隆失败，清理残留目录
		os.RemoveAll(destDir)
		if cloneCtx.Err() != nil {
			err = fmt.Errorf("%w: %v", cloneCtx.Err(), err)
		}
		return classify(string(output), err)
	}

	return nil
}

// ValidateRepoURL 验证仓库 URL 格式
func ValidateRepoURL(repoURL string) error {
	if repoURL == "" {
		return &IngestError{UserMessage: "repository URL is required"}
	}

	if strings.HasPrefix(repoURL, "git@") {
		// git@github.com:user/repo.git
		rest := strings.TrimPrefix(repoURL, "git@")
		host, path, ok := strings.Cut(rest, ":")
		if !ok || host == "" || strings.Count(strings.Trim(path, "/"), "/") < 1 {
			return &IngestError{UserMessage: "repository URL must look like git@host:owner/repo.git"}
		}
		return nil
	}

	if !strings.HasPrefix(repoURL, "https://") {
		return &IngestError{UserMessage: "repository URL must start with https:// or git@"}
	}

	u, err := url.Parse(repoURL)
	if err != nil {
		return &IngestError{UserMessage: "repository URL is malformed", RawError: err}
	}
	if u.Host == "" {
		return &IngestError{UserMessage: "repository URL is missing a host"}
	}

	// 路径至少需要 /owner/repo
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return &IngestError{UserMessage: "repository URL must include owner and repository name"}
	}

	return nil
}
