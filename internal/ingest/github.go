package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/qs3c/doc_gen_server/internal/model"
)

// ParseRepoInfo 从仓库地址解析 owner/name
func ParseRepoInfo(repoURL string) model.RepoInfo {
	info := model.RepoInfo{URL: repoURL}

	var path string
	if strings.HasPrefix(repoURL, "git@") {
		_, path, _ = strings.Cut(repoURL, ":")
	} else if u, err := url.Parse(repoURL); err == nil {
		path = u.Path
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 {
		info.Owner = parts[0]
		info.Name = strings.TrimSuffix(parts[1], ".git")
	} else if len(parts) == 1 {
		info.Name = strings.TrimSuffix(parts[0], ".git")
	}
	return info
}

// MetadataFetcher 通过 GitHub API 补充仓库描述等信息
type MetadataFetcher struct {
	client *gh.Client
}

// NewMetadataFetcher 创建元信息查询客户端，token 为空时匿名访问
func NewMetadataFetcher(ctx context.Context, token string) *MetadataFetcher {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = 15 * time.Second
	return &MetadataFetcher{client: gh.NewClient(hc)}
}

// WithBaseURL 指向其他 API 地址（GitHub Enterprise 或测试服务器）
func (f *MetadataFetcher) WithBaseURL(base string) (*MetadataFetcher, error) {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	f.client.BaseURL = u
	return f, nil
}

// Enrich 填充描述、默认分支、星标数等字段，只处理 github.com 仓库
func (f *MetadataFetcher) Enrich(ctx context.Context, info model.RepoInfo) (model.RepoInfo, error) {
	if info.Owner == "" || info.Name == "" {
		return info, fmt.Errorf("incomplete repository reference %q", info.URL)
	}

	repo, _, err := f.client.Repositories.Get(ctx, info.Owner, info.Name)
	if err != nil {
		return info, fmt.Errorf("failed to fetch repository metadata: %w", err)
	}

	info.Description = repo.GetDescription()
	info.DefaultBranch = repo.GetDefaultBranch()
	info.Language = repo.GetLanguage()
	info.Stars = repo.GetStargazersCount()
	return info, nil
}

// IsGithubURL 是否为 github.com 仓库
func IsGithubURL(repoURL string) bool {
	return strings.HasPrefix(repoURL, "https://github.com/") || strings.HasPrefix(repoURL, "git@github.com:")
}
