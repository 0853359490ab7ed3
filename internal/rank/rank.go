// Package rank 选出最值得调用模型解读的文件
package rank

import (
	"path"
	"sort"
	"strings"

	"github.com/qs3c/doc_gen_server/internal/model"
)

// DefaultMaxFiles 默认解读文件数上限
const DefaultMaxFiles = 5

// Config 评分权重与上限
type Config struct {
	EndpointWeight int
	FunctionWeight int
	PathRoleWeight int
	MaxFiles       int
}

// DefaultConfig 默认权重：接口 10，函数 2，路径角色 1
func DefaultConfig() Config {
	return Config{EndpointWeight: 10, FunctionWeight: 2, PathRoleWeight: 1, MaxFiles: DefaultMaxFiles}
}

// Ranked 带分数的文件
type Ranked struct {
	File  *model.SourceFile
	Score int
}

var entrypointNames = map[string]bool{
	"main": true, "app": true, "server": true, "index": true,
}

var roleHints = []string{"api", "route", "controller", "handler", "service", "server"}

// PathRole 根据路径估计文件角色分
func PathRole(file *model.SourceFile) int {
	p := strings.ToLower(file.Path)
	base := path.Base(p)
	stem := strings.TrimSuffix(base, path.Ext(base))

	score := 0
	if entrypointNames[stem] {
		score += 20
	}
	for _, hint := range roleHints {
		if strings.Contains(p, hint) {
			score += 15
			break
		}
	}
	if file.IsBackend {
		score += 15
	}
	if IsTestPath(file.Path) {
		score -= 20
	}
	return score
}

var testDirs = map[string]bool{
	"test": true, "tests": true, "__tests__": true, "spec": true, "specs": true, "testdata": true,
}

// IsTestPath 按目录段和文件名前后缀判断测试文件，不做子串匹配
func IsTestPath(p string) bool {
	dir, base := path.Split(p)
	for _, seg := range strings.Split(strings.ToLower(dir), "/") {
		if testDirs[seg] {
			return true
		}
	}

	stem := strings.TrimSuffix(base, path.Ext(base))
	// FooTest.java / FooTests.cs
	if strings.HasSuffix(stem, "Test") || strings.HasSuffix(stem, "Tests") {
		return true
	}
	stem = strings.ToLower(stem)
	return strings.HasPrefix(stem, "test_") ||
		strings.HasSuffix(stem, "_test") ||
		strings.HasSuffix(stem, ".test") ||
		strings.HasSuffix(stem, ".spec")
}

// Score 计算文件分数
func Score(file *model.SourceFile, cfg Config) int {
	return len(file.Endpoints())*cfg.EndpointWeight +
		len(file.Functions())*cfg.FunctionWeight +
		PathRole(file)*cfg.PathRoleWeight
}

// Rank 按分数降序排序并截断；分数相同时路径短的优先，再按字典序
func Rank(files []model.SourceFile, cfg Config) []Ranked {
	limit := cfg.MaxFiles
	if limit <= 0 {
		limit = DefaultMaxFiles
	}

	ranked := make([]Ranked, 0, len(files))
	for i := range files {
		ranked = append(ranked, Ranked{File: &files[i], Score: Score(&files[i], cfg)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.File.Path) != len(b.File.Path) {
			return len(a.File.Path) < len(b.File.Path)
		}
		return a.File.Path < b.File.Path
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
