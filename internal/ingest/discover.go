package ingest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultMaxFileSize 超过该大小的文件不参与分析
const DefaultMaxFileSize = 100 * 1024

// Candidate 待提取的源文件
type Candidate struct {
	Path     string // 相对仓库根目录，使用 / 分隔
	Language string
	Size     int64
}

// DiscoverOptions 文件发现选项
type DiscoverOptions struct {
	MaxFileSize    int64
	IgnorePatterns []string // gitignore 语法
}

var languageByExt = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "tsx",
	".go":    "go",
	".java":  "java",
	".rb":    "ruby",
	".php":   "php",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".kt":    "kotlin",
	".swift": "swift",
}

var skipDirs = map[string]struct{}{
	"node_modules":     {},
	"vendor":           {},
	"__pycache__":      {},
	"venv":             {},
	"env":              {},
	"dist":             {},
	"build":            {},
	"target":           {},
	"coverage":         {},
	"site-packages":    {},
	"bower_components": {},
}

// LanguageForPath 根据扩展名判断语言，不支持时返回空
func LanguageForPath(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}

// Discover 遍历目录，返回按路径排序的候选源文件
func Discover(root string, opts DiscoverOptions) ([]Candidate, error) {
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	gi := loadIgnore(root, opts.IgnorePatterns)

	var results []Candidate
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // 跳过无法访问的条目
		}

		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if gi != nil {
				if rel, err := filepath.Rel(root, path); err == nil && gi.MatchesPath(filepath.ToSlash(rel)+"/") {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if strings.HasPrefix(name, ".") || d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		lang := LanguageForPath(name)
		if lang == "" {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxSize || info.Size() == 0 {
			return nil
		}

		results = append(results, Candidate{Path: rel, Language: lang, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})
	return results, nil
}

// loadIgnore 合并仓库 .gitignore 与配置的忽略规则
func loadIgnore(root string, extra []string) *ignore.GitIgnore {
	var lines []string
	if data, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		lines = append(lines, strings.Split(string(data), "\n")...)
	}
	lines = append(lines, extra...)
	if len(lines) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(lines...)
}
