// Package assemble 把提取结果和模型解读组装成 Markdown 文档集
package assemble

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/qs3c/doc_gen_server/internal/model"
	"github.com/qs3c/doc_gen_server/internal/rank"
)

// 固定的文档名
const (
	OverviewName = "OVERVIEW.md"
	APIIndexName = "API_INDEX.md"
	ManifestName = "manifest.json"
	FilesDir     = "files"
)

// TopDependencies 概览中列出的依赖数量上限
const TopDependencies = 15

// FileDocName 单文件文档名，路径分隔符替换为 "__"
func FileDocName(path string) string {
	return FilesDir + "/" + strings.ReplaceAll(path, "/", "__") + ".md"
}

// DocNames 为一组文件分配文档名。
// 扁平化后重名的路径（如 a/b.py 与 a__b.py）都在扩展名前加路径哈希
func DocNames(paths []string) map[string]string {
	byName := make(map[string][]string, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		n := FileDocName(p)
		byName[n] = append(byName[n], p)
	}

	names := make(map[string]string, len(seen))
	for n, group := range byName {
		if len(group) == 1 {
			names[group[0]] = n
			continue
		}
		base := strings.TrimSuffix(n, ".md")
		for _, p := range group {
			names[p] = fmt.Sprintf("%s-%08x.md", base, uint32(xxhash.Sum64String(p)))
		}
	}
	return names
}

// Assemble 生成概览、每个入选文件的说明与接口索引；
// elapsed 为截至组装时的分析耗时。组装过程中的 panic 转为错误返回
func Assemble(info model.RepoInfo, files []model.SourceFile, ranked []rank.Ranked, results map[string]model.EnrichmentResult, elapsed time.Duration) (set *model.DocumentSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			set = nil
			err = fmt.Errorf("assembly failed: %v", r)
		}
	}()

	meta := buildMeta(info, files, ranked, results)
	meta.DurationSeconds = elapsed.Seconds()
	set = &model.DocumentSet{Meta: meta}

	paths := make([]string, len(ranked))
	for i, r := range ranked {
		paths[i] = r.File.Path
	}
	names := DocNames(paths)

	set.Documents = append(set.Documents, newDoc(OverviewName, info.Name+" Overview", model.DocOverview,
		renderOverview(meta, files, ranked, results, names)))

	for _, r := range ranked {
		res, ok := results[r.File.Path]
		if !ok {
			res = model.EnrichmentResult{Path: r.File.Path, Failure: model.FailureNoKeys, Detail: "not requested"}
		}
		set.Documents = append(set.Documents, newDoc(names[r.File.Path], r.File.Path, model.DocFile,
			renderFile(r, res)))
	}

	set.Documents = append(set.Documents, newDoc(APIIndexName, "API Index", model.DocAPIIndex,
		renderAPIIndex(collectEndpoints(files))))

	return set, nil
}

func newDoc(name, title, kind, body string) model.Document {
	return model.Document{Name: name, Title: title, Kind: kind, Body: body, Size: len(body)}
}

func buildMeta(info model.RepoInfo, files []model.SourceFile, ranked []rank.Ranked, results map[string]model.EnrichmentResult) model.DocumentMeta {
	meta := model.DocumentMeta{
		Repo:            info,
		SourceFileCount: len(files),
		Languages:       languages(files),
	}
	for i := range files {
		meta.EndpointCount += len(files[i].Endpoints())
		meta.FunctionCount += len(files[i].Functions())
		if files[i].IsBackend {
			meta.BackendFileCount++
		}
	}
	meta.Purposes = purposes(files)
	meta.Dependencies = dependencies(files, TopDependencies)
	for _, r := range ranked {
		meta.RankedFiles = append(meta.RankedFiles, r.File.Path)
		if res, ok := results[r.File.Path]; ok && res.Available() {
			meta.EnrichedCount++
		} else {
			meta.UnavailableCount++
		}
	}
	return meta
}

// languages 按文件数降序，数量相同按名称
func languages(files []model.SourceFile) []string {
	counts := languageCounts(files)
	out := make([]string, 0, len(counts))
	for lang := range counts {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// UnclassifiedPurpose 未识别用途的文件归入此类
const UnclassifiedPurpose = "Unclassified"

// purposes 按用途统计文件数
func purposes(files []model.SourceFile) []model.NameCount {
	counts := make(map[string]int)
	for i := range files {
		p := strings.TrimSpace(files[i].Purpose)
		if p == "" {
			p = UnclassifiedPurpose
		}
		counts[p]++
	}
	return sortCounts(counts)
}

// dependencies 统计每个导入出现在多少个文件中，取前 limit 个；
// 同一文件内的重复导入只算一次
func dependencies(files []model.SourceFile, limit int) []model.NameCount {
	counts := make(map[string]int)
	for i := range files {
		seen := make(map[string]bool, len(files[i].Imports))
		for _, imp := range files[i].Imports {
			imp = strings.TrimSpace(imp)
			if imp == "" || seen[imp] {
				continue
			}
			seen[imp] = true
			counts[imp]++
		}
	}
	out := sortCounts(counts)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// sortCounts 按文件数降序，数量相同按名称
func sortCounts(counts map[string]int) []model.NameCount {
	out := make([]model.NameCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, model.NameCount{Name: name, Files: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Files != out[j].Files {
			return out[i].Files > out[j].Files
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func languageCounts(files []model.SourceFile) map[string]int {
	counts := make(map[string]int)
	for i := range files {
		counts[files[i].Language]++
	}
	return counts
}

type endpointRow struct {
	model.Symbol
	File string
}

func collectEndpoints(files []model.SourceFile) []endpointRow {
	var rows []endpointRow
	for i := range files {
		for _, s := range files[i].Endpoints() {
			rows = append(rows, endpointRow{Symbol: s, File: files[i].Path})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Route != b.Route {
			return a.Route < b.Route
		}
		if a.Method != b.Method {
			return a.Method < b.Method
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	return rows
}

// unavailableText 解读不可用时的占位说明
func unavailableText(res model.EnrichmentResult) string {
	reason := res.Failure
	if reason == "" {
		reason = "unknown"
	}
	return fmt.Sprintf("_AI enrichment unavailable (%s). The structural summary below was generated from static analysis only._", reason)
}
