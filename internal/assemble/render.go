package assemble

import (
	"fmt"
	"strings"

	"github.com/qs3c/doc_gen_server/internal/model"
	"github.com/qs3c/doc_gen_server/internal/rank"
)

func renderOverview(meta model.DocumentMeta, files []model.SourceFile, ranked []rank.Ranked, results map[string]model.EnrichmentResult, names map[string]string) string {
	var b strings.Builder
	repo := meta.Repo
	name := repo.Name
	if name == "" {
		name = "Repository"
	}

	fmt.Fprintf(&b, "# %s\n\n", name)
	if repo.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", repo.Description)
	}

	if repo.URL != "" || repo.Owner != "" {
		b.WriteString("## Repository\n\n")
		if repo.URL != "" {
			fmt.Fprintf(&b, "- URL: %s\n", repo.URL)
		}
		if repo.Owner != "" {
			fmt.Fprintf(&b, "- Owner: %s\n", repo.Owner)
		}
		if repo.DefaultBranch != "" {
			fmt.Fprintf(&b, "- Default branch: %s\n", repo.DefaultBranch)
		}
		if repo.Language != "" {
			fmt.Fprintf(&b, "- Primary language: %s\n", repo.Language)
		}
		if repo.Stars > 0 {
			fmt.Fprintf(&b, "- Stars: %d\n", repo.Stars)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Source files | %d |\n", meta.SourceFileCount)
	fmt.Fprintf(&b, "| Backend files | %d |\n", meta.BackendFileCount)
	fmt.Fprintf(&b, "| Languages | %s |\n", cell(strings.Join(meta.Languages, ", ")))
	fmt.Fprintf(&b, "| API endpoints | %d |\n", meta.EndpointCount)
	fmt.Fprintf(&b, "| Functions | %d |\n", meta.FunctionCount)
	fmt.Fprintf(&b, "| Documented files | %d |\n", len(ranked))
	fmt.Fprintf(&b, "| AI insights | %d of %d |\n", meta.EnrichedCount, len(ranked))
	fmt.Fprintf(&b, "| Analysis time | %.1fs |\n\n", meta.DurationSeconds)

	if len(meta.Languages) > 0 {
		counts := languageCounts(files)
		b.WriteString("## Languages\n\n")
		b.WriteString("| Language | Files |\n|---|---|\n")
		for _, lang := range meta.Languages {
			fmt.Fprintf(&b, "| %s | %d |\n", cell(lang), counts[lang])
		}
		b.WriteString("\n")
	}

	if len(meta.Purposes) > 0 {
		b.WriteString("## By Purpose\n\n")
		b.WriteString("| Purpose | Files |\n|---|---|\n")
		for _, p := range meta.Purposes {
			fmt.Fprintf(&b, "| %s | %d |\n", cell(p.Name), p.Files)
		}
		b.WriteString("\n")
	}

	if len(meta.Dependencies) > 0 {
		b.WriteString("## Dependencies\n\n")
		b.WriteString("| Dependency | Files |\n|---|---|\n")
		for _, d := range meta.Dependencies {
			fmt.Fprintf(&b, "| `%s` | %d |\n", cell(d.Name), d.Files)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Key Files\n\n")
	if len(ranked) == 0 {
		b.WriteString("No source files were found.\n")
	}
	for i, r := range ranked {
		f := r.File
		fmt.Fprintf(&b, "%d. [%s](%s) (score %d)", i+1, f.Path, names[f.Path], r.Score)
		if f.Purpose != "" {
			fmt.Fprintf(&b, " - %s", f.Purpose)
		}
		b.WriteString("\n")
		if res, ok := results[f.Path]; ok && res.Available() && res.Insight.Summary != "" {
			fmt.Fprintf(&b, "   %s\n", firstSentence(res.Insight.Summary))
		}
	}
	b.WriteString("\n")

	if meta.EndpointCount > 0 {
		fmt.Fprintf(&b, "See [API Index](%s) for all %d endpoints.\n", APIIndexName, meta.EndpointCount)
	}
	return b.String()
}

func renderFile(r rank.Ranked, res model.EnrichmentResult) string {
	f := r.File
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", f.Path)
	fmt.Fprintf(&b, "- Language: %s\n", f.Language)
	if f.Purpose != "" {
		fmt.Fprintf(&b, "- Purpose: %s\n", f.Purpose)
	}
	fmt.Fprintf(&b, "- Lines: %d\n", f.Lines)
	fmt.Fprintf(&b, "- Backend: %t\n", f.IsBackend)
	fmt.Fprintf(&b, "- Importance score: %d\n\n", r.Score)

	b.WriteString("## Summary\n\n")
	if res.Available() {
		summary := res.Insight.Summary
		if summary == "" {
			summary = "_No summary returned._"
		}
		b.WriteString(summary + "\n\n")
		if len(res.Insight.Behaviors) > 0 {
			b.WriteString("## Key Behaviors\n\n")
			for _, item := range res.Insight.Behaviors {
				fmt.Fprintf(&b, "- %s\n", item)
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString(unavailableText(res) + "\n\n")
	}

	if fns := f.Functions(); len(fns) > 0 {
		b.WriteString("## Functions\n\n")
		for _, s := range fns {
			sig := s.Signature
			if sig == "" {
				sig = s.Name
			}
			fmt.Fprintf(&b, "- `%s` (line %d)\n", sig, s.Line)
		}
		b.WriteString("\n")
	}

	if eps := f.Endpoints(); len(eps) > 0 {
		b.WriteString("## API Endpoints\n\n")
		b.WriteString("| Method | Route | Handler | Line |\n|---|---|---|---|\n")
		for _, s := range eps {
			fmt.Fprintf(&b, "| %s | `%s` | %s | %d |\n", s.Method, cell(s.Route), cell(handlerName(s)), s.Line)
		}
		b.WriteString("\n")
	}

	if len(f.Imports) > 0 {
		b.WriteString("## Dependencies\n\n")
		for _, imp := range f.Imports {
			fmt.Fprintf(&b, "- `%s`\n", imp)
		}
		b.WriteString("\n")
	}

	if f.Warning != "" {
		fmt.Fprintf(&b, "> Note: %s\n", f.Warning)
	}
	return b.String()
}

func renderAPIIndex(rows []endpointRow) string {
	var b strings.Builder
	b.WriteString("# API Index\n\n")
	if len(rows) == 0 {
		b.WriteString("No API endpoints were detected.\n")
		return b.String()
	}

	files := make(map[string]bool)
	for _, r := range rows {
		files[r.File] = true
	}
	fmt.Fprintf(&b, "%d endpoints across %d files.\n\n", len(rows), len(files))
	b.WriteString("| Method | Route | Handler | File | Line |\n|---|---|---|---|---|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | `%s` | %s | %s | %d |\n",
			r.Method, cell(r.Route), cell(handlerName(r.Symbol)), cell(r.File), r.Line)
	}
	return b.String()
}

// handlerName 未识别出处理函数时 Name 为 "METHOD route"
func handlerName(s model.Symbol) string {
	if s.Name == "" || s.Name == s.Method+" "+s.Route {
		return "-"
	}
	return s.Name
}

// cell 转义表格单元格中的竖线和换行
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}
