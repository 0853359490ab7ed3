package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/qs3c/doc_gen_server/internal/assemble"
	"github.com/qs3c/doc_gen_server/internal/model"
	"github.com/qs3c/doc_gen_server/internal/pkg/pubsub"
)

var (
	stageColor   = color.New(color.FgCyan, color.Bold)
	doneColor    = color.New(color.FgGreen, color.Bold)
	failColor    = color.New(color.FgRed, color.Bold)
	noticeColor  = color.New(color.FgYellow)
	faintColor   = color.New(color.Faint)
	missingColor = color.New(color.FgYellow)
)

// progressPrinter 打印进度，只在阶段或百分比变化时输出
type progressPrinter struct {
	mu       sync.Mutex
	w        io.Writer
	status   string
	progress int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, progress: -1}
}

func (p *progressPrinter) Print(msg *pubsub.ProgressMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if msg.Status == p.status && msg.Progress == p.progress {
		return
	}
	p.status = msg.Status
	p.progress = msg.Progress

	label := stageColor
	switch msg.Status {
	case string(model.StatusCompleted):
		label = doneColor
	case string(model.StatusFailed):
		label = failColor
	}
	_, _ = fmt.Fprintf(p.w, "%s %s %s\n",
		label.Sprintf("%-10s", msg.Status),
		faintColor.Sprintf("%3d%%", msg.Progress),
		msg.Message)
}

func (p *progressPrinter) Notice(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = noticeColor.Fprintln(p.w, text)
}

func (p *progressPrinter) Failure(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = failColor.Fprintf(p.w, "analysis failed: %s\n", reason)
}

// writeSummary 输出文档表格与统计
func writeSummary(w io.Writer, job *model.AnalysisJob, m *assemble.Manifest, files bool) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"#", "Document", "Kind", "Size"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	var data [][]string
	for i, d := range m.Documents {
		data = append(data, []string{
			strconv.Itoa(i + 1),
			d.Name,
			d.Kind,
			formatBytes(d.Size),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	if files && len(m.Meta.RankedFiles) > 0 {
		if err := writeRanked(w, m.Meta.RankedFiles); err != nil {
			return err
		}
	}

	meta := m.Meta
	if _, err := fmt.Fprintf(w, "%d source files (%s), %d endpoints, %d functions\n",
		meta.SourceFileCount, strings.Join(meta.Languages, ", "), meta.EndpointCount, meta.FunctionCount); err != nil {
		return err
	}
	enriched := doneColor.Sprintf("%d enriched", meta.EnrichedCount)
	if meta.UnavailableCount > 0 {
		enriched += ", " + missingColor.Sprintf("%d unavailable", meta.UnavailableCount)
	}
	if _, err := fmt.Fprintf(w, "%s in %ds\n", enriched, job.ElapsedSeconds); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Documents written to %s\n", job.ResultDir)
	return err
}

// writeRanked 输出排序后的文件列表
func writeRanked(w io.Writer, ranked []string) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Rank", "File"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})
	var data [][]string
	for i, path := range ranked {
		data = append(data, []string{strconv.Itoa(i + 1), path})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	case n >= 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
