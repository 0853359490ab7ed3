package llm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/qs3c/doc_gen_server/internal/model"
)

// BuildPrompt 根据提取结果生成单文件提示词
func BuildPrompt(file *model.SourceFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this %s code file and provide a comprehensive description:\n\n", file.Language)
	fmt.Fprintf(&b, "File: %s\n", file.Path)
	fmt.Fprintf(&b, "Purpose: %s\n", file.Purpose)
	fmt.Fprintf(&b, "Functions: %d\n", len(file.Functions()))
	fmt.Fprintf(&b, "API Endpoints: %d\n", len(file.Endpoints()))
	fmt.Fprintf(&b, "Backend File: %t\n\n", file.IsBackend)
	b.WriteString("Code Preview:\n")
	b.WriteString(file.Preview)
	b.WriteString("\n\nPlease provide:\n")
	b.WriteString("1. A brief description of what this file does (2-3 sentences)\n")
	b.WriteString("2. Key functionality and responsibilities as a bulleted list\n")
	b.WriteString("3. How it fits into the overall application architecture\n\n")
	b.WriteString("Keep the response concise and focused on the main functionality.")
	return b.String()
}

var (
	bulletRe   = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.*)$`)
	headingRe  = regexp.MustCompile(`^\s*#+\s*`)
	emphasisRe = regexp.MustCompile(`\*\*([^*]+)\*\*`)
)

// ParseInsight 将模型输出拆成摘要段落与要点列表
func ParseInsight(content string) *model.Insight {
	insight := &model.Insight{}
	var summary []string

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(emphasisRe.ReplaceAllString(raw, "$1"))
		if line == "" || headingRe.MatchString(line) {
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			if item := strings.TrimSpace(m[1]); item != "" {
				insight.Behaviors = append(insight.Behaviors, item)
			}
			continue
		}
		// 只收集第一个列表之前的段落作为摘要
		if len(insight.Behaviors) == 0 {
			summary = append(summary, line)
		}
	}

	insight.Summary = strings.Join(summary, " ")
	if insight.Summary == "" && len(insight.Behaviors) > 0 {
		insight.Summary = insight.Behaviors[0]
		insight.Behaviors = insight.Behaviors[1:]
	}
	return insight
}
