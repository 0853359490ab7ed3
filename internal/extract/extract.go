// Package extract 从源文件中提取函数、接口与依赖信息
package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/qs3c/doc_gen_server/internal/model"
)

// PreviewChars 保留给模型提示词的内容长度
const PreviewChars = 800

// ExtractFile 解析单个文件。相同输入总是得到相同输出；
// 解析失败时返回空符号列表并在 Warning 中注明原因。
func ExtractFile(ctx context.Context, path, language string, content []byte) model.SourceFile {
	text := string(content)
	lines := strings.Split(text, "\n")

	file := model.SourceFile{
		Path:     path,
		Language: language,
		Size:     int64(len(content)),
		Lines:    countLines(text),
		Preview:  preview(text),
	}

	file.Imports = extractImports(language, lines)

	var functions []model.Symbol
	if HasGrammar(language) {
		fns, err := parseFunctions(ctx, language, content)
		if err != nil {
			failed := Failed(path, language, file.Size, fmt.Sprintf("parse failed: %v", err))
			failed.Lines = file.Lines
			failed.Preview = file.Preview
			return failed
		}
		functions = fns
	} else {
		functions = fallbackFunctions(language, lines)
	}

	symbols := make([]model.Symbol, 0, len(functions))
	symbols = append(symbols, functions...)
	symbols = append(symbols, detectEndpoints(language, lines, file.Imports)...)
	sortSymbols(symbols)
	file.Symbols = symbols

	endpoints := len(file.Endpoints())
	file.Purpose = determinePurpose(path, text, endpoints, len(functions))
	file.IsBackend = isBackend(path, text, endpoints)
	return file
}

// Failed 构造提取失败的文件记录
func Failed(path, language string, size int64, reason string) model.SourceFile {
	return model.SourceFile{
		Path:     path,
		Language: language,
		Size:     size,
		Symbols:  []model.Symbol{},
		Purpose:  determinePurpose(path, "", 0, 0),
		Warning:  reason,
	}
}

func sortSymbols(symbols []model.Symbol) {
	sort.SliceStable(symbols, func(i, j int) bool {
		a, b := symbols[i], symbols[j]
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Method < b.Method
	})
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

func preview(text string) string {
	if len(text) <= PreviewChars {
		return text
	}
	// 截断可能落在多字节字符中间
	return strings.ToValidUTF8(text[:PreviewChars], "")
}

var purposeByPath = []struct {
	patterns []string
	purpose  string
}{
	{[]string{"route", "api", "controller"}, "API Routes and Controllers"},
	{[]string{"component", "ui", "page"}, "UI Components"},
	{[]string{"model", "schema"}, "Data Models"},
	{[]string{"service", "business"}, "Business Logic"},
	{[]string{"util", "helper"}, "Utilities"},
	{[]string{"config", "setting"}, "Configuration"},
	{[]string{"test", "spec"}, "Tests"},
}

func determinePurpose(path, content string, endpoints, functions int) string {
	lower := strings.ToLower(path)
	for _, p := range purposeByPath {
		for _, pattern := range p.patterns {
			if strings.Contains(lower, pattern) {
				return p.purpose
			}
		}
	}

	body := strings.ToLower(content)
	switch {
	case endpoints > 0:
		return "API Implementation"
	case strings.Contains(body, "component") || strings.Contains(body, "jsx"):
		return "Frontend Components"
	case functions > 5:
		return "Business Logic"
	case strings.Contains(body, "config"):
		return "Configuration"
	}
	return "General Purpose"
}

var backendPathHints = []string{
	"api", "server", "backend", "service", "controller",
	"route", "model", "handler", "middleware",
}

var backendContentHints = []string{
	"fastapi", "flask", "express", "django", "spring",
	"@app.route", "app.get", "app.post", "router.",
	"restcontroller", "requestmapping", "getmapping",
	"net/http", "gin-gonic",
}

func isBackend(path, content string, endpoints int) bool {
	if endpoints > 0 {
		return true
	}
	lower := strings.ToLower(path)
	for _, hint := range backendPathHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	body := strings.ToLower(content)
	for _, hint := range backendContentHints {
		if strings.Contains(body, hint) {
			return true
		}
	}
	return false
}
