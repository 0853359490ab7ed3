package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/qs3c/doc_gen_server/internal/model"
)

// 没有语法树支持的语言按行匹配函数定义
var fallbackFuncPatterns = map[string]*regexp.Regexp{
	"ruby":   regexp.MustCompile(`^\s*def\s+(?:self\.)?([\w?!]+)`),
	"php":    regexp.MustCompile(`^\s*(?:(?:public|private|protected|static|final|abstract)\s+)*function\s+(\w+)\s*\(`),
	"rust":   regexp.MustCompile(`^\s*(?:pub(?:\([\w:]+\))?\s+)?(?:async\s+)?(?:unsafe\s+)?fn\s+(\w+)`),
	"c":      regexp.MustCompile(`^[A-Za-z_][\w\s\*]*?\b(\w+)\s*\([^;]*\)\s*\{?\s*$`),
	"cpp":    regexp.MustCompile(`^[A-Za-z_][\w\s\*&:<>,]*?\b([\w:~]+)\s*\([^;]*\)\s*(?:const\s*)?\{?\s*$`),
	"csharp": regexp.MustCompile(`^\s*(?:(?:public|private|protected|internal|static|async|virtual|override|sealed)\s+)+[\w<>\[\],\s]+?\s+(\w+)\s*\(`),
	"kotlin": regexp.MustCompile(`^\s*(?:(?:public|private|protected|internal|override|suspend|open)\s+)*fun\s+(?:<[^>]+>\s*)?(?:\w+\.)?(\w+)\s*\(`),
	"swift":  regexp.MustCompile(`^\s*(?:(?:public|private|fileprivate|internal|open|static|override|mutating)\s+)*func\s+(\w+)`),
}

var cKeywords = map[string]bool{"if": true, "for": true, "while": true, "switch": true, "return": true, "sizeof": true, "else": true}

func fallbackFunctions(language string, lines []string) []model.Symbol {
	re, ok := fallbackFuncPatterns[language]
	if !ok {
		return nil
	}
	var out []model.Symbol
	for i, line := range lines {
		m := re.FindStringSubmatch(line)
		if m == nil || cKeywords[m[1]] {
			continue
		}
		out = append(out, model.Symbol{
			Kind:      model.SymbolFunction,
			Name:      m[1],
			Signature: strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "{")),
			Line:      i + 1,
		})
	}
	return out
}

var (
	pyImportRe     = regexp.MustCompile(`^\s*import\s+([\w.]+(?:\s*,\s*[\w.]+)*)`)
	pyFromImportRe = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\b`)
	jsImportRe     = regexp.MustCompile(`^\s*import\s+(?:[^'"]*?\s+from\s+)?['"]([^'"]+)['"]`)
	jsRequireRe    = regexp.MustCompile(`\brequire\(\s*['"]([^'"]+)['"]\s*\)`)
	goImportLineRe = regexp.MustCompile(`^\s*import\s+(?:[\w.]+\s+)?"([^"]+)"`)
	goImportSpecRe = regexp.MustCompile(`^\s*(?:[\w.]+\s+)?"([^"]+)"`)
	javaImportRe   = regexp.MustCompile(`^\s*import\s+(?:static\s+)?([\w.]*\w(?:\.\*)?)`)
	rustUseRe      = regexp.MustCompile(`^\s*use\s+([\w:]+)`)
	rubyRequireRe  = regexp.MustCompile(`^\s*require(?:_relative)?\s+['"]([^'"]+)['"]`)
	phpUseRe       = regexp.MustCompile(`^\s*use\s+([\w\\]+)\s*;`)
	cIncludeRe     = regexp.MustCompile(`^\s*#\s*include\s+[<"]([^>"]+)[>"]`)
	csUsingRe      = regexp.MustCompile(`^\s*using\s+([\w.]+)\s*;`)
)

// extractImports 返回去重排序后的依赖
func extractImports(language string, lines []string) []string {
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			seen[s] = struct{}{}
		}
	}

	inGoBlock := false
	for _, line := range lines {
		switch language {
		case "python":
			if m := pyFromImportRe.FindStringSubmatch(line); m != nil {
				add(m[1])
			} else if m := pyImportRe.FindStringSubmatch(line); m != nil {
				for _, part := range strings.Split(m[1], ",") {
					add(part)
				}
			}
		case "javascript", "typescript", "tsx":
			if m := jsImportRe.FindStringSubmatch(line); m != nil {
				add(m[1])
			}
			for _, m := range jsRequireRe.FindAllStringSubmatch(line, -1) {
				add(m[1])
			}
		case "go":
			trimmed := strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(trimmed, "import ("):
				inGoBlock = true
			case inGoBlock && trimmed == ")":
				inGoBlock = false
			case inGoBlock:
				if m := goImportSpecRe.FindStringSubmatch(line); m != nil {
					add(m[1])
				}
			default:
				if m := goImportLineRe.FindStringSubmatch(line); m != nil {
					add(m[1])
				}
			}
		case "java", "kotlin", "swift":
			if m := javaImportRe.FindStringSubmatch(line); m != nil {
				add(m[1])
			}
		case "rust":
			if m := rustUseRe.FindStringSubmatch(line); m != nil {
				add(m[1])
			}
		case "ruby":
			if m := rubyRequireRe.FindStringSubmatch(line); m != nil {
				add(m[1])
			}
		case "php":
			if m := phpUseRe.FindStringSubmatch(line); m != nil {
				add(m[1])
			}
		case "c", "cpp":
			if m := cIncludeRe.FindStringSubmatch(line); m != nil {
				add(m[1])
			}
		case "csharp":
			if m := csUsingRe.FindStringSubmatch(line); m != nil {
				add(m[1])
			}
		}
	}

	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
