package extract

import (
	"regexp"
	"strings"

	"github.com/qs3c/doc_gen_server/internal/model"
)

var (
	// @app.route("/users", methods=["GET", "POST"])
	flaskRouteRe = regexp.MustCompile(`^\s*@(\w+)\.route\(\s*['"]([^'"]*)['"](.*)`)
	flaskMethods = regexp.MustCompile(`methods\s*=\s*[\[\(]([^\]\)]*)[\]\)]`)
	// @app.get("/items/{id}") / @router.post(...)
	pyVerbRe = regexp.MustCompile(`^\s*@(\w+)\.(get|post|put|delete|patch|options|head)\(\s*['"]([^'"]*)['"]`)
	pyDefRe  = regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)`)

	// app.get('/x', handler) / router.post("/y", ...)
	expressRe = regexp.MustCompile("\\b(\\w+)\\.(get|post|put|delete|patch|all|options)\\(\\s*['\"`]([^'\"`]+)['\"`]")

	// r.GET("/x", h) / e.POST("/y", h) / r.Get("/z", h)
	goRouterRe = regexp.MustCompile(`\b(\w+)\.(GET|POST|PUT|DELETE|PATCH|OPTIONS|HEAD|Any|Get|Post|Put|Delete|Patch)\(\s*"([^"]*)"\s*,\s*([\w.]+)?`)
	// http.HandleFunc("/x", h) / mux.Handle("/y", h)
	goHTTPRe = regexp.MustCompile(`\b(\w+)\.(HandleFunc|Handle)\(\s*"([^"]*)"\s*,\s*([\w.]+)?`)

	springRe       = regexp.MustCompile(`^\s*@(Get|Post|Put|Delete|Patch|Request)Mapping\b(?:\(\s*(?:(?:value|path)\s*=\s*)?\{?\s*"([^"]*)")?`)
	springMethodRe = regexp.MustCompile(`RequestMethod\.(\w+)`)
	javaMethodRe   = regexp.MustCompile(`^\s*(?:(?:public|private|protected|static|final|synchronized)\s+)*[\w<>\[\],\s]+?\s+(\w+)\s*\(`)
	javaClassRe    = regexp.MustCompile(`\b(?:class|interface)\s+\w+`)
)

// detectEndpoints 逐行匹配常见 Web 框架的路由声明
func detectEndpoints(language string, lines []string, imports []string) []model.Symbol {
	switch language {
	case "python":
		return pythonEndpoints(lines, imports)
	case "javascript", "typescript", "tsx":
		return expressEndpoints(lines)
	case "go":
		return goEndpoints(lines, imports)
	case "java", "kotlin":
		return springEndpoints(lines)
	}
	return nil
}

func endpoint(method, route, handler, framework string, line int) model.Symbol {
	name := handler
	if name == "" {
		name = method + " " + route
	}
	return model.Symbol{
		Kind:      model.SymbolEndpoint,
		Name:      name,
		Method:    method,
		Route:     route,
		Framework: framework,
		Line:      line,
	}
}

// nextMatch 从 start 行开始找第一个匹配的函数名
func nextMatch(re *regexp.Regexp, lines []string, start, limit int) string {
	for i := start; i < len(lines) && i < start+limit; i++ {
		if m := re.FindStringSubmatch(lines[i]); m != nil {
			return m[1]
		}
	}
	return ""
}

func hasImport(imports []string, prefixes ...string) bool {
	for _, imp := range imports {
		for _, p := range prefixes {
			if imp == p || strings.HasPrefix(imp, p+".") || strings.HasPrefix(imp, p+"/") {
				return true
			}
		}
	}
	return false
}

func pythonEndpoints(lines []string, imports []string) []model.Symbol {
	framework := "flask"
	if hasImport(imports, "fastapi") {
		framework = "fastapi"
	}

	var out []model.Symbol
	for i, line := range lines {
		if m := flaskRouteRe.FindStringSubmatch(line); m != nil {
			handler := nextMatch(pyDefRe, lines, i+1, 10)
			methods := []string{"GET"}
			if mm := flaskMethods.FindStringSubmatch(m[3]); mm != nil {
				methods = splitQuoted(mm[1])
			}
			for _, method := range methods {
				out = append(out, endpoint(method, m[2], handler, "flask", i+1))
			}
			continue
		}
		if m := pyVerbRe.FindStringSubmatch(line); m != nil {
			handler := nextMatch(pyDefRe, lines, i+1, 10)
			out = append(out, endpoint(strings.ToUpper(m[2]), m[3], handler, framework, i+1))
		}
	}
	return out
}

func expressEndpoints(lines []string) []model.Symbol {
	var out []model.Symbol
	for i, line := range lines {
		for _, m := range expressRe.FindAllStringSubmatch(line, -1) {
			// 过滤 map.get('key') 之类的调用，路由必须以 / 或 * 开头
			if !strings.HasPrefix(m[3], "/") && m[3] != "*" {
				continue
			}
			out = append(out, endpoint(strings.ToUpper(m[2]), m[3], "", "express", i+1))
		}
	}
	return out
}

func goEndpoints(lines []string, imports []string) []model.Symbol {
	framework := "net/http"
	switch {
	case hasImport(imports, "github.com/gin-gonic/gin"):
		framework = "gin"
	case hasImport(imports, "github.com/labstack/echo", "github.com/labstack/echo/v4"):
		framework = "echo"
	case hasImport(imports, "github.com/go-chi/chi", "github.com/go-chi/chi/v5"):
		framework = "chi"
	case hasImport(imports, "github.com/gofiber/fiber/v2"):
		framework = "fiber"
	}

	var out []model.Symbol
	for i, line := range lines {
		for _, m := range goRouterRe.FindAllStringSubmatch(line, -1) {
			out = append(out, endpoint(strings.ToUpper(m[2]), m[3], goHandler(m[4]), framework, i+1))
		}
		for _, m := range goHTTPRe.FindAllStringSubmatch(line, -1) {
			method, route := "ANY", m[3]
			// Go 1.22 的 "GET /path" 写法
			if verb, rest, ok := strings.Cut(route, " "); ok && verb == strings.ToUpper(verb) {
				method, route = verb, strings.TrimSpace(rest)
			}
			out = append(out, endpoint(method, route, goHandler(m[4]), "net/http", i+1))
		}
	}
	return out
}

// goHandler 匿名函数没有名字
func goHandler(name string) string {
	if name == "func" {
		return ""
	}
	return name
}

func springEndpoints(lines []string) []model.Symbol {
	var out []model.Symbol
	prefix := ""
	seenClass := false

	for i, line := range lines {
		if !seenClass && javaClassRe.MatchString(line) {
			seenClass = true
			continue
		}
		m := springRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		route := m[2]
		if !seenClass {
			// 类上的 @RequestMapping 作为路径前缀
			if m[1] == "Request" {
				prefix = strings.TrimSuffix(route, "/")
			}
			continue
		}

		method := strings.ToUpper(m[1])
		if m[1] == "Request" {
			method = "ANY"
			if mm := springMethodRe.FindStringSubmatch(line); mm != nil {
				method = mm[1]
			}
		}
		full := prefix + route
		if full == "" {
			full = "/"
		}
		handler := nextMatch(javaMethodRe, lines, i+1, 5)
		out = append(out, endpoint(method, full, handler, "spring", i+1))
	}
	return out
}

func splitQuoted(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(strings.TrimSpace(part), `'"`)
		if part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	if len(out) == 0 {
		return []string{"GET"}
	}
	return out
}
