package extract

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/qs3c/doc_gen_server/internal/model"
)

// grammar 描述一种语言在语法树中的函数与类节点
type grammar struct {
	lang      *sitter.Language
	funcNodes map[string]bool
	// 类似 const f = () => {} 的声明，value 为函数表达式
	varNodes   map[string]bool
	valueNodes map[string]bool
	classNodes map[string]bool
}

var jsFuncs = map[string]bool{
	"function_declaration":           true,
	"generator_function_declaration": true,
	"method_definition":              true,
}

var jsValues = map[string]bool{
	"arrow_function":      true,
	"function":            true,
	"function_expression": true,
}

var grammars = map[string]*grammar{
	"python": {
		lang:       python.GetLanguage(),
		funcNodes:  map[string]bool{"function_definition": true},
		classNodes: map[string]bool{"class_definition": true},
	},
	"javascript": {
		lang:       javascript.GetLanguage(),
		funcNodes:  jsFuncs,
		varNodes:   map[string]bool{"variable_declarator": true},
		valueNodes: jsValues,
		classNodes: map[string]bool{"class_declaration": true, "class": true},
	},
	"typescript": {
		lang:       typescript.GetLanguage(),
		funcNodes:  jsFuncs,
		varNodes:   map[string]bool{"variable_declarator": true},
		valueNodes: jsValues,
		classNodes: map[string]bool{"class_declaration": true, "abstract_class_declaration": true},
	},
	"tsx": {
		lang:       tsx.GetLanguage(),
		funcNodes:  jsFuncs,
		varNodes:   map[string]bool{"variable_declarator": true},
		valueNodes: jsValues,
		classNodes: map[string]bool{"class_declaration": true, "abstract_class_declaration": true},
	},
	"go": {
		lang:      golang.GetLanguage(),
		funcNodes: map[string]bool{"function_declaration": true, "method_declaration": true},
	},
	"java": {
		lang:       java.GetLanguage(),
		funcNodes:  map[string]bool{"method_declaration": true, "constructor_declaration": true},
		classNodes: map[string]bool{"class_declaration": true, "interface_declaration": true, "enum_declaration": true},
	},
}

// HasGrammar 该语言是否使用语法树解析
func HasGrammar(language string) bool {
	_, ok := grammars[language]
	return ok
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// parseFunctions 使用 tree-sitter 提取函数，方法名带上所属类型
func parseFunctions(ctx context.Context, language string, source []byte) ([]model.Symbol, error) {
	g := grammars[language]

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g.lang)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	w := &walker{g: g, source: source, language: language}
	w.walk(tree.RootNode(), "")
	return w.symbols, nil
}

type walker struct {
	g        *grammar
	source   []byte
	language string
	symbols  []model.Symbol
}

func (w *walker) walk(node *sitter.Node, class string) {
	if node == nil {
		return
	}
	typ := node.Type()

	switch {
	case w.g.classNodes[typ]:
		if name := node.ChildByFieldName("name"); name != nil {
			class = w.text(name)
		}
	case w.g.funcNodes[typ]:
		// 函数体内部的嵌套函数不再单独列出
		w.addFunction(node, node.ChildByFieldName("name"), node, class)
		return
	case w.g.varNodes[typ]:
		if value := node.ChildByFieldName("value"); value != nil && w.g.valueNodes[value.Type()] {
			w.addFunction(node, node.ChildByFieldName("name"), value, class)
			return
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.walk(node.NamedChild(i), class)
	}
}

func (w *walker) addFunction(decl, nameNode, fn *sitter.Node, class string) {
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)

	qualified := name
	if recv := w.receiverType(decl); recv != "" {
		qualified = recv + "." + name
	} else if class != "" && w.language != "go" {
		qualified = class + "." + name
	}

	sig := name
	if params := fn.ChildByFieldName("parameters"); params != nil {
		sig += collapseWhitespace(w.text(params))
	} else if param := fn.ChildByFieldName("parameter"); param != nil {
		sig += "(" + w.text(param) + ")"
	}
	if result := fn.ChildByFieldName("result"); result != nil {
		sig += " " + collapseWhitespace(w.text(result))
	} else if rt := fn.ChildByFieldName("return_type"); rt != nil {
		sig += " -> " + collapseWhitespace(strings.TrimPrefix(w.text(rt), ":"))
	}

	w.symbols = append(w.symbols, model.Symbol{
		Kind:      model.SymbolFunction,
		Name:      qualified,
		Signature: sig,
		Line:      int(nameNode.StartPoint().Row) + 1,
	})
}

// receiverType 返回 Go 方法的接收者类型名
func (w *walker) receiverType(decl *sitter.Node) string {
	if decl.Type() != "method_declaration" || w.language != "go" {
		return ""
	}
	recv := decl.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	for i := 0; i < int(recv.NamedChildCount()); i++ {
		param := recv.NamedChild(i)
		if param.Type() != "parameter_declaration" {
			continue
		}
		t := param.ChildByFieldName("type")
		if t == nil {
			continue
		}
		return strings.TrimLeft(w.text(t), "*")
	}
	return ""
}

func (w *walker) text(n *sitter.Node) string {
	return string(w.source[n.StartByte():n.EndByte()])
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
