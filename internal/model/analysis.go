package model

import (
	"database/sql/driver"
	"encoding/json"
)

// StringArray 用于 JSON 数组字段
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return nil
}

// SymbolKind 符号类型
type SymbolKind string

const (
	SymbolFunction SymbolKind = "function"
	SymbolEndpoint SymbolKind = "endpoint"
)

// Symbol 源文件中识别出的函数或 HTTP 接口
type Symbol struct {
	Kind      SymbolKind `json:"kind"`
	Name      string     `json:"name"`
	Signature string     `json:"signature,omitempty"`
	Method    string     `json:"method,omitempty"`
	Route     string     `json:"route,omitempty"`
	Framework string     `json:"framework,omitempty"`
	Line      int        `json:"line"`
}

// SourceFile 单个源文件的提取结果，生成后不再修改
type SourceFile struct {
	Path      string   `json:"path"`
	Language  string   `json:"language"`
	Size      int64    `json:"size"`
	Lines     int      `json:"lines"`
	Symbols   []Symbol `json:"symbols"`
	Imports   []string `json:"imports,omitempty"`
	Purpose   string   `json:"purpose"`
	IsBackend bool     `json:"is_backend"`
	Preview   string   `json:"-"`
	Warning   string   `json:"warning,omitempty"`
}

// Functions 返回函数符号
func (f *SourceFile) Functions() []Symbol {
	return f.symbolsOf(SymbolFunction)
}

// Endpoints 返回接口符号
func (f *SourceFile) Endpoints() []Symbol {
	return f.symbolsOf(SymbolEndpoint)
}

func (f *SourceFile) symbolsOf(kind SymbolKind) []Symbol {
	var out []Symbol
	for _, s := range f.Symbols {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}
