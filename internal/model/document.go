package model

// RepoInfo 仓库基本信息
type RepoInfo struct {
	Name          string `json:"name"`
	Owner         string `json:"owner,omitempty"`
	URL           string `json:"url,omitempty"`
	Description   string `json:"description,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
	Language      string `json:"language,omitempty"`
	Stars         int    `json:"stars,omitempty"`
}

// Insight 模型对单个文件的解读
type Insight struct {
	Summary   string   `json:"summary"`
	Behaviors []string `json:"behaviors,omitempty"`
}

// EnrichmentRequest 一个文件的模型调用请求
type EnrichmentRequest struct {
	Path   string
	Prompt string
}

// 失败分类
const (
	FailureThrottled     = "throttled"
	FailureProviderError = "provider_error"
	FailureCancelled     = "cancelled"
	FailureNoKeys        = "no_keys"
)

// EnrichmentResult 模型调用结果，Insight 为空表示不可用
type EnrichmentResult struct {
	Path     string   `json:"path"`
	Insight  *Insight `json:"insight,omitempty"`
	Failure  string   `json:"failure,omitempty"`
	Detail   string   `json:"detail,omitempty"`
	Attempts int      `json:"attempts"`
	KeyID    string   `json:"key_id,omitempty"`
}

// Available 是否拿到了有效内容
func (r EnrichmentResult) Available() bool {
	return r.Insight != nil
}

// 文档类型
const (
	DocOverview = "overview"
	DocFile     = "file"
	DocAPIIndex = "api_index"
)

// Document 一份生成的文档
type Document struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Kind  string `json:"kind"`
	Body  string `json:"-"`
	Size  int    `json:"size"`
}

// DocumentMeta 文档集元信息
type DocumentMeta struct {
	Repo             RepoInfo `json:"repo"`
	SourceFileCount  int      `json:"source_file_count"`
	Languages        []string `json:"languages"`
	EndpointCount    int      `json:"endpoint_count"`
	FunctionCount    int      `json:"function_count"`
	EnrichedCount    int      `json:"enriched_count"`
	UnavailableCount int      `json:"unavailable_count"`
	RankedFiles      []string `json:"ranked_files"`

	BackendFileCount int         `json:"backend_file_count"`
	Purposes         []NameCount `json:"purposes,omitempty"`
	Dependencies     []NameCount `json:"dependencies,omitempty"`
	DurationSeconds  float64     `json:"duration_seconds"`
}

// NameCount 名称及涉及的文件数
type NameCount struct {
	Name  string `json:"name"`
	Files int    `json:"files"`
}

// DocumentSet 有序文档集合：概览、文件说明、接口索引
type DocumentSet struct {
	Documents []Document   `json:"documents"`
	Meta      DocumentMeta `json:"meta"`
}

// Find 按名称查找文档
func (s *DocumentSet) Find(name string) (*Document, bool) {
	for i := range s.Documents {
		if s.Documents[i].Name == name {
			return &s.Documents[i], true
		}
	}
	return nil, false
}
