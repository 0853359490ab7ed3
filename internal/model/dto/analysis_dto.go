package dto

import (
	"time"

	"github.com/qs3c/doc_gen_server/internal/model"
)

// SubmitGithubRequest 提交 GitHub 仓库分析
type SubmitGithubRequest struct {
	GithubURL string   `json:"github_url" binding:"required,max=500"`
	APIKeys   []string `json:"api_keys,omitempty" binding:"omitempty,max=20,dive,max=200"`
}

// SubmitResponse 提交后立即返回
type SubmitResponse struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
}

// StatusResponse 任务进度
type StatusResponse struct {
	AnalysisID     string   `json:"analysis_id"`
	Status         string   `json:"status"`
	Progress       int      `json:"progress"`
	Message        string   `json:"message,omitempty"`
	Error          string   `json:"error,omitempty"`
	Target         string   `json:"target"`
	FileCount      int      `json:"file_count"`
	EndpointCount  int      `json:"endpoint_count"`
	EnrichedCount  int      `json:"enriched_count"`
	Languages      []string `json:"languages,omitempty"`
	ElapsedSeconds int      `json:"elapsed_seconds,omitempty"`
	CreatedAt      string   `json:"created_at"`
	CompletedAt    string   `json:"completed_at,omitempty"`
}

// NewStatusResponse 从任务记录构建进度响应
func NewStatusResponse(job *model.AnalysisJob) *StatusResponse {
	resp := &StatusResponse{
		AnalysisID:     job.ID,
		Status:         string(job.Status),
		Progress:       job.Progress,
		Message:        job.Message,
		Error:          job.ErrorMessage,
		Target:         job.Target,
		FileCount:      job.FileCount,
		EndpointCount:  job.EndpointCount,
		EnrichedCount:  job.EnrichedCount,
		Languages:      job.Languages,
		ElapsedSeconds: job.ElapsedSeconds,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

// DocumentLink 结果中的一份文档
type DocumentLink struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Kind  string `json:"kind"`
	Size  int    `json:"size"`
	URL   string `json:"url"`
}

// ResultsResponse 已完成任务的文档集摘要
type ResultsResponse struct {
	AnalysisID  string             `json:"analysis_id"`
	GeneratedAt string             `json:"generated_at"`
	Documents   []DocumentLink     `json:"documents"`
	Meta        model.DocumentMeta `json:"meta"`
}
