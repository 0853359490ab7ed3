package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/doc_gen_server/internal/assemble"
	"github.com/qs3c/doc_gen_server/internal/ingest"
	"github.com/qs3c/doc_gen_server/internal/model/dto"
	"github.com/qs3c/doc_gen_server/internal/pkg/response"
	"github.com/qs3c/doc_gen_server/internal/service"
)

type AnalysisHandler struct {
	analysisService *service.AnalysisService
}

func NewAnalysisHandler(analysisService *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
	}
}

// SubmitGithub 提交 GitHub 仓库
// POST /api/analysis/github
func (h *AnalysisHandler) SubmitGithub(c *gin.Context) {
	var req dto.SubmitGithubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.analysisService.SubmitGithub(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Accepted(c, "analysis queued", resp)
}

// Status 查询进度
// GET /api/analysis/status/:id
func (h *AnalysisHandler) Status(c *gin.Context) {
	status, err := h.analysisService.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, status)
}

// Results 文档集摘要
// GET /api/analysis/results/:id
func (h *AnalysisHandler) Results(c *gin.Context) {
	results, err := h.analysisService.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, results)
}

// Document 单份文档原文
// GET /api/analysis/results/:id/documents/*name
func (h *AnalysisHandler) Document(c *gin.Context) {
	body, err := h.analysisService.Document(c.Request.Context(), c.Param("id"), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", body)
}

// List 当前注册表中的全部任务
// GET /api/analysis/list
func (h *AnalysisHandler) List(c *gin.Context) {
	items, err := h.analysisService.List(c.Request.Context())
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, gin.H{"total": len(items), "items": items})
}

// History 已结束任务
// GET /api/analysis/history
func (h *AnalysisHandler) History(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := c.Query("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := h.analysisService.History(page, pageSize, status)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// Cancel 取消任务
// POST /api/analysis/:id/cancel
func (h *AnalysisHandler) Cancel(c *gin.Context) {
	status, err := h.analysisService.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "cancellation requested", status)
}

// Cleanup 立即清理过期任务
// DELETE /api/analysis/cleanup
func (h *AnalysisHandler) Cleanup(c *gin.Context) {
	report, err := h.analysisService.Cleanup(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, report)
}

// writeError 把服务层错误映射为响应
func writeError(c *gin.Context, err error) {
	var ie *ingest.IngestError
	switch {
	case errors.As(err, &ie):
		response.ParamError(c, ie.UserMessage)
	case errors.Is(err, service.ErrAnalysisNotFound), errors.Is(err, assemble.ErrDocumentNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrNotCompleted), errors.Is(err, service.ErrAlreadyFinished):
		response.NotReadyError(c, err.Error())
	case errors.Is(err, service.ErrQueueUnavailable):
		response.UnavailableError(c, err.Error())
	case errors.Is(err, service.ErrInvalidFormat), errors.Is(err, service.ErrInvalidZip),
		errors.Is(err, service.ErrEmptyArchive), errors.Is(err, service.ErrFileTooLarge):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, "")
	}
}
