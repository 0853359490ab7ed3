package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/doc_gen_server/internal/pkg/response"
	"github.com/qs3c/doc_gen_server/internal/service"
)

type UploadHandler struct {
	uploadService *service.UploadService
}

func NewUploadHandler(uploadService *service.UploadService) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
	}
}

// Submit 上传 ZIP 并提交分析
// POST /api/analysis/upload
func (h *UploadHandler) Submit(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.ParamError(c, "a .zip file is required in field \"file\"")
		return
	}
	defer file.Close()

	resp, err := h.uploadService.Submit(c.Request.Context(), header.Filename, header.Size, file, splitKeys(c.PostForm("api_keys")))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Accepted(c, "analysis queued", resp)
}

// splitKeys 解析逗号分隔的 Key 列表
func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
