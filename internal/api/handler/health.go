package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/doc_gen_server/internal/pkg/response"
	"github.com/qs3c/doc_gen_server/internal/pkg/ws"
)

type HealthHandler struct {
	hub     *ws.Hub
	version string
}

func NewHealthHandler(hub *ws.Hub, version string) *HealthHandler {
	return &HealthHandler{hub: hub, version: version}
}

// Check 存活检查
// GET /health
func (h *HealthHandler) Check(c *gin.Context) {
	response.Success(c, gin.H{
		"status":      "ok",
		"version":     h.version,
		"connections": h.hub.ConnectionCount(),
	})
}
