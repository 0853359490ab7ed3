package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qs3c/doc_gen_server/internal/model/dto"
	"github.com/qs3c/doc_gen_server/internal/pkg/pubsub"
	"github.com/qs3c/doc_gen_server/internal/pkg/response"
	"github.com/qs3c/doc_gen_server/internal/pkg/ws"
	"github.com/qs3c/doc_gen_server/internal/service"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type WebSocketHandler struct {
	hub             *ws.Hub
	analysisService *service.AnalysisService
}

func NewWebSocketHandler(hub *ws.Hub, analysisService *service.AnalysisService) *WebSocketHandler {
	return &WebSocketHandler{
		hub:             hub,
		analysisService: analysisService,
	}
}

// Handle WebSocket 连接处理，连接后先推送一次当前状态
// GET /api/analysis/ws?id=xxx
func (h *WebSocketHandler) Handle(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		response.ParamError(c, "missing analysis id")
		return
	}

	status, err := h.analysisService.Status(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	// 升级连接
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := &ws.Client{
		JobID: id,
		Conn:  conn,
	}

	h.hub.Register(client)
	if err := client.WriteJSON(snapshot(status)); err != nil {
		log.Printf("Failed to send snapshot for job %s: %v", id, err)
	}

	// 保持连接，读取消息（主要用于检测断开）
	go func() {
		defer h.hub.Unregister(client)
		defer conn.Close()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

// snapshot 当前状态转换为与推送一致的消息
func snapshot(status *dto.StatusResponse) *ws.Message {
	msg := &pubsub.ProgressMessage{
		Type:       pubsub.TypeProgress,
		AnalysisID: status.AnalysisID,
		Status:     status.Status,
		Progress:   status.Progress,
		Message:    status.Message,
		Error:      status.Error,
	}
	if status.Status == "completed" || status.Status == "failed" {
		msg.Type = pubsub.TypeDone
	}
	return &ws.Message{Type: msg.Type, Data: msg}
}

// Forward 把进度消息转发给关注该任务的连接
func Forward(hub *ws.Hub) func(*pubsub.ProgressMessage) {
	return func(msg *pubsub.ProgressMessage) {
		if !hub.Watching(msg.AnalysisID) {
			return
		}
		if err := hub.Send(msg.AnalysisID, &ws.Message{Type: msg.Type, Data: msg}); err != nil {
			log.Printf("Failed to forward progress for job %s: %v", msg.AnalysisID, err)
		}
	}
}
