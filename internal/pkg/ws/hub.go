package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

type Hub struct {
	// 每个任务可以有多个订阅连接（多标签页、重连等场景）
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	JobID string
	Conn  *websocket.Conn
	mu    sync.Mutex // 写锁，防止并发写入
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.JobID] == nil {
		h.clients[client.JobID] = make(map[*Client]struct{})
	}
	h.clients[client.JobID][client] = struct{}{}

	log.Printf("Watcher for job %s connected, job_conns: %d", client.JobID, len(h.clients[client.JobID]))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[client.JobID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.JobID)
		}
	}
	log.Printf("Watcher for job %s disconnected", client.JobID)
}

// Send 向关注该任务的所有连接发送消息
func (h *Hub) Send(jobID string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns, ok := h.clients[jobID]
	if !ok {
		h.mu.RUnlock()
		return nil
	}
	// 复制一份引用，避免长时间持锁
	clients := make([]*Client, 0, len(conns))
	for c := range conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.Write(data); err != nil {
			log.Printf("Send write error for job %s: %v", jobID, err)
		}
	}
	return nil
}

// Write 串行写入一条文本消息
func (c *Client) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// WriteJSON 序列化后写入
func (c *Client) WriteJSON(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.Write(data)
}

// Watching 是否有连接在关注该任务
func (h *Hub) Watching(jobID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.clients[jobID]
	return ok && len(conns) > 0
}

// ConnectionCount 获取在线连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}
