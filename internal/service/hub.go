package service

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Event 推送给前端的事件，对应原 Socket.IO 的 experiment_updated 广播
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub 维护所有 websocket 连接并向其广播事件。
// 写失败的连接直接移除，由客户端自行重连
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast 向所有连接广播一条事件。尽力而为，不保证送达
func (h *Hub) Broadcast(event string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := Event{Event: event, Data: data}
	for conn := range h.clients {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("[hub] 推送失败，移除连接: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}
