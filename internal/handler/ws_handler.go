package handler

import (
	"log"
	"net/http"

	"agent-lab/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket 事件推送连接。连接只做单向广播，
// 读循环仅用于感知客户端断开
func HandleWebSocket(hub *service.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[ws] 升级连接失败: %v", err)
			return
		}
		defer ws.Close()

		sessionID := uuid.New().String()
		if err := ws.WriteJSON(gin.H{
			"event":      "connected",
			"session_id": sessionID,
		}); err != nil {
			return
		}

		hub.Register(ws)
		defer hub.Unregister(ws)
		log.Printf("[ws] 客户端已连接 session=%s", sessionID)

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				log.Printf("[ws] 客户端断开 session=%s: %v", sessionID, err)
				break
			}
		}
	}
}
