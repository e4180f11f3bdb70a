package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/ws"
)

// WSHandler поднимает WebSocket, по которому клиент получает живые снапшоты команды,
// карту непрочитанного и ленту уведомлений.
type WSHandler struct {
	hub      *ws.Hub
	origins  []string
	anyOrig  bool
	upgrader websocket.Upgrader
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins: как в CORS (через запятую или "*").
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	allowedOrigins = strings.TrimSpace(allowedOrigins)
	h := &WSHandler{
		hub:     hub,
		origins: splitList(allowedOrigins),
		anyOrig: allowedOrigins == "" || allowedOrigins == "*",
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.anyOrig {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade user=%s: %v", userID, err)
		return
	}

	// Контекст соединения живёт дольше запроса: его отменяет readPump при закрытии.
	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, userID)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
