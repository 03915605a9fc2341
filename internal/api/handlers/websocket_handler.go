package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/prep-agent/backend/internal/research"
	"github.com/prep-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	hub *research.Hub
}

func NewWebSocketHandler(hub *research.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleConnection streams research-session progress events to the
// client until it disconnects.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	events, unsubscribe := h.hub.Subscribe()
	defer func() {
		unsubscribe()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// Reads are drained only to detect disconnects; the stream is
	// one-way.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				logger.Warn("Failed to write progress event", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
