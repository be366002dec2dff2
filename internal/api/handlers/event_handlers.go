package handlers

import (
	"io"

	"crowdscope/internal/server/sse"

	"github.com/gin-gonic/gin"
)

// EventHandler streamt fertige Analysen per Server-Sent Events
type EventHandler struct {
	hub *sse.Hub
}

// NewEventHandler erstellt einen neuen Event-Handler
func NewEventHandler(hub *sse.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

// RegisterRoutes registriert den SSE-Endpunkt
func (h *EventHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/events", h.handleSSE)
}

// handleSSE behandelt SSE-Verbindungen für Echtzeit-Updates
func (h *EventHandler) handleSSE(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	client := make(sse.Client, 10) // Puffer für 10 Nachrichten
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client:
			if !ok {
				return false // Kanal geschlossen, Stream beenden
			}
			c.SSEvent("analysis", string(msg))
			return true
		case <-ctx.Done():
			return false
		}
	})
}
