package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/your-org/scenewatch/internal/hub"
	"github.com/your-org/scenewatch/internal/ingest"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// IngestWS upgrades a device connection and runs its ingestion session.
func IngestWS(manager *ingest.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("ingest ws upgrade failed", "error", err)
			return
		}

		// The session outlives this handler, and net/http cancels the
		// request context once the handler returns. The session's lifetime
		// is the connection's, so it runs detached.
		session := ingest.NewSession(manager, conn)
		go session.Run(context.Background())
	}
}

// ObserverWS upgrades an observer connection and streams broadcast events
// to it. An incident_id query parameter scopes the subscription to one
// topic; without it the client receives every unscoped event.
func ObserverWS(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var topic *uuid.UUID
		if raw := c.Query("incident_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident_id"})
				return
			}
			topic = &id
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("observer ws upgrade failed", "error", err)
			return
		}

		client, err := h.Connect(c.Request.Context(), uuid.NewString(), topic)
		if err != nil {
			// Topic state could not be materialized (unknown incident or
			// store failure); the client gets nothing rather than a live
			// feed without a baseline.
			slog.Warn("observer connect failed", "error", err)
			_ = conn.WriteJSON(gin.H{"error": "subscription failed"})
			conn.Close()
			return
		}

		go observerWritePump(conn, client)
		go observerReadPump(conn, h, client)
	}
}

func observerWritePump(conn *websocket.Conn, client *hub.Client) {
	defer conn.Close()
	for env := range client.Events() {
		if err := conn.WriteJSON(env); err != nil {
			return
		}
	}
}

// observerReadPump exists to detect disconnection; observers never send
// application messages.
func observerReadPump(conn *websocket.Conn, h *hub.Hub, client *hub.Client) {
	defer func() {
		h.Disconnect(client)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
