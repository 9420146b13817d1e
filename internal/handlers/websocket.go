package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/screenshare-signaling/internal/relay"
)

// HandleSignaling upgrades the request and hands the websocket to the relay
func HandleSignaling(r *relay.Relay, policy *OriginPolicy, logger *slog.Logger) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.CheckOrigin,
	}

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written an HTTP error response
			logger.Warn("failed to upgrade connection", "error", err, "client", c.ClientIP())
			return
		}
		r.Accept(conn)
	}
}
