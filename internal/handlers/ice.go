package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/screenshare-signaling/internal/iceservers"
)

// GetICEServers returns the relay descriptors a client should use. The
// optional peerId query parameter is passed to the credential service.
func GetICEServers(provider iceservers.Provider, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		servers, source, err := provider.ICEServers(c.Request.Context(), c.Query("peerId"))
		if err != nil {
			logger.Error("ice server lookup failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "ICE servers unavailable"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"iceServers": servers,
			"source":     source,
		})
	}
}
