package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/screenshare-signaling/internal/registry"
	"github.com/mossy-p/screenshare-signaling/internal/relay"
)

// Health reports liveness with live room and connection counts
func Health(reg *registry.Registry, r *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"rooms":       reg.Len(),
			"connections": r.Count(),
		})
	}
}
