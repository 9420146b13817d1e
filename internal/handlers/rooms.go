package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/screenshare-signaling/internal/directory"
	"github.com/mossy-p/screenshare-signaling/internal/models"
	"github.com/mossy-p/screenshare-signaling/internal/registry"
)

const lookupTimeout = 2 * time.Second

// RoomDirectory is the cross-instance room lookup
type RoomDirectory interface {
	Lookup(ctx context.Context, code string) (directory.Entry, error)
}

// GetRoom gets room information by code (public). Local rooms are answered
// from the registry; others from the directory when one is configured.
func GetRoom(reg *registry.Registry, dir RoomDirectory, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := registry.NormalizeCode(c.Param("code"))

		if info, ok := reg.Lookup(code); ok {
			c.JSON(http.StatusOK, models.RoomInfo{
				Code:        info.Code,
				HostID:      info.HostID,
				Members:     info.Members,
				MemberCount: len(info.Members),
				CreatedAt:   info.CreatedAt,
			})
			return
		}

		if dir == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), lookupTimeout)
		defer cancel()

		entry, err := dir.Lookup(ctx, code)
		switch {
		case errors.Is(err, directory.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		case err != nil:
			logger.Error("directory lookup failed", "room", code, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Room directory unavailable"})
		default:
			c.JSON(http.StatusOK, models.RoomInfo{
				Code:        entry.Code,
				HostID:      entry.HostID,
				Members:     entry.Members,
				MemberCount: len(entry.Members),
				CreatedAt:   entry.CreatedAt,
				InstanceID:  entry.InstanceID,
			})
		}
	}
}
