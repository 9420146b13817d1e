package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/screenshare-signaling/internal/iceservers"
	"github.com/mossy-p/screenshare-signaling/internal/registry"
	"github.com/mossy-p/screenshare-signaling/internal/relay"
)

// Deps are the components the HTTP surface is wired to
type Deps struct {
	Registry  *registry.Registry
	Relay     *relay.Relay
	Directory RoomDirectory // nil when no directory is configured
	ICE       iceservers.Provider
	Origins   *OriginPolicy
	Logger    *slog.Logger
}

// NewRouter builds the gin engine serving the signaling endpoints
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(d.Logger))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(d.Origins))

	router.GET("/health", Health(d.Registry, d.Relay))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/rooms/:code", GetRoom(d.Registry, d.Directory, d.Logger))
		apiGroup.GET("/ice-servers", GetICEServers(d.ICE, d.Logger))
	}

	// WebSocket signaling endpoint
	router.GET("/ws", HandleSignaling(d.Relay, d.Origins, d.Logger))

	return router
}
