package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/voicestudio/conversion-service/internal/notify"
)

// ChannelHandlers serves the internal push channel administration endpoints.
type ChannelHandlers struct {
	hub    *notify.Hub
	logger zerolog.Logger
}

func NewChannelHandlers(hub *notify.Hub, logger zerolog.Logger) *ChannelHandlers {
	return &ChannelHandlers{hub: hub, logger: logger}
}

// ChannelStatsResponse represents the live channel count
type ChannelStatsResponse struct {
	LiveChannels int `json:"liveChannels" jsonschema:"required"`
}

// Stats returns the number of live push channels
func (h *ChannelHandlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, ChannelStatsResponse{LiveChannels: h.hub.Len()})
}

// Disconnect closes the push channel of one client
func (h *ChannelHandlers) Disconnect(c *gin.Context) {
	clientID := c.Param("clientId")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clientId is required"})
		return
	}
	h.hub.Unsubscribe(clientID)
	h.logger.Info().Str("client_id", clientID).Msg("Push channel disconnected by admin")
	c.JSON(http.StatusOK, gin.H{"disconnected": clientID})
}

// DisconnectAllResponse reports how many channels were force-closed
type DisconnectAllResponse struct {
	Disconnected int `json:"disconnected" jsonschema:"required"`
}

// DisconnectAll closes every live push channel
func (h *ChannelHandlers) DisconnectAll(c *gin.Context) {
	n := h.hub.DisconnectAll()
	h.logger.Info().Int("count", n).Msg("All push channels disconnected by admin")
	c.JSON(http.StatusOK, DisconnectAllResponse{Disconnected: n})
}
