package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/voicestudio/conversion-service/internal/database"
)

// BrokerStatus reports queue connectivity.
type BrokerStatus interface {
	Closed() bool
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Broker   string `json:"broker"`
	Redis    string `json:"redis"`
}

// HealthCheck reports service liveness and backend connectivity. Only the
// database is load-bearing enough to fail the check; a down broker or Redis
// degrades submissions and push notifications but reads still work.
func HealthCheck(mq BrokerStatus, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{Status: "ok"}
		ctx := c.Request.Context()

		if database.Pool() != nil {
			if err := database.Status(ctx); err != nil {
				response.Database = "disconnected"
				c.JSON(http.StatusServiceUnavailable, response)
				return
			}
			response.Database = "connected"
		} else {
			response.Database = "not configured"
		}

		switch {
		case mq == nil:
			response.Broker = "not configured"
		case mq.Closed():
			response.Broker = "disconnected"
		default:
			response.Broker = "connected"
		}

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				response.Redis = "disconnected"
			} else {
				response.Redis = "connected"
			}
		} else {
			response.Redis = "not configured"
		}

		c.JSON(http.StatusOK, response)
	}
}
