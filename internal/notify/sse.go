package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SSEHandler opens the long-lived event stream for one client. Events are
// written as `taskUpdate` SSE events with the client id as the event id.
// The channel is released when the client disconnects or the hub closes it.
func SSEHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.Param("clientId")
		if clientID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "clientId is required"})
			return
		}

		ch := hub.Subscribe(clientID)
		defer hub.release(clientID, ch)

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		clientGone := c.Request.Context().Done()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-clientGone:
				return false
			case ev, ok := <-ch.Events():
				if !ok {
					return false
				}
				data, err := json.Marshal(ev)
				if err != nil {
					return true
				}
				fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", EventName, clientID, data)
				return true
			}
		})
	}
}
