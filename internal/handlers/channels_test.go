package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/voicestudio/conversion-service/internal/notify"
)

func newChannelRouter(hub *notify.Hub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewChannelHandlers(hub, zerolog.Nop())
	r := gin.New()
	r.GET("/internal/channels", h.Stats)
	r.DELETE("/internal/channels/:clientId", h.Disconnect)
	r.DELETE("/internal/channels", h.DisconnectAll)
	return r
}

func TestChannelStats(t *testing.T) {
	hub := notify.NewHub(0, zerolog.Nop())
	hub.Subscribe("member-1")
	hub.Subscribe("member-2")
	defer hub.DisconnectAll()
	r := newChannelRouter(hub)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/channels", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"liveChannels":2}`, w.Body.String())
}

func TestDisconnectClient(t *testing.T) {
	hub := notify.NewHub(0, zerolog.Nop())
	hub.Subscribe("member-1")
	r := newChannelRouter(hub)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/internal/channels/member-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, hub.Len())
}

func TestDisconnectAllClients(t *testing.T) {
	hub := notify.NewHub(0, zerolog.Nop())
	hub.Subscribe("member-1")
	hub.Subscribe("member-2")
	r := newChannelRouter(hub)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/internal/channels", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"disconnected":2}`, w.Body.String())
	assert.Equal(t, 0, hub.Len())
}
