package api

import (
	"io"
	"net/http"
	"time"

	"soilify/internal/chat"

	"github.com/gin-gonic/gin"
)

const keepAliveInterval = 25 * time.Second

// streamChanges pushes table-changed notifications as server-sent events.
// Clients re-fetch the named table when one arrives.
func (h *Handler) streamChanges(c *gin.Context) {
	changes, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"time": time.Now().Unix()})
	c.Writer.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case change, ok := <-changes:
			if !ok {
				return false
			}
			c.SSEvent("change", change)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"time": time.Now().Unix()})
			return true
		}
	})
}

func (h *Handler) chatMessage(c *gin.Context) {
	var ev chat.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		badRequest(c, err)
		return
	}
	if ev.Kind == "" {
		ev.Kind = chat.EventText
	}
	reply, err := h.chat.Handle(c.Request.Context(), identity(c), ev)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (h *Handler) resetChat(c *gin.Context) {
	if err := h.chat.Reset(c.Request.Context(), identity(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
