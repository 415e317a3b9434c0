package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/gameupdater/gameupdater/pkg/notify"
)

// EventSource hands out live subscriptions to orchestrator events.
type EventSource interface {
	Subscribe(buffer int) (<-chan notify.Event, func())
}

type EventsHandler struct {
	source EventSource
}

func NewEventsHandler(source EventSource) *EventsHandler {
	return &EventsHandler{source: source}
}

// Stream writes events as server-sent events until the client goes away.
func (h *EventsHandler) Stream(c *gin.Context) {
	events, cancel := h.source.Subscribe(32)
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		}
	})
}
