package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// streamer is satisfied by *events.Hub.
type streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// EventsHandler upgrades GET /events/ws to a live event stream.
type EventsHandler struct {
	hub streamer
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(hub streamer) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Register mounts the events route on the given router group.
func (h *EventsHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/events/ws", func(c *gin.Context) {
		h.hub.ServeWS(c.Writer, c.Request)
	})
}
