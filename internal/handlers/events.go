package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/robotailabs/ota-agent/internal/events"
)

// The listener binds to loopback only; origin checks would reject the local
// GUI's file-scheme origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsHandler streams lifecycle events to GUI subscribers over WebSocket.
type EventsHandler struct {
	bus *events.Bus
}

func NewEventsHandler(bus *events.Bus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

func (h *EventsHandler) Stream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Events] WebSocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)

	// Read pump: the client never sends data, but reading is how we learn the
	// connection closed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event := <-ch:
			if err := ws.WriteJSON(event); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
