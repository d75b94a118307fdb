package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// HandsHandler pushes tracking snapshots to WebSocket clients as JSON.
type HandsHandler struct {
	source Source
}

// NewHandsHandler creates a new HandsHandler with the given source.
func NewHandsHandler(source Source) *HandsHandler {
	return &HandsHandler{source: source}
}

// ServeHTTP upgrades the connection, sends the latest snapshot and then every
// new one until either side closes.
func (h *HandsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	snapshots, cancel := h.source.Subscribe()
	defer cancel()

	// the read loop only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.write(conn, h.source.Latest()); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-snapshots:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stopped"))
				return
			}
			if err := h.write(conn, snap); err != nil {
				return
			}
		}
	}
}

func (h *HandsHandler) write(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
