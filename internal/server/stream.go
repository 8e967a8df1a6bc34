package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantleap/simtrader/internal/observ"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from the same host in practice; the stream
	// carries no secrets either way.
	CheckOrigin: func(*http.Request) bool { return true },
}

type streamFrame struct {
	Status   any       `json:"status"`
	SentAt   time.Time `json:"sent_at"`
	Interval string    `json:"interval"`
}

const streamInterval = 5 * time.Second

// handleEquityStream pushes engine status over a websocket every few
// seconds until the client goes away.
func (s *Server) handleEquityStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observ.Log("ws_upgrade_failed", map[string]any{"error": err.Error()})
		return
	}
	defer conn.Close()
	observ.IncCounter("ws_connections_total", nil)

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	send := func() error {
		return conn.WriteJSON(streamFrame{
			Status:   s.engine.Status(),
			SentAt:   time.Now(),
			Interval: streamInterval.String(),
		})
	}
	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := send(); err != nil {
				return
			}
		}
	}
}
