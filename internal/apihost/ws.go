package apihost

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/jamesgiroux/dailyos-core/internal/events"
)

// upgrader keeps gorilla's default same-origin check and applies no
// address check of its own; the server binds to listen.address, which
// defaults to 127.0.0.1.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleEvents streams bus events (prep-ready, hygiene reports, poll
// progress) to the GUI host over a WebSocket. Slow consumers miss
// events rather than blocking publishers — the bus guarantees that.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.deps.Events.Subscribe(64)
	defer s.deps.Events.Unsubscribe(ch)

	// Reader goroutine: detect client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

// publish is a convenience for handlers that emit GUI events directly.
func (s *Server) publish(kind string, data map[string]any) {
	s.deps.Events.Publish(events.Event{Source: events.SourceOrchestrator, Kind: kind, Data: data})
}
