package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string      `json:"type"`
	RouteID string      `json:"routeId,omitempty"`
	Event   *RouteEvent `json:"event,omitempty"`
}

// RoutesWSHandler handles /v1/routes/ws: a driver app subscribes to one or
// more routes and receives their live events over a single connection.
func (s *Server) RoutesWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// gorilla allows a single concurrent writer
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(v)
	}

	subs := map[string]chan RouteEvent{}
	done := make(chan struct{})
	defer func() {
		close(done)
		for rid, ch := range subs {
			s.Broker.Unsubscribe(rid, ch)
		}
	}()

	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				wmu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			if msg.RouteID == "" || subs[msg.RouteID] != nil {
				continue
			}
			ch := s.Broker.Subscribe(msg.RouteID)
			subs[msg.RouteID] = ch
			go func(rid string, c chan RouteEvent) {
				for evt := range c {
					e := evt
					if err := write(wsMessage{Type: "event", RouteID: rid, Event: &e}); err != nil {
						return
					}
				}
			}(msg.RouteID, ch)
			_ = write(wsMessage{Type: "subscribed", RouteID: msg.RouteID})
		case "unsubscribe":
			if ch := subs[msg.RouteID]; ch != nil {
				s.Broker.Unsubscribe(msg.RouteID, ch)
				delete(subs, msg.RouteID)
			}
		default:
			// ignore
		}
	}
}
