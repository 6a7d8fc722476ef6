// Package webui is the management interface: a gorilla/mux HTTP API
// plus a gorilla/websocket change-notification stream, reading and
// writing the datastore only through its public contract. No engine
// internals cross this boundary.
package webui

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/brightgrid/modbusd/datastore"
)

// hubBufferSize bounds each subscriber's outgoing event queue; when a
// slow WebSocket client's queue is full, the newly arriving event is
// dropped for that client rather than stalling the datastore writer
// that published it.
const hubBufferSize = 64

// hub fans datastore.ChangeEvent notifications out to every connected
// WebSocket client. It owns no lock of its own beyond what guards its
// client registry; the datastore's Subscribe/Unsubscribe already make
// delivery to one subscriber independent of the others.
type hub struct {
	store *datastore.Store

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan datastore.ChangeEvent
}

func newHub(store *datastore.Store) *hub {
	return &hub{
		store:   store,
		clients: make(map[*wsClient]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWS upgrades the request to a WebSocket and streams change
// events to it until the connection closes.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &wsClient{conn: conn, send: make(chan datastore.ChangeEvent, hubBufferSize)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	subID, events := h.store.Subscribe(hubBufferSize)
	closed := make(chan struct{})

	go client.writePump()

	// The client never sends anything meaningful; this goroutine only
	// exists to notice when it disconnects.
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.store.Unsubscribe(subID)
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		close(client.send)
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			select {
			case client.send <- event:
			default:
				// Overflowing client: drop this event for it only.
			}
		case <-closed:
			return
		}
	}
}

func (c *wsClient) writePump() {
	for event := range c.send {
		if err := c.conn.WriteJSON(wireChangeEvent(event)); err != nil {
			return
		}
	}
}

func wireChangeEvent(e datastore.ChangeEvent) map[string]interface{} {
	return map[string]interface{}{
		"slave_id": e.SlaveID,
		"kind":     e.Kind.String(),
		"address":  e.Address,
		"count":    e.Count,
		"source":   e.Source,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
