package signalbridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// hub manages WebSocket connections grouped by topic. A client registered
// under TopicAll receives every broadcast regardless of the topic it was
// sent on.
type hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]bool
}

func newHub(log *zap.Logger) *hub {
	return &hub{
		log:     log,
		clients: make(map[string]map[*websocket.Conn]bool),
	}
}

func (h *hub) register(topic string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*websocket.Conn]bool)
	}
	h.clients[topic][conn] = true
}

func (h *hub) unregister(topic string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[topic]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, topic)
		}
	}
}

// clientCount returns the total number of connected clients across topics.
func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// broadcast fans msg out to clients registered on topic and to every client
// registered on TopicAll.
func (h *hub) broadcast(topic string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal signal message failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	recipients := make(map[*websocket.Conn]bool)
	for conn := range h.clients[topic] {
		recipients[conn] = true
	}
	for conn := range h.clients[TopicAll] {
		recipients[conn] = true
	}
	h.mu.RUnlock()

	for conn := range recipients {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.dropClient(conn)
		}
	}
}

func (h *hub) dropClient(conn *websocket.Conn) {
	h.mu.Lock()
	for topic, conns := range h.clients {
		if conns[conn] {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(h.clients, topic)
			}
		}
	}
	h.mu.Unlock()
	conn.Close()
}
