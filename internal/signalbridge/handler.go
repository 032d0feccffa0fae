package signalbridge

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests to WebSocket connections and registers
// them with a Bridge's hub. Expected URL: /ws/signals/{topic}, where topic
// is an event type ("pitch_start", "observation", ...) or "all".
type Handler struct {
	bridge *Bridge
	log    *zap.Logger
}

// NewHandler builds a Handler serving connections for bridge.
func NewHandler(bridge *Bridge) *Handler {
	return &Handler{bridge: bridge, log: bridge.log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/ws/signals/"), "/")
	if topic == "" {
		topic = TopicAll
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.bridge.hub.register(topic, conn)
	go h.readPump(topic, conn)
}

// readPump keeps the connection alive with pings and detects client
// disconnection; the bridge never expects incoming messages.
func (h *Handler) readPump(topic string, conn *websocket.Conn) {
	defer func() {
		h.bridge.hub.unregister(topic, conn)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for range ticker.C {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
