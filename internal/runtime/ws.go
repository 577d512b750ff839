package runtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control surface is bound locally; browser clients on other
	// origins are expected during development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSubscriber adapts one WebSocket connection to the stream hub.
// Writes are serialized because the hub dispatch and keepalive contexts
// both send.
type wsSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscriber) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

func (r *Runtime) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := &wsSubscriber{conn: conn}
	r.hub.Add(sub)
	r.logger.Debug("websocket client connected", slog.String("remote", req.RemoteAddr))

	// Drain the read side so close frames and pings are processed; any
	// read error means the client is gone.
	go func() {
		defer func() {
			r.hub.Remove(sub)
			conn.Close()
			r.logger.Debug("websocket client disconnected", slog.String("remote", req.RemoteAddr))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
