package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"torrentd/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The push channel is open to any origin, same as the REST API.
		return true
	},
}

const writeWait = 10 * time.Second

// wsSubscriber adapts a websocket connection to the hub's Subscriber
// interface. The mutex serializes writes; gorilla connections allow only
// one concurrent writer.
type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var _ hub.Subscriber = (*wsSubscriber)(nil)

func (s *wsSubscriber) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

// handleWebSocket upgrades the connection and registers it with the hub,
// which sends the current snapshot right away. Inbound frames are ignored;
// the read loop exists only to notice disconnects.
func (h *Handler) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorf("websocket upgrade: %v", err)
		return
	}

	sub := &wsSubscriber{conn: conn}
	h.hub.Register(sub)
	defer func() {
		h.hub.Unregister(sub)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.log.Warnf("websocket read: %v", err)
			}
			return
		}
	}
}
