package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

// Keepalive controls ping/pong liveness and write timeouts on relay
// connections.
type Keepalive struct {
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

func DefaultKeepalive() Keepalive {
	return Keepalive{
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  10 * time.Second,
		ReadLimit:  1 << 20,
	}
}

// peer wraps a relay connection. Data messages are only written from the
// goroutine that owns the peer's write loop; control frames may be written
// from anywhere.
type peer struct {
	conn *websocket.Conn
	ka   Keepalive
}

func newPeer(conn *websocket.Conn, ka Keepalive) *peer {
	p := &peer{conn: conn, ka: ka}
	conn.SetReadLimit(ka.ReadLimit)
	conn.SetReadDeadline(time.Now().Add(ka.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ka.PongWait))
	})
	return p
}

func (p *peer) write(messageType int, data []byte) error {
	p.conn.SetWriteDeadline(time.Now().Add(p.ka.WriteWait))
	return p.conn.WriteMessage(messageType, data)
}

func (p *peer) ping() error {
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.ka.WriteWait))
}

// closeWith sends a close frame and gives the remote side WriteWait to answer
// before the reader gives up.
func (p *peer) closeWith(code int, reason string) {
	p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(p.ka.WriteWait))
	p.conn.SetReadDeadline(time.Now().Add(p.ka.WriteWait))
}

// isNormalClose reports whether err is an ordinary end of the connection.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
