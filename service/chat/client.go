package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Transport is one live bidirectional stream to a connected peer. The
// registry and tracker only ever see this interface; tests substitute it.
type Transport interface {
	// Send writes one text frame. An error means the peer is gone.
	Send(data []byte) error
	// Close sends a close frame with the given status code and shuts the
	// stream down. Safe to call more than once.
	Close(code int, reason string) error
}

// Conn represents one authenticated user session on the gateway.
// A user holds at most one Conn; a second login replaces the first.
type Conn struct {
	UserID      string
	SessionID   string // ws_<user>_<uuid>, reported in the connection ack
	ConnectedAt time.Time

	tr Transport
}

// NewConn wraps a transport into a registered session handle.
func NewConn(userID, sessionID string, tr Transport) *Conn {
	return &Conn{
		UserID:      userID,
		SessionID:   sessionID,
		ConnectedAt: time.Now().UTC(),
		tr:          tr,
	}
}

// Send writes one frame to this session's peer.
func (c *Conn) Send(data []byte) error { return c.tr.Send(data) }

// Close shuts the session's transport down.
func (c *Conn) Close(code int, reason string) { _ = c.tr.Close(code, reason) }

// wsTransport adapts a gorilla connection. Writes are serialized with a
// mutex: replies from the session's own read loop race with broadcasts
// from other sessions' loops.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		t.mu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func closeQuiet(c *Conn) {
	if c != nil {
		c.Close(websocket.CloseNormalClosure, "")
	}
}
