package chat

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"PChat/logger"
	"PChat/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Close codes on the auth path. Clients key their retry behavior off
// these, so the values and reason texts are part of the contract.
const (
	CloseAuthFailed       = 4001
	CloseVerifyError      = 4002
	ClosePermissionDenied = 4003
	CloseEstablishFailed  = 4004
	CloseTokenExpired     = 4005
	CloseValidationError  = 4006
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request, authenticates the token query
// parameter, registers the connection and runs the read loop until the
// peer goes away. Auth happens after the upgrade so rejections reach
// the client as proper close frames instead of failed handshakes.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}
	tr := newWSTransport(ws)

	ctx := c.Request.Context()
	token := c.Query("token")
	claims, err := s.gate.Authenticate(ctx, token)
	if err != nil {
		logger.Infof("[ws] auth rejected: %v", err)
		code, reason := closeForAuthErr(err)
		_ = tr.Close(code, reason)
		return
	}
	if !s.gate.Authorize(claims, PermWebSocket) {
		logger.Infof("[ws] %s lacks socket permission", claims.Subject)
		_ = tr.Close(ClosePermissionDenied, "Insufficient permissions for WebSocket access")
		return
	}

	userID := claims.Subject
	if err := s.establish(ctx, userID); err != nil {
		logger.Errorf("[ws] establish %s failed: %v", userID, err)
		_ = tr.Close(CloseEstablishFailed, "Connection failed: "+domainMessage(err))
		return
	}

	sessionID := fmt.Sprintf("ws_%s_%s", userID, uuid.NewString())
	conn := NewConn(userID, sessionID, tr)
	if prior := s.reg.Register(conn); prior != nil {
		logger.Infof("[ws] %s reconnected, dropping prior session %s", userID, prior.SessionID)
		prior.Close(websocket.CloseNormalClosure, "replaced by new connection")
	}

	if err := s.Reply(conn, EvtConnectionAck, BuildConnectionAck(userID, sessionID, claims)); err != nil {
		logger.Infof("[ws] ack to %s failed: %v", userID, err)
	} else {
		stop := make(chan struct{})
		done := make(chan struct{})
		go s.revalidateLoop(conn, token, stop, done)
		s.readLoop(conn, ws, token)
		close(stop)
		<-done
	}

	s.cleanup(conn)
}

// establish flips the user online and announces it before the socket
// joins the registry.
func (s *Server) establish(ctx context.Context, userID string) error {
	if err := s.users.SetOnline(ctx, userID, true); err != nil {
		return err
	}
	return s.presence.BroadcastStatus(ctx, userID, true)
}

func closeForAuthErr(err error) (int, string) {
	if errs.ErrAuthFailed.Is(err) {
		return CloseAuthFailed, "Authentication failed: " + domainMessage(err)
	}
	return CloseVerifyError, "Token verification failed"
}

// readLoop pulls frames until the peer disconnects or a write back to
// it fails. Malformed frames get an ERROR reply and the loop keeps
// going; only transport failures end it.
func (s *Server) readLoop(c *Conn, ws *websocket.Conn, token string) {
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed user=%s err=%v", c.UserID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout user=%s err=%v", c.UserID, rerr)
			} else {
				logger.Infof("[ws] read err user=%s err=%v", c.UserID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		evt, perr := Decode(data)
		if perr != nil {
			logger.Infof("[ws] rejected frame user=%s code=%s", c.UserID, perr.Code)
			if err := s.Reply(c, EvtError, BuildError(perr.Message, perr.Code, perr.Received)); err != nil {
				return
			}
			continue
		}

		// handlers re-verify per event; the connection token stands in
		// when the client omits one
		if _, ok := evt.Data["token"]; !ok {
			evt.Data["token"] = token
		}

		if err := s.HandleEvent(evt, c); err != nil {
			logger.Infof("[ws] conn %s dropped mid-dispatch: %v", c.UserID, err)
			return
		}
	}
}

// revalidateLoop re-verifies the connection's token on a timer and
// closes the socket when it stops holding up. The read loop notices the
// close and runs the shared cleanup.
func (s *Server) revalidateLoop(c *Conn, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	tick := time.NewTicker(s.conf.RevalidateInterval)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.gate.Revalidate(ctx, c.UserID, token)
			cancel()
			if err == nil {
				continue
			}
			logger.Infof("[ws] revalidation failed user=%s: %v", c.UserID, err)
			if errs.ErrAuthFailed.Is(err) {
				c.Close(CloseTokenExpired, "Token expired or invalid")
			} else {
				c.Close(CloseValidationError, "Token validation error")
			}
			return
		}
	}
}

// cleanup runs exactly once per connection, whatever ended it. A
// replaced connection must not mark the user offline: the registry
// tells us whether this conn still owned the slot.
func (s *Server) cleanup(c *Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	typingChats, removed := s.reg.Unregister(c.UserID, c)
	if removed {
		for _, chatID := range typingChats {
			s.BroadcastEvent(chatID, EvtTypingStop, BuildTypingStopped(chatID, c.UserID), c.UserID)
		}
		s.markOffline(ctx, c.UserID)
		s.tracker.RemoveWatermark(c.UserID)
	} else if !s.reg.IsOnline(c.UserID) {
		// evicted by a failed send: the registry already dropped the
		// conn, presence still owes the offline fanout
		s.markOffline(ctx, c.UserID)
		s.tracker.RemoveWatermark(c.UserID)
	}
	closeQuiet(c)
}

func (s *Server) markOffline(ctx context.Context, userID string) {
	if err := s.users.SetOnline(ctx, userID, false); err != nil {
		logger.Errorf("[ws] set offline %s failed: %v", userID, err)
	}
	if err := s.presence.BroadcastStatus(ctx, userID, false); err != nil {
		logger.Errorf("[ws] offline presence %s failed: %v", userID, err)
	}
}
