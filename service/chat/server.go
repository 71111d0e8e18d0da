package chat

import (
	"context"
	"time"

	chatsvc "PChat/module/chat/service"
	msgsvc "PChat/module/message/service"
	usermodel "PChat/module/user/model"
	"PChat/tools/errs"

	"github.com/gorilla/websocket"
)

// UserStore is the slice of the user service the socket layer needs:
// display-name lookups and presence flips. *usersvc.Service satisfies it.
type UserStore interface {
	GetByID(ctx context.Context, userID string) (*usermodel.User, error)
	SetOnline(ctx context.Context, userID string, online bool) error
}

type ServerConf struct {
	RevalidateInterval time.Duration // periodic token re-verification on live sockets
}

func (c *ServerConf) norm() {
	if c.RevalidateInterval <= 0 {
		c.RevalidateInterval = 15 * time.Minute
	}
}

// ServerDeps carries everything the socket server is composed from.
type ServerDeps struct {
	Registry *Registry
	Tracker  *Tracker
	Gate     *Gate
	Presence *Broadcaster
	Dispatch *Dispatcher
	Users    UserStore
	Chats    *chatsvc.Service
	Messages *msgsvc.Service
}

// Server ties the socket pieces together and is what handlers reach
// through Context.
type Server struct {
	reg      *Registry
	tracker  *Tracker
	gate     *Gate
	presence *Broadcaster
	disp     *Dispatcher

	users UserStore
	chats *chatsvc.Service
	msgs  *msgsvc.Service

	conf      ServerConf
	startTime time.Time
}

func NewServer(deps ServerDeps, conf ServerConf) *Server {
	conf.norm()
	return &Server{
		reg:       deps.Registry,
		tracker:   deps.Tracker,
		gate:      deps.Gate,
		presence:  deps.Presence,
		disp:      deps.Dispatch,
		users:     deps.Users,
		chats:     deps.Chats,
		msgs:      deps.Messages,
		conf:      conf,
		startTime: time.Now(),
	}
}

func (s *Server) Registry() *Registry       { return s.reg }
func (s *Server) Tracker() *Tracker         { return s.tracker }
func (s *Server) Gate() *Gate               { return s.gate }
func (s *Server) Presence() *Broadcaster    { return s.presence }
func (s *Server) Users() UserStore          { return s.users }
func (s *Server) Chats() *chatsvc.Service   { return s.chats }
func (s *Server) Messages() *msgsvc.Service { return s.msgs }

func (s *Server) Uptime() time.Duration { return time.Since(s.startTime) }

// HandleEvent routes one decoded inbound event.
func (s *Server) HandleEvent(evt *Event, c *Conn) error {
	return s.disp.Dispatch(&Context{S: s}, evt, c)
}

// Reply sends an event straight back on the caller's connection. A
// write failure here means the socket is gone, so it surfaces as a
// transport error.
func (s *Server) Reply(c *Conn, name string, data map[string]any) error {
	raw, err := Encode(name, data)
	if err != nil {
		return errs.WrapMsg(err, "encode reply", "event", name)
	}
	if err := c.Send(raw); err != nil {
		return errs.ErrTransport.WithDetail(err.Error()).Wrap()
	}
	return nil
}

// SendEventTo delivers an event to a user's live connection, if any.
func (s *Server) SendEventTo(userID, name string, data map[string]any) bool {
	raw, err := Encode(name, data)
	if err != nil {
		return false
	}
	return s.reg.SendTo(userID, raw)
}

// BroadcastEvent fans an event out to a chat's joined members and
// reports how many got it.
func (s *Server) BroadcastEvent(chatID, name string, data map[string]any, excludeUser string) int {
	raw, err := Encode(name, data)
	if err != nil {
		return 0
	}
	return s.reg.BroadcastToChat(chatID, raw, excludeUser)
}

// Close stops background loops and drops every live connection.
func (s *Server) Close() {
	s.tracker.Stop()
	s.reg.Close(websocket.CloseGoingAway, "server shutting down")
}
