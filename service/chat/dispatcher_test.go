package chat

import (
	"testing"

	"PChat/tools/errs"
)

type stubHandler struct {
	kind EventKind
	fn   func(cx *Context, evt *Event, c *Conn) error
}

func (h *stubHandler) Kind() EventKind { return h.kind }
func (h *stubHandler) Handle(cx *Context, evt *Event, c *Conn) error {
	return h.fn(cx, evt, c)
}

func newDispatchServer(disp *Dispatcher) *Server {
	reg := newTestRegistry(nil)
	tr, _ := newTestTracker(reg, nil, TrackerConf{})
	return NewServer(ServerDeps{Registry: reg, Tracker: tr, Dispatch: disp}, ServerConf{})
}

func TestDispatchRoutesToHandler(t *testing.T) {
	disp := NewDispatcher()
	var got *Event
	disp.Register(&stubHandler{kind: KindLogin, fn: func(_ *Context, evt *Event, _ *Conn) error {
		got = evt
		return nil
	}})
	s := newDispatchServer(disp)

	conn, tr := newTestConn("u1")
	evt := &Event{Kind: KindLogin, Name: EvtLogin, Data: map[string]any{"token": "x"}}
	if err := s.HandleEvent(evt, conn); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got != evt {
		t.Fatal("handler did not receive the event")
	}
	if tr.frameCount() != 0 {
		t.Fatal("successful dispatch must not emit frames on its own")
	}
}

func TestDispatchDomainErrorBecomesErrorFrame(t *testing.T) {
	disp := NewDispatcher()
	disp.Register(&stubHandler{kind: KindJoinChat, fn: func(_ *Context, _ *Event, _ *Conn) error {
		return errs.ErrPermission.WithDetail("Insufficient permissions to join chat").Wrap()
	}})
	s := newDispatchServer(disp)

	conn, tr := newTestConn("u1")
	err := s.HandleEvent(&Event{Kind: KindJoinChat, Name: EvtJoinChat, Data: map[string]any{}}, conn)
	if err != nil {
		t.Fatalf("domain errors must not propagate, got %v", err)
	}

	evt := tr.lastEvent(t)
	if evt.Name != EvtError {
		t.Fatalf("got %s, want %s", evt.Name, EvtError)
	}
	if evt.Data["message"] != "Insufficient permissions to join chat" {
		t.Fatalf("message = %v", evt.Data["message"])
	}
	if _, hasCode := evt.Data["code"]; hasCode {
		t.Fatal("domain rejections carry no wire code")
	}
}

func TestDispatchTransportErrorPropagates(t *testing.T) {
	disp := NewDispatcher()
	disp.Register(&stubHandler{kind: KindSendMessage, fn: func(_ *Context, _ *Event, _ *Conn) error {
		return errs.ErrTransport.WithDetail("peer gone").Wrap()
	}})
	s := newDispatchServer(disp)

	conn, tr := newTestConn("u1")
	err := s.HandleEvent(&Event{Kind: KindSendMessage, Name: EvtSendMessage, Data: map[string]any{}}, conn)
	if err == nil {
		t.Fatal("transport errors must reach the read loop")
	}
	if tr.frameCount() != 0 {
		t.Fatal("no ERROR frame on a dead connection")
	}
}

func TestDispatchUnregisteredKind(t *testing.T) {
	disp := NewDispatcher()
	s := newDispatchServer(disp)

	conn, tr := newTestConn("u1")
	err := s.HandleEvent(&Event{Kind: KindStatusCheck, Name: EvtStatusCheck, Data: map[string]any{}}, conn)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	evt := tr.lastEvent(t)
	if evt.Name != EvtError || evt.Data["code"] != CodeUnknownEvent {
		t.Fatalf("got %s %v, want UNKNOWN_EVENT error", evt.Name, evt.Data)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	disp := NewDispatcher()
	disp.Register(&stubHandler{kind: KindTypingStart, fn: func(_ *Context, _ *Event, _ *Conn) error {
		panic("handler bug")
	}})
	s := newDispatchServer(disp)

	conn, tr := newTestConn("u1")
	err := s.HandleEvent(&Event{Kind: KindTypingStart, Name: EvtTypingStart, Data: map[string]any{}}, conn)
	if err != nil {
		t.Fatalf("panic must not kill the connection, got %v", err)
	}
	evt := tr.lastEvent(t)
	if evt.Name != EvtError {
		t.Fatalf("got %s, want ERROR frame after panic", evt.Name)
	}
	if evt.Data["message"] != "Internal server error" {
		t.Fatalf("message = %v", evt.Data["message"])
	}
}
