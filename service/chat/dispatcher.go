package chat

import (
	"PChat/logger"
	"PChat/tools/errs"
)

// Dispatcher routes decoded events to their registered handlers. Domain
// failures turn into ERROR frames on the same connection; only transport
// errors propagate to the read loop, where they tear the connection down.
type Dispatcher struct {
	handlers map[EventKind]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[EventKind]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Kind()] = h }

func (d *Dispatcher) Dispatch(ctx *Context, evt *Event, c *Conn) error {
	h, ok := d.handlers[evt.Kind]
	if !ok {
		// decode rejects unknown names; this covers kinds nobody registered
		return ctx.S.Reply(c, EvtError, BuildError("Unknown event type: "+evt.Name, CodeUnknownEvent, ""))
	}
	err := d.handle(ctx, evt, c, h)
	if err == nil {
		return nil
	}
	if errs.ErrTransport.Is(err) {
		return err
	}
	logger.Warnf("[ws] %s from %s rejected: %v", evt.Name, c.UserID, err)
	return ctx.S.Reply(c, EvtError, BuildError(domainMessage(err), "", ""))
}

// handle isolates handler panics so one bad event cannot take the
// connection down.
func (d *Dispatcher) handle(ctx *Context, evt *Event, c *Conn, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[ws] handler panic on %s: %+v", evt.Name, errs.ErrPanic(r))
			err = errs.ErrInternalServer.WithDetail("Internal server error").Wrap()
		}
	}()
	return h.Handle(ctx, evt, c)
}

// domainMessage picks the client-facing text for a rejected event.
func domainMessage(err error) string {
	if ce := errs.CodeOf(err); ce != nil {
		if d := ce.DDetail(); d != "" {
			return d
		}
		return ce.EMsg()
	}
	return "Internal server error"
}
