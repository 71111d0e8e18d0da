package handlers

import (
	"PChat/service/chat"
	"PChat/tools/decode"
	"PChat/tools/errs"
)

type typingPayload struct {
	ChatID string `json:"chat_id"`
}

// TypingStartHandler marks the sender as typing and tells the room.
// The mark expires on its own; a client that goes silent never leaves
// a stuck indicator.
type TypingStartHandler struct{}

func NewTypingStartHandler() chat.Handler { return &TypingStartHandler{} }

func (h *TypingStartHandler) Kind() chat.EventKind { return chat.KindTypingStart }

func (h *TypingStartHandler) Handle(cx *chat.Context, evt *chat.Event, c *chat.Conn) error {
	p, err := decode.DecodeStruct[typingPayload](evt.Data)
	if err != nil || p.ChatID == "" {
		return errs.ErrArgs.WithDetail("Chat ID is required").Wrap()
	}

	cx.S.Registry().SetTyping(c.UserID, p.ChatID, true)

	username := c.UserID
	ctx, cancel := opCtx()
	defer cancel()
	if u, err := cx.S.Users().GetByID(ctx, c.UserID); err == nil {
		username = u.Username
	}
	cx.S.BroadcastEvent(p.ChatID, chat.EvtUserTyping, chat.BuildUserTyping(p.ChatID, c.UserID, username), c.UserID)
	return nil
}

// TypingStopHandler clears the typing mark and tells the room.
type TypingStopHandler struct{}

func NewTypingStopHandler() chat.Handler { return &TypingStopHandler{} }

func (h *TypingStopHandler) Kind() chat.EventKind { return chat.KindTypingStop }

func (h *TypingStopHandler) Handle(cx *chat.Context, evt *chat.Event, c *chat.Conn) error {
	p, err := decode.DecodeStruct[typingPayload](evt.Data)
	if err != nil || p.ChatID == "" {
		return errs.ErrArgs.WithDetail("Chat ID is required").Wrap()
	}

	cx.S.Registry().SetTyping(c.UserID, p.ChatID, false)
	cx.S.BroadcastEvent(p.ChatID, chat.EvtTypingStop, chat.BuildTypingStopped(p.ChatID, c.UserID), c.UserID)
	return nil
}
