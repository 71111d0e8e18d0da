package handlers

import (
	"time"

	"PChat/logger"
	"PChat/service/chat"
	"PChat/tools/decode"
	"PChat/tools/errs"
)

type messageReadPayload struct {
	MessageID string `json:"message_id"`
	ID        string `json:"id"` // older clients send the short key
	ChatID    string `json:"chat_id"`
}

func (p *messageReadPayload) messageID() string {
	if p.MessageID != "" {
		return p.MessageID
	}
	return p.ID
}

// MessageReadHandler applies an explicit read receipt. Tracked messages
// go through the tracker; once a record has aged out the receipt falls
// back to the persisted store so late reads still land.
type MessageReadHandler struct{}

func NewMessageReadHandler() chat.Handler { return &MessageReadHandler{} }

func (h *MessageReadHandler) Kind() chat.EventKind { return chat.KindMessageRead }

func (h *MessageReadHandler) Handle(cx *chat.Context, evt *chat.Event, c *chat.Conn) error {
	p, err := decode.DecodeStruct[messageReadPayload](evt.Data)
	if err != nil || p.messageID() == "" {
		return errs.ErrArgs.WithDetail("Message ID is required").Wrap()
	}
	msgID := p.messageID()

	ctx, cancel := opCtx()
	defer cancel()

	readAt := time.Now().UTC()
	chatID, err := cx.S.Tracker().RecordRead(ctx, msgID, c.UserID, true)
	if err == nil {
		return cx.S.Reply(c, chat.EvtReadConfirmed, chat.BuildReadConfirmed(msgID, chatID, readAt))
	}
	if !errs.ErrRecordNotFound.Is(err) {
		return err
	}

	m, gerr := cx.S.Messages().GetByID(ctx, msgID)
	if gerr != nil {
		return errs.ErrRecordNotFound.WithDetail("Message not found").Wrap()
	}
	if m.SenderID == c.UserID {
		return errs.ErrSelfRead.WithDetail("Cannot mark own message as read").Wrap()
	}
	if _, err := cx.S.Messages().MarkRead(ctx, msgID, c.UserID); err != nil {
		return errs.ErrStore.WithDetail("Failed to mark message as read").Wrap()
	}
	cx.S.SendEventTo(m.SenderID, chat.EvtMessageRead, chat.BuildMessageRead(msgID, m.ChatID, c.UserID, readAt, true))
	return cx.S.Reply(c, chat.EvtReadConfirmed, chat.BuildReadConfirmed(msgID, m.ChatID, readAt))
}

type lastReadPayload struct {
	LastMessageTime string `json:"last_message_time"`
}

// UpdateLastReadHandler moves the caller's read watermark forward.
// Fire-and-forget: no ack on success and no error on a missing
// timestamp, matching how clients batch these.
type UpdateLastReadHandler struct{}

func NewUpdateLastReadHandler() chat.Handler { return &UpdateLastReadHandler{} }

func (h *UpdateLastReadHandler) Kind() chat.EventKind { return chat.KindUpdateLastRead }

func (h *UpdateLastReadHandler) Handle(cx *chat.Context, evt *chat.Event, c *chat.Conn) error {
	p, err := decode.DecodeStruct[lastReadPayload](evt.Data)
	if err != nil || p.LastMessageTime == "" {
		return nil
	}
	mark, ok := chat.ParseISOTime(p.LastMessageTime)
	if !ok {
		logger.Warnf("[read] bad last_message_time from %s: %q", c.UserID, p.LastMessageTime)
		return nil
	}

	ctx, cancel := opCtx()
	defer cancel()
	cx.S.Tracker().UpdateWatermark(ctx, c.UserID, mark)
	return nil
}
