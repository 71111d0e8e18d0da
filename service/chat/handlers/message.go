package handlers

import (
	"PChat/logger"
	msgsvc "PChat/module/message/service"
	"PChat/service/chat"
	"PChat/tools/decode"
	"PChat/tools/errs"
)

type sendMessagePayload struct {
	ChatID      string `json:"chat_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	MediaURL    string `json:"media_url"`
	Caption     string `json:"caption"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	Token       string `json:"token"`
}

// SendMessageHandler persists the message, acks the sender, then fans
// it out to the chat's joined members. Delivery and auto-read marks are
// recorded per recipient; persisted participants the fan-out could not
// reach produce an offline notice back to the sender.
type SendMessageHandler struct{}

func NewSendMessageHandler() chat.Handler { return &SendMessageHandler{} }

func (h *SendMessageHandler) Kind() chat.EventKind { return chat.KindSendMessage }

func (h *SendMessageHandler) Handle(cx *chat.Context, evt *chat.Event, c *chat.Conn) error {
	p, err := decode.DecodeStruct[sendMessagePayload](evt.Data)
	if err != nil || p.ChatID == "" {
		return errs.ErrArgs.WithDetail("Chat ID is required").Wrap()
	}

	ctx, cancel := opCtx()
	defer cancel()

	claims, err := cx.S.Gate().Authenticate(ctx, p.Token)
	if err != nil {
		return errs.ErrTokenInvalid.WithDetail("Invalid token").Wrap()
	}
	if !cx.S.Gate().Authorize(claims, chat.PermSendMessages) {
		return errs.ErrPermission.WithDetail("Insufficient permissions to send messages").Wrap()
	}

	member, err := cx.S.Chats().IsParticipant(ctx, p.ChatID, c.UserID)
	if err != nil {
		logger.Warnf("[send] membership check chat=%s user=%s failed: %v", p.ChatID, c.UserID, err)
	}
	if err != nil || !member {
		return errs.ErrNotParticipant.WithDetail("You are not a participant in this chat").Wrap()
	}

	m, err := cx.S.Messages().Create(ctx, msgsvc.CreateParams{
		ChatID:      p.ChatID,
		SenderID:    c.UserID,
		Content:     p.Content,
		MessageType: p.MessageType,
		MediaURL:    p.MediaURL,
		Caption:     p.Caption,
		FileName:    p.FileName,
		FileSize:    p.FileSize,
	})
	if err != nil {
		logger.Errorf("[send] create message chat=%s user=%s failed: %v", p.ChatID, c.UserID, err)
		return errs.ErrStore.WithDetail("Failed to send message").Wrap()
	}

	payload := chat.BuildMessagePayload(m)
	cx.S.Tracker().Track(m, payload)

	// the sender's ack goes out before any fan-out
	if err := cx.S.Reply(c, chat.EvtMessageSent, chat.BuildMessageSent(m, payload)); err != nil {
		return err
	}

	msgID := m.ID.Hex()
	delivered := make(map[string]struct{})
	for _, member := range cx.S.Registry().Members(p.ChatID) {
		if member == c.UserID {
			continue
		}
		if cx.S.SendEventTo(member, chat.EvtReceiveMessage, payload) {
			delivered[member] = struct{}{}
			cx.S.Tracker().RecordDelivery(ctx, msgID, member)
			cx.S.Tracker().AutoCheckRead(ctx, msgID, member)
		}
	}

	participants, err := cx.S.Chats().Participants(ctx, p.ChatID)
	if err != nil {
		logger.Warnf("[send] participants chat=%s failed: %v", p.ChatID, err)
		return nil
	}
	for _, pid := range participants {
		if pid == c.UserID {
			continue
		}
		if _, ok := delivered[pid]; ok {
			continue
		}
		if err := cx.S.Reply(c, chat.EvtMessageStatus, chat.BuildOfflineStatus(msgID, pid)); err != nil {
			return err
		}
	}
	return nil
}
