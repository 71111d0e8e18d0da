package handlers

import (
	"PChat/logger"
	"PChat/service/chat"
	"PChat/tools/decode"
	"PChat/tools/errs"
)

type joinChatPayload struct {
	ChatID string `json:"chat_id"`
	Token  string `json:"token"`
}

// JoinChatHandler subscribes the connection to a chat's live fan-out.
// Joining is gated on the persisted participant list; a membership
// lookup failure counts as not a member.
type JoinChatHandler struct{}

func NewJoinChatHandler() chat.Handler { return &JoinChatHandler{} }

func (h *JoinChatHandler) Kind() chat.EventKind { return chat.KindJoinChat }

func (h *JoinChatHandler) Handle(cx *chat.Context, evt *chat.Event, c *chat.Conn) error {
	p, err := decode.DecodeStruct[joinChatPayload](evt.Data)
	if err != nil || p.ChatID == "" {
		return errs.ErrArgs.WithDetail("Chat ID is required").Wrap()
	}

	ctx, cancel := opCtx()
	defer cancel()

	claims, err := cx.S.Gate().Authenticate(ctx, p.Token)
	if err != nil {
		return errs.ErrTokenInvalid.WithDetail("Invalid token").Wrap()
	}
	if !cx.S.Gate().Authorize(claims, chat.PermJoinChats) {
		return errs.ErrPermission.WithDetail("Insufficient permissions to join chat").Wrap()
	}

	member, err := cx.S.Chats().IsParticipant(ctx, p.ChatID, c.UserID)
	if err != nil {
		logger.Warnf("[join] membership check chat=%s user=%s failed: %v", p.ChatID, c.UserID, err)
	}
	if err != nil || !member {
		return errs.ErrNotParticipant.WithDetail("You are not a participant in this chat").Wrap()
	}

	cx.S.Registry().JoinChat(c.UserID, p.ChatID)

	if err := cx.S.Reply(c, chat.EvtChatJoined, chat.BuildChatJoined(p.ChatID, c.UserID)); err != nil {
		return err
	}
	cx.S.BroadcastEvent(p.ChatID, chat.EvtUserJoinedChat, chat.BuildUserJoinedChat(p.ChatID, c.UserID), c.UserID)
	return nil
}

type leaveChatPayload struct {
	ChatID string `json:"chat_id"`
}

// LeaveChatHandler drops the live subscription. No membership check:
// leaving a room you were never in is a harmless no-op, and the ack
// still goes out so clients can tear down optimistically.
type LeaveChatHandler struct{}

func NewLeaveChatHandler() chat.Handler { return &LeaveChatHandler{} }

func (h *LeaveChatHandler) Kind() chat.EventKind { return chat.KindLeaveChat }

func (h *LeaveChatHandler) Handle(cx *chat.Context, evt *chat.Event, c *chat.Conn) error {
	p, err := decode.DecodeStruct[leaveChatPayload](evt.Data)
	if err != nil || p.ChatID == "" {
		return errs.ErrArgs.WithDetail("Chat ID is required").Wrap()
	}

	cx.S.Registry().LeaveChat(c.UserID, p.ChatID)

	if err := cx.S.Reply(c, chat.EvtChatLeft, chat.BuildChatLeft(p.ChatID, c.UserID)); err != nil {
		return err
	}
	cx.S.BroadcastEvent(p.ChatID, chat.EvtUserLeftChat, chat.BuildUserLeftChat(p.ChatID, c.UserID), "")
	return nil
}
