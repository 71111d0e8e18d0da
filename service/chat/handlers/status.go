package handlers

import (
	"PChat/service/chat"
	"PChat/tools/decode"
	"PChat/tools/errs"
)

type statusCheckPayload struct {
	UserID string `json:"user_id"`
}

// StatusCheckHandler answers a point query about another user's
// presence, straight from the registry.
type StatusCheckHandler struct{}

func NewStatusCheckHandler() chat.Handler { return &StatusCheckHandler{} }

func (h *StatusCheckHandler) Kind() chat.EventKind { return chat.KindStatusCheck }

func (h *StatusCheckHandler) Handle(cx *chat.Context, evt *chat.Event, c *chat.Conn) error {
	p, err := decode.DecodeStruct[statusCheckPayload](evt.Data)
	if err != nil || p.UserID == "" {
		return errs.ErrArgs.WithDetail("User ID is required").Wrap()
	}
	return cx.S.Reply(c, chat.EvtUserStatus, chat.BuildUserStatus(p.UserID, cx.S.Registry().IsOnline(p.UserID)))
}
