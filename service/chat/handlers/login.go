package handlers

import (
	"PChat/logger"
	"PChat/service/chat"
	"PChat/tools/decode"
	"PChat/tools/errs"
)

type loginPayload struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id"`
}

// LoginHandler re-authenticates an already-connected socket and
// announces the user as online. The connection was authenticated at
// upgrade time; login exists so clients can refresh their session
// state without reconnecting.
type LoginHandler struct{}

func NewLoginHandler() chat.Handler { return &LoginHandler{} }

func (h *LoginHandler) Kind() chat.EventKind { return chat.KindLogin }

func (h *LoginHandler) Handle(cx *chat.Context, evt *chat.Event, c *chat.Conn) error {
	p, err := decode.DecodeStruct[loginPayload](evt.Data)
	if err != nil || p.Token == "" {
		return errs.ErrArgs.WithDetail("Token is required for login").Wrap()
	}

	ctx, cancel := opCtx()
	defer cancel()

	claims, err := cx.S.Gate().Authenticate(ctx, p.Token)
	if err != nil || claims.Subject != c.UserID {
		return errs.ErrTokenInvalid.WithDetail("Login failed: Invalid token").Wrap()
	}

	if err := cx.S.Users().SetOnline(ctx, c.UserID, true); err != nil {
		return errs.ErrStore.WithDetail("Login failed").Wrap()
	}
	u, err := cx.S.Users().GetByID(ctx, c.UserID)
	if err != nil {
		return errs.ErrStore.WithDetail("Login failed").Wrap()
	}

	if err := cx.S.Reply(c, chat.EvtLoginSuccess, chat.BuildLoginSuccess(u, claims, c.SessionID, p.DeviceID)); err != nil {
		return err
	}
	if err := cx.S.Presence().BroadcastStatus(ctx, c.UserID, true); err != nil {
		logger.Warnf("[login] presence for %s failed: %v", c.UserID, err)
	}
	return nil
}
