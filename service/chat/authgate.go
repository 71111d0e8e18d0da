package chat

import (
	"context"

	usermodel "PChat/module/user/model"
	usersvc "PChat/module/user/service"
	redisstore "PChat/service/storage/redis"
	"PChat/tools/errs"
	"PChat/tools/safe"
	"PChat/tools/security"
)

// Permissions checked on the socket path. Admin role bypasses all of them.
const (
	PermWebSocket      = "websocket_access"
	PermSendMessages   = "send_messages"
	PermJoinChats      = "join_chats"
	PermAdminBroadcast = "admin_broadcast"
)

// Gate is the socket-side auth chain: signature and expiry, then the
// revocation list, then a live user lookup. Fails closed on backend
// errors.
type Gate struct {
	jwt     security.Options
	revoked *redisstore.RevocationStore
	users   *usersvc.Service
}

func NewGate(jwt security.Options, revoked *redisstore.RevocationStore, users *usersvc.Service) *Gate {
	safe.MustNotNil(revoked, "revocation store")
	safe.MustNotNil(users, "user service")
	return &Gate{jwt: jwt, revoked: revoked, users: users}
}

// Authenticate runs the full chain and returns the verified claims.
func (g *Gate) Authenticate(ctx context.Context, token string) (*security.Claims, error) {
	if token == "" {
		return nil, errs.ErrTokenInvalid.WithDetail("Token is required for WebSocket connection").Wrap()
	}
	claims, err := security.Verify(g.jwt, token)
	if err != nil {
		return nil, err
	}
	revoked, err := g.revoked.IsRevoked(ctx, security.HashToken(token))
	if err != nil {
		return nil, errs.ErrInternalServer.WithDetail("revocation lookup failed").Wrap()
	}
	if revoked {
		return nil, errs.ErrTokenRevoked.WithDetail("Token has been revoked").Wrap()
	}
	exists, err := g.users.Exists(ctx, claims.Subject)
	if err != nil {
		return nil, errs.ErrStore.WithDetail("user lookup failed").Wrap()
	}
	if !exists {
		return nil, errs.ErrUnknownUser.WithDetail("User not found").Wrap()
	}
	return claims, nil
}

// Authorize reports whether the claims carry every required permission.
// The admin role passes unconditionally.
func (g *Gate) Authorize(claims *security.Claims, required ...string) bool {
	if claims == nil {
		return false
	}
	if claims.Role == usermodel.RoleAdmin {
		return true
	}
	for _, want := range required {
		found := false
		for _, p := range claims.Permissions {
			if p == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Revalidate re-runs the auth chain against a live connection's token
// and confirms it still belongs to the connection's user.
func (g *Gate) Revalidate(ctx context.Context, userID, token string) error {
	claims, err := g.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	if claims.Subject != userID {
		return errs.ErrTokenSubject.WithDetail("Token subject does not match connection user").Wrap()
	}
	return nil
}
