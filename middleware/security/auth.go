package security

import (
	"strings"

	"PChat/global/config"
	redisstore "PChat/service/storage/redis"
	"PChat/tools/errs"
	"PChat/tools/ginutil"
	jwtlib "PChat/tools/security"

	"github.com/gin-gonic/gin"
)

// Context keys the handlers read after the middleware ran.
const (
	CtxTokenKey  = "authToken"
	CtxUserIDKey = "authUserID"
	CtxClaimsKey = "authClaims"
)

type Options struct {
	JWT     jwtlib.Options
	Revoked *redisstore.RevocationStore // nil skips the revocation check
}

func DefaultOptions() *Options {
	return &Options{
		JWT:     config.JWTOptions(),
		Revoked: redisstore.NewRevocationStore(redisstore.GetRedis()),
	}
}

// Middleware verifies the bearer token, rejects revoked ones and puts
// the caller's identity into the gin context.
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			ginutil.AbortFail(c, errs.ErrTokenInvalid.WithDetail("missing bearer token").Wrap())
			return
		}

		claims, err := jwtlib.Verify(opts.JWT, token)
		if err != nil {
			ginutil.AbortFail(c, err)
			return
		}

		if opts.Revoked != nil {
			revoked, err := opts.Revoked.IsRevoked(c.Request.Context(), jwtlib.HashToken(token))
			if err != nil {
				ginutil.AbortFail(c, errs.ErrInternalServer.WithDetail("revocation check failed").Wrap())
				return
			}
			if revoked {
				ginutil.AbortFail(c, errs.ErrTokenRevoked.WithDetail("token has been revoked").Wrap())
				return
			}
		}

		c.Set(CtxTokenKey, token)
		c.Set(CtxUserIDKey, claims.Subject)
		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

// extractToken pulls the credential out of the Authorization header,
// with or without the Bearer prefix.
func extractToken(c *gin.Context) string {
	authz := strings.TrimSpace(c.GetHeader("Authorization"))
	if authz == "" {
		return ""
	}
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return authz
}

// UserID returns the authenticated caller's id, empty when the
// middleware did not run.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}

// Token returns the raw bearer token of the request.
func Token(c *gin.Context) string {
	return c.GetString(CtxTokenKey)
}

// Claims returns the verified token claims when present.
func Claims(c *gin.Context) (*jwtlib.Claims, bool) {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwtlib.Claims)
	return claims, ok
}
