package user

import (
	"net/http"
	"time"

	midsec "PChat/middleware/security"
	"PChat/module/user/model"
	"PChat/module/user/service"
	redisstore "PChat/service/storage/redis"
	"PChat/tools/errs"
	"PChat/tools/ginutil"
	jwtlib "PChat/tools/security"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	users   *service.Service
	revoked *redisstore.RevocationStore
	jwt     jwtlib.Options
}

func NewHandler(users *service.Service, revoked *redisstore.RevocationStore, jwt jwtlib.Options) *Handler {
	return &Handler{users: users, revoked: revoked, jwt: jwt}
}

type registerReq struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type userView struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	IsOnline  bool       `json:"is_online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

func viewOf(u *model.User) userView {
	return userView{
		ID:        u.ID.Hex(),
		Username:  u.Username,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		IsOnline:  u.IsOnline,
		LastSeen:  u.LastSeen,
	}
}

// authPayload is the register/login response body.
func (h *Handler) authPayload(u *model.User, message string) (gin.H, error) {
	token, _, err := jwtlib.Generate(h.jwt, u.ID.Hex(), u.Role, u.Permissions)
	if err != nil {
		return nil, err
	}
	return gin.H{
		"user": gin.H{
			"id":       u.ID.Hex(),
			"username": u.Username,
			"email":    u.Email,
			"token":    token,
		},
		"message": message,
	}, nil
}

// Register creates an account and hands back a signed token.
func (h *Handler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginutil.Fail(c, errs.ErrArgs.WithDetail("invalid request body").Wrap())
		return
	}
	u, err := h.users.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	body, err := h.authPayload(u, "User registered successfully")
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

// Login authenticates by email and password.
func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginutil.Fail(c, errs.ErrArgs.WithDetail("invalid request body").Wrap())
		return
	}
	u, err := h.users.AuthenticateByEmail(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	body, err := h.authPayload(u, "Login successful")
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

// Logout marks the caller offline and revokes the presented token for
// the remainder of its lifetime.
func (h *Handler) Logout(c *gin.Context) {
	userID := midsec.UserID(c)
	if err := h.users.SetOnline(c.Request.Context(), userID, false); err != nil {
		ginutil.Fail(c, err)
		return
	}
	if h.revoked != nil {
		if claims, ok := midsec.Claims(c); ok {
			ttl := time.Until(claims.ExpiresAt)
			if err := h.revoked.Revoke(c.Request.Context(), jwtlib.HashToken(midsec.Token(c)), ttl); err != nil {
				ginutil.Fail(c, err)
				return
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

// GetByID returns one user's public profile.
func (h *Handler) GetByID(c *gin.Context) {
	u, err := h.users.GetByID(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(u))
}

// List returns every user except the caller.
func (h *Handler) List(c *gin.Context) {
	users, err := h.users.List(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, viewOf(u))
	}
	c.JSON(http.StatusOK, gin.H{"users": views})
}
