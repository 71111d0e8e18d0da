package chat

import (
	"context"
	"net/http"
	"time"

	"PChat/logger"
	midsec "PChat/middleware/security"
	chatmodel "PChat/module/chat/model"
	chatsvc "PChat/module/chat/service"
	msgmodel "PChat/module/message/model"
	msgsvc "PChat/module/message/service"
	usersvc "PChat/module/user/service"
	"PChat/tools/errs"
	"PChat/tools/ginutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	chats *chatsvc.Service
	msgs  *msgsvc.Service
	users *usersvc.Service
}

func NewHandler(chats *chatsvc.Service, msgs *msgsvc.Service, users *usersvc.Service) *Handler {
	return &Handler{chats: chats, msgs: msgs, users: users}
}

type createReq struct {
	Participants []string `json:"participants" binding:"required"`
	IsGroup      bool     `json:"is_group"`
	Name         string   `json:"name"`
}

type otherUserView struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type chatView struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Participants    []string          `json:"participants"`
	IsGroup         bool              `json:"is_group"`
	CreatedAt       time.Time         `json:"created_at"`
	UnreadCount     int64             `json:"unread_count"`
	OtherUser       *otherUserView    `json:"other_user"`
	LastMessage     *msgmodel.Message `json:"last_message"`
	LastMessageTime *time.Time        `json:"last_message_time"`
}

// buildView assembles the list entry for one chat: display name, the
// direct-chat peer, unread badge and newest message.
func (h *Handler) buildView(ctx context.Context, c *chatmodel.Chat, viewerID string) chatView {
	v := chatView{
		ID:           c.ID.Hex(),
		Name:         c.Name,
		Participants: c.Participants,
		IsGroup:      c.IsGroup,
		CreatedAt:    c.CreatedAt,
	}

	if !c.IsGroup {
		otherID := ""
		for _, p := range c.Participants {
			if p != viewerID {
				otherID = p
				break
			}
		}
		if otherID != "" {
			if other, err := h.users.GetByID(ctx, otherID); err == nil {
				v.OtherUser = &otherUserView{
					ID:        other.ID.Hex(),
					Username:  other.Username,
					Email:     other.Email,
					AvatarURL: other.AvatarURL,
				}
				v.Name = other.Username
			} else {
				logger.Warnf("[chat] peer lookup failed: chat=%s user=%s err=%v", v.ID, otherID, err)
				v.Name = "Unknown User"
			}
		}
	}
	if v.Name == "" {
		v.Name = "Unnamed Chat"
	}

	unread, err := h.msgs.UnreadCount(ctx, v.ID, viewerID)
	if err != nil {
		logger.Warnf("[chat] unread count failed: chat=%s err=%v", v.ID, err)
	}
	v.UnreadCount = unread

	last, err := h.msgs.LastMessage(ctx, v.ID)
	if err != nil {
		logger.Warnf("[chat] last message lookup failed: chat=%s err=%v", v.ID, err)
	}
	if last != nil {
		v.LastMessage = last
		v.LastMessageTime = &last.Timestamp
	}
	return v
}

// List returns the caller's chats, most recently active first.
func (h *Handler) List(c *gin.Context) {
	userID := midsec.UserID(c)
	chats, err := h.chats.ListForUser(c.Request.Context(), userID)
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	views := make([]chatView, 0, len(chats))
	for _, ch := range chats {
		views = append(views, h.buildView(c.Request.Context(), ch, userID))
	}
	c.JSON(http.StatusOK, gin.H{"chats": views})
}

// Create opens a chat, reusing the existing one for direct pairs.
func (h *Handler) Create(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginutil.Fail(c, errs.ErrArgs.WithDetail("invalid request body").Wrap())
		return
	}
	userID := midsec.UserID(c)
	ch, _, err := h.chats.Create(c.Request.Context(), userID, req.Participants, req.IsGroup, req.Name)
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": h.buildView(c.Request.Context(), ch, userID)})
}
