package message

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	midsec "PChat/middleware/security"
	"PChat/module/message/service"
	"PChat/tools/errs"
	"PChat/tools/ginutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	msgs *service.Service
}

func NewHandler(msgs *service.Service) *Handler {
	return &Handler{msgs: msgs}
}

type sendReq struct {
	ChatID      string    `json:"chat_id" binding:"required"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	MediaURL    string    `json:"media_url"`
	Caption     string    `json:"caption"`
	FileSize    int64     `json:"file_size"`
	FileName    string    `json:"file_name"`
	Timestamp   time.Time `json:"timestamp"`
}

type bulkDeleteReq struct {
	MessageIDs []string `json:"message_ids" binding:"required"`
}

func queryInt(c *gin.Context, name string, def int64) int64 {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// Page returns one page of a chat's messages, newest first.
func (h *Handler) Page(c *gin.Context) {
	msgs, err := h.msgs.PageByChat(c.Request.Context(),
		c.Param("chat_id"), midsec.UserID(c),
		queryInt(c, "page", 1), queryInt(c, "limit", 50))
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Send stores a new message from the caller.
func (h *Handler) Send(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginutil.Fail(c, errs.ErrArgs.WithDetail("invalid request body").Wrap())
		return
	}
	msg, err := h.msgs.Create(c.Request.Context(), service.CreateParams{
		ChatID:      req.ChatID,
		SenderID:    midsec.UserID(c),
		Content:     req.Content,
		MessageType: req.MessageType,
		MediaURL:    req.MediaURL,
		Caption:     req.Caption,
		FileSize:    req.FileSize,
		FileName:    req.FileName,
		Timestamp:   req.Timestamp,
	})
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// Get returns a single message by id.
func (h *Handler) Get(c *gin.Context) {
	msg, err := h.msgs.GetByID(c.Request.Context(), c.Param("message_id"))
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// MarkRead lets a recipient confirm one message.
func (h *Handler) MarkRead(c *gin.Context) {
	_, err := h.msgs.MarkRead(c.Request.Context(), c.Param("message_id"), midsec.UserID(c))
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message marked as read"})
}

// MarkAllRead confirms every incoming message of a chat.
func (h *Handler) MarkAllRead(c *gin.Context) {
	count, err := h.msgs.MarkAllRead(c.Request.Context(), c.Param("chat_id"), midsec.UserID(c))
	if err != nil {
		ginutil.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Marked %d incoming messages as read", count)})
}

// SoftDelete hides one of the caller's messages.
func (h *Handler) SoftDelete(c *gin.Context) {
	if err := h.msgs.SoftDelete(c.Request.Context(), c.Param("message_id"), midsec.UserID(c)); err != nil {
		ginutil.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

// PermanentDelete removes one of the caller's messages for good.
func (h *Handler) PermanentDelete(c *gin.Context) {
	if err := h.msgs.PermanentDelete(c.Request.Context(), c.Param("message_id"), midsec.UserID(c)); err != nil {
		ginutil.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted permanently"})
}

// BulkSoftDelete hides a batch of the caller's messages.
func (h *Handler) BulkSoftDelete(c *gin.Context) {
	var req bulkDeleteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginutil.Fail(c, errs.ErrArgs.WithDetail("invalid request body").Wrap())
		return
	}
	res := h.msgs.BulkSoftDelete(c.Request.Context(), req.MessageIDs, midsec.UserID(c))
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Bulk delete completed: %d deleted, %d failed", res.TotalDeleted, res.TotalFailed),
		"results": res,
	})
}

// BulkPermanentDelete removes a batch of the caller's messages for good.
func (h *Handler) BulkPermanentDelete(c *gin.Context) {
	var req bulkDeleteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ginutil.Fail(c, errs.ErrArgs.WithDetail("invalid request body").Wrap())
		return
	}
	res := h.msgs.BulkPermanentDelete(c.Request.Context(), req.MessageIDs, midsec.UserID(c))
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Bulk delete permanent completed: %d deleted, %d failed", res.TotalDeleted, res.TotalFailed),
		"results": res,
	})
}
