package chat

import (
	"math"
	"net/http"

	"PChat/logger"
	midsec "PChat/middleware/security"
	"PChat/tools/errs"
	"PChat/tools/ginutil"
	"PChat/tools/ids"

	"github.com/gin-gonic/gin"
)

const connMethodToken = "token_based"

// WSStatus reports live socket counts for operators.
// GET /ws/status
func (s *Server) WSStatus(c *gin.Context) {
	total := s.reg.ConnCount()
	c.JSON(http.StatusOK, gin.H{
		"total_connections":         total,
		"online_users":              s.reg.OnlineUsers(),
		"active_chats":              s.reg.ChatCount(),
		"server_time":               isoNow(),
		"uptime_hours":              math.Round(s.Uptime().Hours()*100) / 100,
		"authenticated_connections": total,
		"auth_method":               authMethod,
		"connection_method":         "token_based_no_url_userid",
		"requester":                 midsec.UserID(c),
	})
}

// ChatParticipants lists who is currently joined to a chat room over a
// live socket. Registry membership, not the persisted participant list.
// GET /ws/chat/:chat_id/participants
func (s *Server) ChatParticipants(c *gin.Context) {
	chatID := c.Param("chat_id")
	members := s.reg.Members(chatID)
	c.JSON(http.StatusOK, gin.H{
		"chat_id":           chatID,
		"participants":      members,
		"participant_count": len(members),
		"last_updated":      isoNow(),
		"all_authenticated": true,
		"auth_method":       authMethod,
		"connection_method": connMethodToken,
		"requester":         midsec.UserID(c),
	})
}

// AdminBroadcast pushes an arbitrary payload into a chat room as an
// ADMIN_BROADCAST frame. Admin role or the admin_broadcast permission.
// POST /ws/broadcast/:chat_id
func (s *Server) AdminBroadcast(c *gin.Context) {
	claims, _ := midsec.Claims(c)
	if !s.gate.Authorize(claims, PermAdminBroadcast) {
		ginutil.Fail(c, errs.ErrPermission.WithDetail("Insufficient permissions for admin broadcast").Wrap())
		return
	}
	chatID := c.Param("chat_id")
	sender := midsec.UserID(c)

	var message map[string]any
	if err := c.ShouldBindJSON(&message); err != nil {
		ginutil.Fail(c, errs.ErrArgs.WithDetail("Request body must be a JSON object").Wrap())
		return
	}

	raw, err := Encode(EvtAdminBroadcast, BuildAdminBroadcast(ids.GenerateString(), chatID, sender, message))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": err.Error(), "chat_id": chatID})
		return
	}
	n := s.reg.BroadcastToChat(chatID, raw, "")
	logger.Infof("[ws] admin broadcast by %s to chat %s reached %d members", sender, chatID, n)
	c.JSON(http.StatusOK, gin.H{
		"status":            "success",
		"message":           "Broadcast sent",
		"chat_id":           chatID,
		"sender":            sender,
		"connection_method": connMethodToken,
	})
}
