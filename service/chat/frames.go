package chat

import (
	"time"

	msgmodel "PChat/module/message/model"
	usermodel "PChat/module/user/model"
	"PChat/tools/security"
)

// ---- outbound payload constructors ----
//
// Field names and value strings here are client contract; change them and
// deployed clients break.

const authMethod = "verify_token"

func isoNow() string { return time.Now().UTC().Format(time.RFC3339) }

func iso(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func permsOf(claims *security.Claims) []string {
	if claims == nil || claims.Permissions == nil {
		return []string{}
	}
	return claims.Permissions
}

func roleOf(claims *security.Claims) string {
	if claims == nil || claims.Role == "" {
		return usermodel.RoleUser
	}
	return claims.Role
}

func expiresOf(claims *security.Claims) any {
	if claims == nil || claims.ExpiresAt.IsZero() {
		return nil
	}
	return claims.ExpiresAt.Unix()
}

func BuildConnectionAck(userID, sessionID string, claims *security.Claims) map[string]any {
	return map[string]any{
		"message":       "Connected successfully with token-based authentication",
		"user_id":       userID,
		"authenticated": true,
		"auth_method":   authMethod,
		"permissions":   permsOf(claims),
		"role":          roleOf(claims),
		"timestamp":     isoNow(),
		"server_time":   isoNow(),
		"token_expires": expiresOf(claims),
		"session_id":    sessionID,
	}
}

func BuildLoginSuccess(u *usermodel.User, claims *security.Claims, sessionID, deviceID string) map[string]any {
	var device any
	if deviceID != "" {
		device = deviceID
	}
	return map[string]any{
		"message":           "Login successful",
		"user_id":           u.ID.Hex(),
		"username":          u.Username,
		"status":            "online",
		"authenticated":     true,
		"auth_method":       authMethod,
		"permissions":       permsOf(claims),
		"role":              roleOf(claims),
		"last_login":        isoNow(),
		"session_id":        sessionID,
		"device_id":         device,
		"token_expires":     expiresOf(claims),
		"connection_method": "token_based",
	}
}

// BuildMessagePayload is the receive_message body recipients get.
func BuildMessagePayload(m *msgmodel.Message) map[string]any {
	out := map[string]any{
		"message_id":   m.ID.Hex(),
		"chat_id":      m.ChatID,
		"sender_id":    m.SenderID,
		"content":      m.Content,
		"message_type": m.MessageType,
		"timestamp":    iso(m.Timestamp),
	}
	if m.MediaURL != "" {
		out["media_url"] = m.MediaURL
	}
	if m.Caption != "" {
		out["caption"] = m.Caption
	}
	if m.FileName != "" {
		out["file_name"] = m.FileName
		out["file_size"] = m.FileSize
	}
	return out
}

// BuildMessageSent acks the sender. Status reflects what actually
// happened so far; delivery updates follow per recipient.
func BuildMessageSent(m *msgmodel.Message, payload map[string]any) map[string]any {
	return map[string]any{
		"id":                   m.ID.Hex(),
		"chat_id":              m.ChatID,
		"status":               m.Status,
		"timestamp":            iso(m.Timestamp),
		"message_data":         payload,
		"authenticated_sender": true,
		"auth_method":          authMethod,
	}
}

func BuildStatusUpdate(messageID, receiverID, status string, deliveredAt time.Time) map[string]any {
	return map[string]any{
		"id":           messageID,
		"receiver_id":  receiverID,
		"status":       status,
		"delivered_at": iso(deliveredAt),
	}
}

// BuildOfflineStatus tells the sender a recipient was not reachable live.
func BuildOfflineStatus(messageID, receiverID string) map[string]any {
	return map[string]any{
		"id":          messageID,
		"receiver_id": receiverID,
		"status":      msgmodel.StatusSent,
		"reason":      "user_offline",
	}
}

// BuildMessageRead is the read receipt the sender gets; exactly one of
// manual_read/auto_read is present.
func BuildMessageRead(messageID, chatID, readerID string, readAt time.Time, manual bool) map[string]any {
	out := map[string]any{
		"id":        messageID,
		"chat_id":   chatID,
		"reader_id": readerID,
		"read_at":   iso(readAt),
	}
	if manual {
		out["manual_read"] = true
	} else {
		out["auto_read"] = true
	}
	return out
}

func BuildReadConfirmed(messageID, chatID string, readAt time.Time) map[string]any {
	return map[string]any{
		"id":      messageID,
		"chat_id": chatID,
		"status":  msgmodel.StatusRead,
		"read_at": iso(readAt),
	}
}

func BuildChatJoined(chatID, userID string) map[string]any {
	return map[string]any{
		"message":       "Joined chat " + chatID,
		"chat_id":       chatID,
		"user_id":       userID,
		"role":          "member",
		"joined_at":     isoNow(),
		"authenticated": true,
		"auth_method":   authMethod,
	}
}

func BuildUserJoinedChat(chatID, userID string) map[string]any {
	return map[string]any{
		"chat_id":   chatID,
		"user_id":   userID,
		"role":      "member",
		"timestamp": isoNow(),
	}
}

func BuildChatLeft(chatID, userID string) map[string]any {
	return map[string]any{
		"message":   "Left chat " + chatID,
		"chat_id":   chatID,
		"user_id":   userID,
		"status":    "left",
		"timestamp": isoNow(),
	}
}

func BuildUserLeftChat(chatID, userID string) map[string]any {
	return map[string]any{
		"chat_id":   chatID,
		"user_id":   userID,
		"reason":    "user_left",
		"timestamp": isoNow(),
	}
}

func BuildUserTyping(chatID, userID, username string) map[string]any {
	return map[string]any{
		"chat_id":  chatID,
		"user_id":  userID,
		"username": username,
	}
}

func BuildTypingStopped(chatID, userID string) map[string]any {
	return map[string]any{
		"chat_id":   chatID,
		"user_id":   userID,
		"timestamp": isoNow(),
	}
}

func BuildUserStatus(userID string, online bool) map[string]any {
	return map[string]any{
		"user_id":   userID,
		"online":    online,
		"timestamp": isoNow(),
	}
}

func BuildUserStatusUpdate(u *usermodel.User, isOnline bool) map[string]any {
	var lastSeen any
	if u.LastSeen != nil {
		lastSeen = iso(*u.LastSeen)
	}
	return map[string]any{
		"user_id":   u.ID.Hex(),
		"username":  u.Username,
		"is_online": isOnline,
		"last_seen": lastSeen,
	}
}

// BuildAdminBroadcast carries an operator-pushed payload. The id is
// minted locally: admin frames never touch the message store.
func BuildAdminBroadcast(id, chatID, sender string, message map[string]any) map[string]any {
	return map[string]any{
		"id":            id,
		"chat_id":       chatID,
		"message":       message,
		"timestamp":     isoNow(),
		"type":          "admin",
		"authenticated": true,
		"auth_method":   authMethod,
		"sender":        sender,
	}
}

// BuildError is the generic ERROR body. code may be empty; received is
// echoed back only for frames rejected before parsing.
func BuildError(message, code, received string) map[string]any {
	out := map[string]any{"message": message}
	if code != "" {
		out["code"] = code
	}
	if received != "" {
		out["data"] = map[string]any{"received": received}
	}
	return out
}
