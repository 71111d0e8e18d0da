package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Chat is a conversation document. Direct chats carry exactly two
// participants and is_group=false; group chats carry a display name.
type Chat struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name            string             `bson:"name" json:"name"`
	Participants    []string           `bson:"participants" json:"participants"`
	IsGroup         bool               `bson:"is_group" json:"is_group"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	LastMessageTime *time.Time         `bson:"last_message_time,omitempty" json:"last_message_time,omitempty"`
}

func (Chat) GetTableName() string {
	return "chats"
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
