package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Delivery status. Transitions only move forward: sent -> delivered -> read.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Message type
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVideo = "video"
	TypeAudio = "audio"
	TypeFile  = "file"
)

// ReadReceipt records one recipient having read the message.
type ReadReceipt struct {
	UserID string    `bson:"user_id" json:"user_id"`
	ReadAt time.Time `bson:"read_at" json:"read_at"`
}

// Message is a chat message document. Status is the aggregate delivery
// state; read_by holds the per-recipient receipts behind it.
type Message struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SenderID    string             `bson:"sender_id" json:"sender_id"`
	ChatID      string             `bson:"chat_id" json:"chat_id"`
	Content     string             `bson:"content,omitempty" json:"content"`
	MediaURL    string             `bson:"media_url,omitempty" json:"media_url,omitempty"`
	MessageType string             `bson:"message_type" json:"message_type"`
	Caption     string             `bson:"caption,omitempty" json:"caption,omitempty"`
	FileSize    int64              `bson:"file_size,omitempty" json:"file_size,omitempty"`
	FileName    string             `bson:"file_name,omitempty" json:"file_name,omitempty"`
	Timestamp   time.Time          `bson:"timestamp" json:"timestamp"`
	Status      string             `bson:"status" json:"status"`
	IsDeleted   bool               `bson:"is_deleted" json:"-"`
	DeletedAt   *time.Time         `bson:"deleted_at,omitempty" json:"-"`
	ReadAt      *time.Time         `bson:"read_at,omitempty" json:"read_at,omitempty"`
	ReadBy      []ReadReceipt      `bson:"read_by,omitempty" json:"read_by,omitempty"`
}

func (Message) GetTableName() string {
	return "messages"
}

// StatusRank orders delivery states so updates never move backwards.
func StatusRank(status string) int {
	switch status {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}
