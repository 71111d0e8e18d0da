package chat

import (
	"testing"
	"time"

	msgmodel "PChat/module/message/model"
	usermodel "PChat/module/user/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestBuildErrorShapes(t *testing.T) {
	t.Run("domain rejection carries message only", func(t *testing.T) {
		data := BuildError("Cannot mark own message as read", "", "")
		if data["message"] != "Cannot mark own message as read" {
			t.Fatalf("message = %v", data["message"])
		}
		if _, ok := data["code"]; ok {
			t.Fatal("code must be omitted when empty")
		}
		if _, ok := data["data"]; ok {
			t.Fatal("data must be omitted without a received frame")
		}
	})

	t.Run("parse rejection names the received frame", func(t *testing.T) {
		data := BuildError("Invalid JSON format in message", CodeInvalidJSON, "garbageaabb")
		if data["code"] != CodeInvalidJSON {
			t.Fatalf("code = %v", data["code"])
		}
		nested, ok := data["data"].(map[string]any)
		if !ok || nested["received"] != "garbageaabb" {
			t.Fatalf("data = %v, want nested received echo", data["data"])
		}
	})
}

func TestBuildMessagePayloadMediaFields(t *testing.T) {
	m := &msgmodel.Message{
		ID:          primitive.NewObjectID(),
		SenderID:    "alice",
		ChatID:      "c1",
		Content:     "hi",
		MessageType: msgmodel.TypeText,
		Timestamp:   time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
		Status:      msgmodel.StatusSent,
	}

	data := BuildMessagePayload(m)
	if data["message_id"] != m.ID.Hex() || data["chat_id"] != "c1" || data["sender_id"] != "alice" {
		t.Fatalf("payload = %v", data)
	}
	if _, ok := data["media_url"]; ok {
		t.Fatal("text message must not carry media fields")
	}

	m.MessageType = msgmodel.TypeFile
	m.MediaURL = "https://cdn/x"
	m.FileName = "x.pdf"
	m.FileSize = 1024
	data = BuildMessagePayload(m)
	if data["media_url"] != "https://cdn/x" || data["file_name"] != "x.pdf" {
		t.Fatalf("media payload = %v", data)
	}
}

func TestBuildMessageReadFlags(t *testing.T) {
	at := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	manual := BuildMessageRead("m1", "c1", "bob", at, true)
	if manual["manual_read"] != true {
		t.Fatalf("manual payload = %v", manual)
	}
	if _, ok := manual["auto_read"]; ok {
		t.Fatal("manual read must not carry auto_read")
	}

	auto := BuildMessageRead("m1", "c1", "bob", at, false)
	if auto["auto_read"] != true {
		t.Fatalf("auto payload = %v", auto)
	}
	if _, ok := auto["manual_read"]; ok {
		t.Fatal("auto read must not carry manual_read")
	}
}

func TestBuildUserStatusUpdate(t *testing.T) {
	u := &usermodel.User{Username: "bob"}
	u.ID = primitive.NewObjectID()

	data := BuildUserStatusUpdate(u, true)
	if data["username"] != "bob" || data["is_online"] != true {
		t.Fatalf("payload = %v", data)
	}
	if data["last_seen"] != nil {
		t.Fatalf("last_seen = %v, want nil when never seen", data["last_seen"])
	}

	seen := time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC)
	u.LastSeen = &seen
	data = BuildUserStatusUpdate(u, false)
	if data["is_online"] != false || data["last_seen"] == nil {
		t.Fatalf("payload = %v", data)
	}
}
