package service

import (
	"context"
	"errors"
	"time"

	chatmodel "PChat/module/chat/model"
	msgmodel "PChat/module/message/model"
	"PChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// Service owns the messages collection plus the chats collection it
// touches for membership checks and last-activity bumps.
type Service struct {
	msgColl  *mongo.Collection
	chatColl *mongo.Collection
}

func NewService(db *mongo.Database) *Service {
	return &Service{
		msgColl:  db.Collection(msgmodel.Message{}.GetTableName()),
		chatColl: db.Collection(chatmodel.Chat{}.GetTableName()),
	}
}

func (s *Service) EnsureIndexes(ctx context.Context) error {
	_, err := s.msgColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "timestamp", Value: -1}, {Key: "is_deleted", Value: 1}}},
		{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "read_by.user_id", Value: 1}}},
	})
	if err != nil {
		return errs.WrapMsg(err, "create message indexes")
	}
	return nil
}

// CreateParams carries the writable fields of a new message.
type CreateParams struct {
	ChatID      string
	SenderID    string
	Content     string
	MediaURL    string
	MessageType string
	Caption     string
	FileSize    int64
	FileName    string
	Timestamp   time.Time
}

// requireMembership loads the chat and rejects senders outside it.
func (s *Service) requireMembership(ctx context.Context, chatID, userID string) error {
	oid, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return errs.ErrNotParticipant.WithDetail("chat not found or user not authorized").Wrap()
	}
	var c chatmodel.Chat
	if err := s.chatColl.FindOne(ctx, bson.M{"_id": oid}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return errs.ErrNotParticipant.WithDetail("chat not found or user not authorized").Wrap()
		}
		return errs.WrapMsg(err, "find chat", "chatID", chatID)
	}
	if !c.HasParticipant(userID) {
		return errs.ErrNotParticipant.WithDetail("chat not found or user not authorized").Wrap()
	}
	return nil
}

// Create inserts a message with status sent and bumps the chat's
// last_message_time.
func (s *Service) Create(ctx context.Context, in CreateParams) (*msgmodel.Message, error) {
	if err := s.requireMembership(ctx, in.ChatID, in.SenderID); err != nil {
		return nil, err
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	msgType := in.MessageType
	if msgType == "" {
		msgType = msgmodel.TypeText
	}

	m := &msgmodel.Message{
		ID:          primitive.NewObjectID(),
		SenderID:    in.SenderID,
		ChatID:      in.ChatID,
		Content:     in.Content,
		MediaURL:    in.MediaURL,
		MessageType: msgType,
		Caption:     in.Caption,
		FileSize:    in.FileSize,
		FileName:    in.FileName,
		Timestamp:   ts,
		Status:      msgmodel.StatusSent,
		IsDeleted:   false,
	}
	if _, err := s.msgColl.InsertOne(ctx, m); err != nil {
		return nil, errs.WrapMsg(err, "insert message", "chatID", in.ChatID)
	}

	chatOID, _ := primitive.ObjectIDFromHex(in.ChatID)
	if _, err := s.chatColl.UpdateOne(ctx, bson.M{"_id": chatOID},
		bson.M{"$set": bson.M{"last_message_time": ts}}); err != nil {
		return nil, errs.WrapMsg(err, "touch chat", "chatID", in.ChatID)
	}
	return m, nil
}

// PageByChat returns one page of a chat's visible messages, newest
// first. Page numbering starts at 1.
func (s *Service) PageByChat(ctx context.Context, chatID, userID string, page, limit int64) ([]*msgmodel.Message, error) {
	if err := s.requireMembership(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	cur, err := s.msgColl.Find(ctx,
		bson.M{"chat_id": chatID, "is_deleted": false},
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetSkip((page-1)*limit).
			SetLimit(limit))
	if err != nil {
		return nil, errs.WrapMsg(err, "page messages", "chatID", chatID)
	}
	defer cur.Close(ctx)

	var msgs []*msgmodel.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, errs.WrapMsg(err, "decode messages")
	}
	return msgs, nil
}

func (s *Service) GetByID(ctx context.Context, messageID string) (*msgmodel.Message, error) {
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return nil, errs.ErrArgs.WithDetail("invalid message id").Wrap()
	}
	var m msgmodel.Message
	if err := s.msgColl.FindOne(ctx, bson.M{"_id": oid}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrRecordNotFound.WithDetail("message not found").Wrap()
		}
		return nil, errs.WrapMsg(err, "find message", "messageID", messageID)
	}
	return &m, nil
}

// MarkRead records a read receipt for readerID and advances the status.
// Senders cannot read their own messages. Repeat reads are no-ops.
func (s *Service) MarkRead(ctx context.Context, messageID, readerID string) (*msgmodel.Message, error) {
	m, err := s.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID == readerID {
		return nil, errs.ErrSelfRead.WithDetail("sender cannot mark own message as read").Wrap()
	}

	now := time.Now().UTC()
	_, err = s.msgColl.UpdateOne(ctx,
		bson.M{"_id": m.ID, "read_by.user_id": bson.M{"$ne": readerID}},
		bson.M{
			"$set":  bson.M{"status": msgmodel.StatusRead, "read_at": now},
			"$push": bson.M{"read_by": msgmodel.ReadReceipt{UserID: readerID, ReadAt: now}},
		})
	if err != nil {
		return nil, errs.WrapMsg(err, "mark message read", "messageID", messageID)
	}
	return s.GetByID(ctx, messageID)
}

// MarkAllRead stamps a read receipt on every incoming message of the
// chat the reader has not seen yet. Returns the number touched.
func (s *Service) MarkAllRead(ctx context.Context, chatID, readerID string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.msgColl.UpdateMany(ctx,
		bson.M{
			"chat_id":         chatID,
			"sender_id":       bson.M{"$ne": readerID},
			"read_by.user_id": bson.M{"$ne": readerID},
		},
		bson.M{"$push": bson.M{"read_by": msgmodel.ReadReceipt{UserID: readerID, ReadAt: now}}})
	if err != nil {
		return 0, errs.WrapMsg(err, "mark all read", "chatID", chatID)
	}
	return res.ModifiedCount, nil
}

// UnreadCount counts the chat's visible incoming messages the user has
// not read.
func (s *Service) UnreadCount(ctx context.Context, chatID, userID string) (int64, error) {
	count, err := s.msgColl.CountDocuments(ctx, bson.M{
		"chat_id":         chatID,
		"sender_id":       bson.M{"$ne": userID},
		"is_deleted":      false,
		"read_by.user_id": bson.M{"$ne": userID},
	})
	if err != nil {
		return 0, errs.WrapMsg(err, "count unread", "chatID", chatID)
	}
	return count, nil
}

// LastMessage returns the newest visible message of the chat, or nil
// when the chat has none.
func (s *Service) LastMessage(ctx context.Context, chatID string) (*msgmodel.Message, error) {
	var m msgmodel.Message
	err := s.msgColl.FindOne(ctx,
		bson.M{"chat_id": chatID, "is_deleted": false},
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, errs.WrapMsg(err, "find last message", "chatID", chatID)
	}
	return &m, nil
}

// requireSender loads the message and rejects callers other than its
// sender.
func (s *Service) requireSender(ctx context.Context, messageID, userID string) (*msgmodel.Message, error) {
	m, err := s.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, errs.ErrPermission.WithDetail("only the message sender can delete the message").Wrap()
	}
	return m, nil
}

// SoftDelete hides a message. Sender only.
func (s *Service) SoftDelete(ctx context.Context, messageID, requesterID string) error {
	m, err := s.requireSender(ctx, messageID, requesterID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.msgColl.UpdateOne(ctx, bson.M{"_id": m.ID},
		bson.M{"$set": bson.M{"is_deleted": true, "deleted_at": now}})
	if err != nil {
		return errs.WrapMsg(err, "soft delete message", "messageID", messageID)
	}
	return nil
}

// PermanentDelete removes a message document. Sender only.
func (s *Service) PermanentDelete(ctx context.Context, messageID, requesterID string) error {
	m, err := s.requireSender(ctx, messageID, requesterID)
	if err != nil {
		return err
	}
	if _, err := s.msgColl.DeleteOne(ctx, bson.M{"_id": m.ID}); err != nil {
		return errs.WrapMsg(err, "delete message", "messageID", messageID)
	}
	return nil
}

// BulkFailure names one message a bulk delete could not remove.
type BulkFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult summarizes a bulk delete.
type BulkResult struct {
	Success      []string      `json:"success"`
	Failed       []BulkFailure `json:"failed"`
	TotalDeleted int           `json:"total_deleted"`
	TotalFailed  int           `json:"total_failed"`
}

func (r *BulkResult) ok(id string) {
	r.Success = append(r.Success, id)
	r.TotalDeleted++
}

func (r *BulkResult) fail(id, reason string) {
	r.Failed = append(r.Failed, BulkFailure{ID: id, Reason: reason})
	r.TotalFailed++
}

func bulkReason(err error) string {
	switch {
	case errs.ErrArgs.Is(err):
		return "invalid message id format"
	case errs.ErrRecordNotFound.Is(err):
		return "message not found"
	case errs.ErrPermission.Is(err):
		return "only the message sender can delete the message"
	default:
		return "unexpected error"
	}
}

// BulkSoftDelete hides each listed message the requester sent,
// collecting per-id outcomes instead of failing the batch.
func (s *Service) BulkSoftDelete(ctx context.Context, messageIDs []string, requesterID string) *BulkResult {
	res := &BulkResult{Success: []string{}, Failed: []BulkFailure{}}
	for _, id := range messageIDs {
		if err := s.SoftDelete(ctx, id, requesterID); err != nil {
			res.fail(id, bulkReason(err))
			continue
		}
		res.ok(id)
	}
	return res
}

// BulkPermanentDelete removes each listed message the requester sent,
// collecting per-id outcomes instead of failing the batch.
func (s *Service) BulkPermanentDelete(ctx context.Context, messageIDs []string, requesterID string) *BulkResult {
	res := &BulkResult{Success: []string{}, Failed: []BulkFailure{}}
	for _, id := range messageIDs {
		if err := s.PermanentDelete(ctx, id, requesterID); err != nil {
			res.fail(id, bulkReason(err))
			continue
		}
		res.ok(id)
	}
	return res
}

// UpdateStatus advances a message's delivery state. Updates that would
// move the status backwards are ignored.
func (s *Service) UpdateStatus(ctx context.Context, messageID, status string) error {
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return errs.ErrArgs.WithDetail("invalid message id").Wrap()
	}
	rank := msgmodel.StatusRank(status)
	if rank == 0 {
		return errs.ErrArgs.WithDetail("unknown message status").Wrap()
	}
	var lower []string
	for _, st := range []string{msgmodel.StatusSent, msgmodel.StatusDelivered, msgmodel.StatusRead} {
		if msgmodel.StatusRank(st) < rank {
			lower = append(lower, st)
		}
	}
	set := bson.M{"status": status}
	if status == msgmodel.StatusRead {
		set["read_at"] = time.Now().UTC()
	}
	_, err = s.msgColl.UpdateOne(ctx,
		bson.M{"_id": oid, "status": bson.M{"$in": lower}},
		bson.M{"$set": set})
	if err != nil {
		return errs.WrapMsg(err, "update message status", "messageID", messageID, "status", status)
	}
	return nil
}
