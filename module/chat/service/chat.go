package service

import (
	"context"
	"errors"
	"time"

	chatmodel "PChat/module/chat/model"
	"PChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Service owns the chats collection.
type Service struct {
	coll *mongo.Collection
}

func NewService(db *mongo.Database) *Service {
	return &Service{coll: db.Collection(chatmodel.Chat{}.GetTableName())}
}

func (s *Service) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}},
	})
	if err != nil {
		return errs.WrapMsg(err, "create chat indexes")
	}
	return nil
}

// Create adds a chat. The creator is appended to the participant list
// when absent. Direct chats between the same pair are deduplicated: the
// existing chat comes back with created=false.
func (s *Service) Create(ctx context.Context, creatorID string, participants []string, isGroup bool, name string) (*chatmodel.Chat, bool, error) {
	if len(participants) == 0 {
		return nil, false, errs.ErrArgs.WithDetail("participants are required").Wrap()
	}
	members := make([]string, 0, len(participants)+1)
	members = append(members, participants...)
	hasCreator := false
	for _, p := range members {
		if p == creatorID {
			hasCreator = true
			break
		}
	}
	if !hasCreator {
		members = append(members, creatorID)
	}

	if !isGroup && len(members) == 2 {
		var existing chatmodel.Chat
		err := s.coll.FindOne(ctx, bson.M{
			"participants": bson.M{"$all": members},
			"is_group":     false,
		}).Decode(&existing)
		if err == nil {
			return &existing, false, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, errs.WrapMsg(err, "find existing direct chat")
		}
	}

	c := &chatmodel.Chat{
		ID:           primitive.NewObjectID(),
		Name:         name,
		Participants: members,
		IsGroup:      isGroup,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.coll.InsertOne(ctx, c); err != nil {
		return nil, false, errs.WrapMsg(err, "insert chat")
	}
	return c, true, nil
}

func (s *Service) GetByID(ctx context.Context, chatID string) (*chatmodel.Chat, error) {
	oid, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return nil, errs.ErrArgs.WithDetail("invalid chat id").Wrap()
	}
	var c chatmodel.Chat
	if err := s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrRecordNotFound.WithDetail("chat not found").Wrap()
		}
		return nil, errs.WrapMsg(err, "find chat", "chatID", chatID)
	}
	return &c, nil
}

// ListForUser returns every chat the user participates in, most recent
// message first. Chats that never saw a message sort last.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*chatmodel.Chat, error) {
	cur, err := s.coll.Find(ctx, bson.M{"participants": userID},
		options.Find().SetSort(bson.D{{Key: "last_message_time", Value: -1}}))
	if err != nil {
		return nil, errs.WrapMsg(err, "list chats", "userID", userID)
	}
	defer cur.Close(ctx)

	var chats []*chatmodel.Chat
	if err := cur.All(ctx, &chats); err != nil {
		return nil, errs.WrapMsg(err, "decode chats")
	}
	return chats, nil
}

// IsParticipant reports membership. Unknown chats and malformed ids
// report false rather than an error so callers stay fail-closed.
func (s *Service) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return false, nil
	}
	count, err := s.coll.CountDocuments(ctx, bson.M{"_id": oid, "participants": userID})
	if err != nil {
		return false, errs.WrapMsg(err, "count membership", "chatID", chatID, "userID", userID)
	}
	return count > 0, nil
}

// Participants returns the member list of a chat.
func (s *Service) Participants(ctx context.Context, chatID string) ([]string, error) {
	c, err := s.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return c.Participants, nil
}

// TouchLastMessage bumps the chat's last activity marker.
func (s *Service) TouchLastMessage(ctx context.Context, chatID string, ts time.Time) error {
	oid, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return errs.ErrArgs.WithDetail("invalid chat id").Wrap()
	}
	_, err = s.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"last_message_time": ts}})
	if err != nil {
		return errs.WrapMsg(err, "touch last message time", "chatID", chatID)
	}
	return nil
}
