package service

import (
	"context"
	"errors"
	"time"

	usermodel "PChat/module/user/model"
	"PChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

const (
	usernameMinLen = 3
	usernameMaxLen = 30
	passwordMinLen = 6
)

// Service owns the users collection.
type Service struct {
	coll *mongo.Collection
}

func NewService(db *mongo.Database) *Service {
	return &Service{coll: db.Collection(usermodel.User{}.GetTableName())}
}

// EnsureIndexes builds the unique lookups registration depends on.
func (s *Service) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "create user indexes")
	}
	return nil
}

// Register validates and inserts a new account. The password is stored
// as a bcrypt hash only.
func (s *Service) Register(ctx context.Context, username, email, password string) (*usermodel.User, error) {
	if len(username) < usernameMinLen || len(username) > usernameMaxLen {
		return nil, errs.ErrArgs.WithDetail("username must be 3-30 characters").Wrap()
	}
	if email == "" {
		return nil, errs.ErrArgs.WithDetail("email is required").Wrap()
	}
	if len(password) < passwordMinLen {
		return nil, errs.ErrArgs.WithDetail("password must be at least 6 characters").Wrap()
	}

	count, err := s.coll.CountDocuments(ctx, bson.M{"$or": bson.A{
		bson.M{"email": email},
		bson.M{"username": username},
	}})
	if err != nil {
		return nil, errs.WrapMsg(err, "check existing user")
	}
	if count > 0 {
		return nil, errs.ErrDuplicateKey.WithDetail("username or email already registered").Wrap()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errs.WrapMsg(err, "hash password")
	}

	u := &usermodel.User{
		ID:           primitive.NewObjectID(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         usermodel.RoleUser,
		IsOnline:     false,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.coll.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errs.ErrDuplicateKey.WithDetail("username or email already registered").Wrap()
		}
		return nil, errs.WrapMsg(err, "insert user")
	}
	return u, nil
}

// AuthenticateByEmail checks the credential pair. The caller cannot tell
// a missing account from a wrong password.
func (s *Service) AuthenticateByEmail(ctx context.Context, email, password string) (*usermodel.User, error) {
	var u usermodel.User
	err := s.coll.FindOne(ctx, bson.M{"email": email}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrAuthFailed.WithDetail("incorrect email or password").Wrap()
		}
		return nil, errs.WrapMsg(err, "find user by email")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errs.ErrAuthFailed.WithDetail("incorrect email or password").Wrap()
	}
	return &u, nil
}

func (s *Service) GetByID(ctx context.Context, userID string) (*usermodel.User, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, errs.ErrArgs.WithDetail("invalid user id").Wrap()
	}
	var u usermodel.User
	if err := s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrRecordNotFound.WithDetail("user not found").Wrap()
		}
		return nil, errs.WrapMsg(err, "find user", "userID", userID)
	}
	return &u, nil
}

// Exists is the cheap form of GetByID used on the hot connect path.
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return false, nil
	}
	count, err := s.coll.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, errs.WrapMsg(err, "count user", "userID", userID)
	}
	return count > 0, nil
}

// List returns every account except excludeUserID, newest first.
func (s *Service) List(ctx context.Context, excludeUserID string) ([]*usermodel.User, error) {
	filter := bson.M{}
	if oid, err := primitive.ObjectIDFromHex(excludeUserID); err == nil {
		filter["_id"] = bson.M{"$ne": oid}
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, errs.WrapMsg(err, "list users")
	}
	defer cur.Close(ctx)

	var users []*usermodel.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, errs.WrapMsg(err, "decode users")
	}
	return users, nil
}

// SetOnline flips the presence flag. Going offline also stamps last_seen.
func (s *Service) SetOnline(ctx context.Context, userID string, online bool) error {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return errs.ErrArgs.WithDetail("invalid user id").Wrap()
	}
	set := bson.M{"is_online": online}
	if !online {
		set["last_seen"] = time.Now().UTC()
	}
	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set}); err != nil {
		return errs.WrapMsg(err, "update presence", "userID", userID)
	}
	return nil
}
