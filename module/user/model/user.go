package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the account document stored in the users collection.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string             `bson:"username" json:"username"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	AvatarURL    string             `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	Role         string             `bson:"role" json:"role"`
	Permissions  []string           `bson:"permissions,omitempty" json:"permissions,omitempty"`
	IsOnline     bool               `bson:"is_online" json:"is_online"`
	LastSeen     *time.Time         `bson:"last_seen,omitempty" json:"last_seen,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}

func (User) GetTableName() string {
	return "users"
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasPermission reports whether the user carries the named permission.
// Admins pass every check.
func (u *User) HasPermission(perm string) bool {
	if u.IsAdmin() {
		return true
	}
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
