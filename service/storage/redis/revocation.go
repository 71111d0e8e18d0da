package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RevocationStore blacklists token digests between logout and their natural
// expiry. Only the sha256 digest ever reaches Redis, never the raw token.
type RevocationStore struct {
	rdb *redis.Client
}

func NewRevocationStore(rdb *redis.Client) *RevocationStore {
	return &RevocationStore{rdb: rdb}
}

// revocation key: pchat:revoked:<token digest>
// Value is the reason; TTL matches the remaining token lifetime.
func revokedKey(tokenHash string) string { return "pchat:revoked:" + tokenHash }

// Revoke marks the digest revoked for ttl. A non-positive ttl means the
// token already expired on its own and there is nothing to store.
func (s *RevocationStore) Revoke(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, revokedKey(tokenHash), "logout", ttl).Err()
}

// IsRevoked reports whether the digest is on the blacklist.
func (s *RevocationStore) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	err := s.rdb.Get(ctx, revokedKey(tokenHash)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
