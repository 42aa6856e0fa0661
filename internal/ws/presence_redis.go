package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/astroveda/go-consult-backend/internal/domain"
)

// presenceTTL bounds how long a presence key survives without refresh, so a
// crashed instance cannot leave users online forever.
const presenceTTL = 5 * time.Minute

// RedisPresence is a PresenceRegistry backed by Redis, for deployments
// running more than one hub instance. Keys carry a TTL that the owning hub
// refreshes while the socket stays connected.
type RedisPresence struct {
	rdb *redis.Client
}

// NewRedisPresence constructs a RedisPresence over an existing client.
func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

// Set marks a user online. The stored value is the role, which keeps the key
// self-describing for operational inspection.
func (p *RedisPresence) Set(ctx context.Context, userID string, userType domain.UserType) error {
	return p.rdb.Set(ctx, presenceKey(userID), string(userType), presenceTTL).Err()
}

// Refresh extends the TTL of an online user's key.
func (p *RedisPresence) Refresh(ctx context.Context, userID string) error {
	return p.rdb.Expire(ctx, presenceKey(userID), presenceTTL).Err()
}

// Remove marks a user offline.
func (p *RedisPresence) Remove(ctx context.Context, userID string) error {
	return p.rdb.Del(ctx, presenceKey(userID)).Err()
}

// IsOnline reports whether the user's presence key exists.
func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
