package utils

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedTokenPrefix = "jwt:blacklist:"

// TokenRevocations reads the revocation list the identity service writes on
// logout. A nil client or a Redis error means "not revoked".
type TokenRevocations struct {
	rc *redis.Client
}

// NewTokenRevocations wraps rc, which may be nil.
func NewTokenRevocations(rc *redis.Client) *TokenRevocations {
	return &TokenRevocations{rc: rc}
}

// IsRevoked checks if a token was revoked before natural expiration.
func (r *TokenRevocations) IsRevoked(ctx context.Context, token string) bool {
	if r == nil || r.rc == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n, err := r.rc.Exists(ctx, revokedTokenPrefix+token).Result()
	if err != nil {
		L().Debugw("revocation lookup failed", "error", err)
		return false
	}
	return n > 0
}
