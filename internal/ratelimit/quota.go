package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const day = 24 * time.Hour

// UploadQuota caps image uploads per user over a rolling day. The bucket
// starts full at limit and refills limit tokens every 24h.
type UploadQuota struct {
	bucket *TokenBucket
	limit  int
}

// NewUploadQuota returns nil when limit is not positive, which disables the quota.
func NewUploadQuota(client *redis.Client, limit int) *UploadQuota {
	if limit <= 0 || client == nil {
		return nil
	}
	return &UploadQuota{
		bucket: NewTokenBucket(client, limit, float64(limit)/day.Seconds(), 2*day),
		limit:  limit,
	}
}

// Allow consumes one upload for userID. A nil quota always allows.
func (q *UploadQuota) Allow(ctx context.Context, userID string) (bool, error) {
	if q == nil {
		return true, nil
	}
	allowed, _, err := q.bucket.Allow(ctx, "rl:upload:"+userID)
	return allowed, err
}

// Limit reports the configured daily cap.
func (q *UploadQuota) Limit() int {
	if q == nil {
		return 0
	}
	return q.limit
}
