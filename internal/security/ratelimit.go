package security

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/ghostpost/internal/pkg/logger"
	"github.com/ignite/ghostpost/internal/store"
)

// =============================================================================
// ANOMALY & RATE LIMITER
// =============================================================================
// Hourly send counters live in Redis under rate:<actor>:<YYYYMMDDHH> (UTC).
// The counter store is shared across processes, so the increment must be
// atomic; the TTL is set only on the first increment of a bucket.

const rateBucketTTL = 3600 * time.Second

// RateCheck is the result of a send-rate lookup.
type RateCheck struct {
	Allowed bool `json:"allowed"`
	Count   int  `json:"count"`
	Limit   int  `json:"limit"`
}

// Anomaly is one finding from CheckAnomalies.
type Anomaly struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// RateLimiter tracks per-actor hourly send counts and recipient novelty.
type RateLimiter struct {
	redis  *redis.Client
	store  *store.Store
	events *Events
}

// NewRateLimiter creates a rate limiter on the shared counter store.
func NewRateLimiter(rdb *redis.Client, st *store.Store, events *Events) *RateLimiter {
	return &RateLimiter{redis: rdb, store: st, events: events}
}

func rateKey(actor string, now time.Time) string {
	return fmt.Sprintf("rate:%s:%s", actor, now.UTC().Format("2006010215"))
}

// CheckSendRate reads the current hour's counter for the actor. A missing
// key counts as zero. The boundary count == limit is blocked.
func (r *RateLimiter) CheckSendRate(ctx context.Context, actor string, limit int) (RateCheck, error) {
	count, err := r.redis.Get(ctx, rateKey(actor, time.Now())).Int()
	if err == redis.Nil {
		count = 0
	} else if err != nil {
		return RateCheck{}, fmt.Errorf("rate check for %s: %w", actor, err)
	}
	return RateCheck{Allowed: count < limit, Count: count, Limit: limit}, nil
}

// IncrementSendRate atomically increments the actor's counter for the
// current hour and returns the new count. The bucket TTL is set only when
// the increment created the key.
func (r *RateLimiter) IncrementSendRate(ctx context.Context, actor string) (int64, error) {
	key := rateKey(actor, time.Now())
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("rate increment for %s: %w", actor, err)
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, rateBucketTTL).Err(); err != nil {
			logger.Warn("rate bucket TTL not set", "key", key, "error", err)
		}
	}
	return count, nil
}

// CheckNewRecipient reports whether the address has no contact row.
func (r *RateLimiter) CheckNewRecipient(ctx context.Context, address string) (bool, error) {
	contact, err := r.store.GetContactByEmail(ctx, address)
	if err != nil {
		return false, err
	}
	return contact == nil, nil
}

// CheckAnomalies composes the rate and new-recipient checks. A rate-limit
// violation records a high-severity security event; a new recipient alone
// is a medium anomaly with no event.
func (r *RateLimiter) CheckAnomalies(ctx context.Context, address, actor string, rateLimit int) ([]Anomaly, error) {
	var anomalies []Anomaly

	rate, err := r.CheckSendRate(ctx, actor, rateLimit)
	if err != nil {
		return nil, err
	}
	if !rate.Allowed {
		anomalies = append(anomalies, Anomaly{
			Type:     "rate_limit",
			Severity: store.SeverityHigh,
			Detail:   fmt.Sprintf("actor %s sent %d of %d this hour", actor, rate.Count, rate.Limit),
		})
		details, _ := json.Marshal(map[string]interface{}{
			"actor": actor,
			"count": rate.Count,
			"limit": rate.Limit,
		})
		r.events.LogSecurityEvent(ctx, SecurityEventInput{
			EventType: EventRateLimitExceeded,
			Severity:  store.SeverityHigh,
			Details:   details,
		})
	}

	isNew, err := r.CheckNewRecipient(ctx, address)
	if err != nil {
		return anomalies, err
	}
	if isNew {
		anomalies = append(anomalies, Anomaly{
			Type:     "new_recipient",
			Severity: store.SeverityMedium,
			Detail:   fmt.Sprintf("no prior contact with %s", address),
		})
	}

	return anomalies, nil
}
