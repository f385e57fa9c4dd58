// Package presence publishes which calls are live to Redis so that other
// instances and operational tooling can see them. Keys expire on their own if
// an instance dies without cleaning up.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "voicebridge:call:"

// DefaultTTL bounds how long a call key outlives a crashed instance.
const DefaultTTL = 5 * time.Minute

// Tracker records live calls in Redis. Implements engine.Presence.
type Tracker struct {
	client   *redis.Client
	instance string
	ttl      time.Duration
}

// New builds a tracker. instance identifies this process in the key value so
// operators can tell which host owns a call. A zero ttl means DefaultTTL.
func New(client *redis.Client, instance string, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{client: client, instance: instance, ttl: ttl}
}

// Mark records a call as live on this instance.
func (t *Tracker) Mark(ctx context.Context, callID string) error {
	if err := t.client.Set(ctx, keyPrefix+callID, t.instance, t.ttl).Err(); err != nil {
		return fmt.Errorf("marking call %s live: %w", callID, err)
	}
	return nil
}

// Clear removes a call's live marker.
func (t *Tracker) Clear(ctx context.Context, callID string) error {
	if err := t.client.Del(ctx, keyPrefix+callID).Err(); err != nil {
		return fmt.Errorf("clearing call %s: %w", callID, err)
	}
	return nil
}

// Refresh extends the TTL of a live call, for long calls that outlast
// DefaultTTL.
func (t *Tracker) Refresh(ctx context.Context, callID string) error {
	ok, err := t.client.Expire(ctx, keyPrefix+callID, t.ttl).Result()
	if err != nil {
		return fmt.Errorf("refreshing call %s: %w", callID, err)
	}
	if !ok {
		return fmt.Errorf("call %s is not marked live", callID)
	}
	return nil
}

// Live lists the call ids currently marked live across all instances.
func (t *Tracker) Live(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		calls  []string
	)
	for {
		keys, next, err := t.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning live calls: %w", err)
		}
		for _, key := range keys {
			calls = append(calls, key[len(keyPrefix):])
		}
		if next == 0 {
			return calls, nil
		}
		cursor = next
	}
}
