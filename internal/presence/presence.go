// Package presence mirrors which identities hold a live session into Redis
// so other tools can see who is online without asking the server.
package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gameserver/internal/redis/redis_functions"
	"gameserver/internal/ws"

	"github.com/redis/go-redis/v9"
)

const (
	KeyPrefix   = "pres:"
	OnlineSet   = "pres:online"
	EventStream = "presence_events"
)

func Key(id ws.Identity) string { return KeyPrefix + string(id) }

// IdentityFromKey is the inverse of Key. The online set shares the prefix
// and is never an identity key.
func IdentityFromKey(key string) (ws.Identity, bool) {
	if key == OnlineSet || !strings.HasPrefix(key, KeyPrefix) {
		return "", false
	}
	return ws.Identity(strings.TrimPrefix(key, KeyPrefix)), true
}

// Tracker implements ws.Presence on top of the presence Lua library.
type Tracker struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

func NewTracker(rdb redis.Cmdable, ttl time.Duration) *Tracker {
	return &Tracker{rdb: rdb, ttl: ttl, now: time.Now}
}

func (t *Tracker) TTL() time.Duration { return t.ttl }

func (t *Tracker) keys(id ws.Identity) []string {
	return []string{Key(id), OnlineSet, EventStream}
}

func (t *Tracker) Online(ctx context.Context, id ws.Identity, connID string) error {
	err := t.rdb.FCall(ctx, redis_functions.PresenceOnline, t.keys(id),
		string(id), connID, t.ttl.Milliseconds(), t.now().UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("presence online %s: %w", id, err)
	}
	return nil
}

// Offline is a no-op when pres:<id> names another connection, which is the
// case for a session that was evicted by a newer login.
func (t *Tracker) Offline(ctx context.Context, id ws.Identity, connID string) error {
	err := t.rdb.FCall(ctx, redis_functions.PresenceOffline, t.keys(id),
		string(id), connID, t.ttl.Milliseconds(), t.now().UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("presence offline %s: %w", id, err)
	}
	return nil
}

// Expired drops id from the online set after its key timed out. It reports
// whether anything changed.
func (t *Tracker) Expired(ctx context.Context, id ws.Identity) (bool, error) {
	n, err := t.rdb.FCall(ctx, redis_functions.PresenceExpired, t.keys(id),
		string(id), "", t.ttl.Milliseconds(), t.now().UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("presence expired %s: %w", id, err)
	}
	return n == 1, nil
}

func (t *Tracker) OnlineCount(ctx context.Context) (int64, error) {
	return t.rdb.SCard(ctx, OnlineSet).Result()
}

func (t *Tracker) IsOnline(ctx context.Context, id ws.Identity) (bool, error) {
	return t.rdb.SIsMember(ctx, OnlineSet, string(id)).Result()
}
