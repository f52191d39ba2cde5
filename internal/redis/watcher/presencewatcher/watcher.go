package presencewatcher

import (
	"context"

	"gameserver/internal/presence"
	"gameserver/internal/ws"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type expirer interface {
	Expired(ctx context.Context, id ws.Identity) (bool, error)
}

// Run listens to key-expiry events and clears identities whose presence
// key timed out (crashed process, lost refresh) from the online set.
// Run must be started once at service boot.
func Run(ctx context.Context, rdb *redis.Client, tracker *presence.Tracker) {
	_ = rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
	ps := rdb.PSubscribe(ctx, "__keyevent@*__:expired")
	defer ps.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ps.Channel():
			if !ok {
				return
			}
			handle(ctx, tracker, m.Payload)
		}
	}
}

func handle(ctx context.Context, tracker expirer, key string) {
	id, ok := presence.IdentityFromKey(key)
	if !ok {
		return
	}
	changed, err := tracker.Expired(ctx, id)
	if err != nil {
		zap.L().Warn("presencewatcher.expire", zap.String("identity", string(id)), zap.Error(err))
		return
	}
	if changed {
		zap.L().Info("presencewatcher.expired", zap.String("identity", string(id)))
	}
}
