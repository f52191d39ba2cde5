package presencesync

import (
	"context"
	"time"

	"gameserver/internal/presence"
	"gameserver/internal/ws"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const pipeTimeout = 1500 * time.Millisecond

type onliner interface {
	Online(ctx context.Context, id ws.Identity, connID string) error
}

// Run re-extends the presence TTL of every identity with a live connection
// once per interval, so presence keys only expire for sessions this process
// no longer serves.
func Run(ctx context.Context, rdc redis.Cmdable, tracker *presence.Tracker, conns *ws.ConnectionRegistry, interval time.Duration) {
	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				syncOnce(ctx, rdc, tracker, conns, tracker.TTL())
			}
		}
	}()
}

// syncOnce returns how many identities had to be re-seated because their
// key was already gone.
func syncOnce(ctx context.Context, rdc redis.Cmdable, tracker onliner, conns *ws.ConnectionRegistry, ttl time.Duration) int {
	ids := conns.Identities()
	if len(ids) == 0 {
		return 0
	}

	pctx, cancel := context.WithTimeout(ctx, pipeTimeout)
	defer cancel()

	// 1. extend every key in one pipelined round-trip
	pipe := rdc.Pipeline()
	cmds := make([]*redis.BoolCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.PExpire(pctx, presence.Key(id), ttl)
	}
	if _, err := pipe.Exec(pctx); err != nil {
		zap.L().Error("presencesync.pipeline", zap.Error(err))
		return 0
	}

	// 2. keys that expired in the meantime are written again
	reseated := 0
	for i, cmd := range cmds {
		if cmd.Val() {
			continue
		}
		c, ok := conns.GetByIdentity(ids[i])
		if !ok {
			continue // disconnected between snapshot and now
		}
		if err := tracker.Online(pctx, ids[i], c.ID()); err != nil {
			zap.L().Warn("presencesync.reseat", zap.String("identity", string(ids[i])), zap.Error(err))
			continue
		}
		reseated++
	}
	zap.L().Debug("presencesync.done", zap.Int("identities", len(ids)), zap.Int("reseated", reseated))
	return reseated
}
