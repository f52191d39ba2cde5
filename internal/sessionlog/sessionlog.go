package sessionlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gameserver/internal/presence"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run tails the presence event stream and persists every event. Entries are
// keyed by stream id, so replaying the stream after a restart is harmless.
func Run(ctx context.Context, rdc *redis.Client, db *sql.DB) {
	go func() {
		lastID := "0-0"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			// block up to 2 s for new entries
			res, err := rdc.XRead(ctx, &redis.XReadArgs{
				Streams: []string{presence.EventStream, lastID},
				Count:   100,
				Block:   2000 * time.Millisecond,
			}).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				if ctx.Err() != nil {
					return
				}
				zap.L().Warn("sessionlog.xread", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			if len(res) == 0 || len(res[0].Messages) == 0 {
				continue
			}
			entries := res[0].Messages
			if err := persist(ctx, db, entries); err != nil {
				// keep lastID so the batch is retried
				zap.L().Error("sessionlog.persist", zap.Int("entries", len(entries)), zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			lastID = entries[len(entries)-1].ID
		}
	}()
}

type event struct {
	id     string
	userID string
	connID string
	kind   string
	at     time.Time
}

func parse(m redis.XMessage) (event, error) {
	field := func(k string) string {
		s, _ := m.Values[k].(string)
		return s
	}
	ev := event{id: m.ID, userID: field("id"), connID: field("conn"), kind: field("ev")}
	if ev.userID == "" || ev.kind == "" {
		return event{}, fmt.Errorf("entry %s: missing id or ev", m.ID)
	}
	ms, err := strconv.ParseInt(field("at"), 10, 64)
	if err != nil {
		return event{}, fmt.Errorf("entry %s: bad at: %w", m.ID, err)
	}
	ev.at = time.UnixMilli(ms).UTC()
	return ev, nil
}

func persist(ctx context.Context, db *sql.DB, msgs []redis.XMessage) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	const ins = `INSERT INTO session_log (event_id, user_id, conn_id, event, at)
	             VALUES ($1, $2, $3, $4, $5)
	             ON CONFLICT (event_id) DO NOTHING`
	for _, m := range msgs {
		ev, err := parse(m)
		if err != nil {
			zap.L().Warn("sessionlog.skip", zap.Error(err))
			continue
		}
		if _, err := tx.ExecContext(ctx, ins, ev.id, ev.userID, ev.connID, ev.kind, ev.at); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
