package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Hub owns the connection and group registries and fans messages out to
// resolved audiences.
type Hub struct {
	conns     *ConnectionRegistry
	groups    *GroupRegistry
	selector  *TargetSelector
	scheduler *Scheduler
}

func NewHub(scheduler *Scheduler) *Hub {
	conns := NewConnectionRegistry()
	groups := NewGroupRegistry(conns)
	return &Hub{
		conns:     conns,
		groups:    groups,
		selector:  NewTargetSelector(conns, groups),
		scheduler: scheduler,
	}
}

func (h *Hub) Connections() *ConnectionRegistry { return h.conns }
func (h *Hub) Groups() *GroupRegistry           { return h.groups }
func (h *Hub) Scheduler() *Scheduler            { return h.scheduler }

// Send serialises env once and delivers it to t.
func (h *Hub) Send(ctx context.Context, t Target, env Envelope, p Policy) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %q: %w", env.Action, err)
	}
	return h.SendRaw(ctx, t, msg, p)
}

// SendRaw delivers a pre-encoded frame. Single-client targets are written
// inline and ignore p.
func (h *Hub) SendRaw(ctx context.Context, t Target, msg []byte, p Policy) error {
	aud := h.selector.Resolve(t)
	if aud.Direct {
		if len(aud.Conns) == 0 {
			zap.L().Debug("hub.client_offline", zap.String("identity", string(t.Identity)))
			return nil
		}
		return aud.Conns[0].Send(ctx, msg)
	}
	return h.scheduler.Send(ctx, aud.ChannelKey, aud.Conns, msg, p)
}

// Reply writes env straight to c, bypassing registries and scheduler.
func Reply(ctx context.Context, c Connection, env Envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %q: %w", env.Action, err)
	}
	return c.Send(ctx, msg)
}

// Detach removes c from the registries. Group membership is only dropped
// when c still owned its identity, so an evicted session leaves the
// replacement session's groups alone.
func (h *Hub) Detach(c Connection) (Identity, bool) {
	id, ok := h.conns.RemoveByConnection(c)
	if !ok {
		return "", false
	}
	if _, stillBound := h.conns.GetByIdentity(id); !stillBound {
		h.groups.RemoveFromAllGroups(id)
	}
	return id, true
}

func (h *Hub) Close() { h.scheduler.Close() }
