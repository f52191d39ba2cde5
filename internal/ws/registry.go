package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrIdentityConnected = errors.New("identity already has a live connection")

// ConnectionRegistry keeps identity -> connection and its inverse. Both maps
// are only ever mutated together under mu, so readers never see one without
// the other.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	forward map[Identity]Connection
	reverse map[Connection]Identity
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		forward: make(map[Identity]Connection),
		reverse: make(map[Connection]Identity),
	}
}

// Put binds id to c. A different connection previously bound to id is
// unmapped first and then closed with ReasonSupersededElsewhere.
func (r *ConnectionRegistry) Put(id Identity, c Connection) {
	r.mu.Lock()
	old := r.bindLocked(id, c)
	n := len(r.forward)
	r.mu.Unlock()

	if old != nil {
		zap.L().Info("registry.evict", zap.String("identity", string(id)), zap.String("conn", old.ID()))
		_ = old.Close(websocket.CloseNormalClosure, ReasonSupersededElsewhere)
	}
	zap.L().Debug("registry.put", zap.String("identity", string(id)), zap.String("conn", c.ID()), zap.Int("connections", n))
}

// PutIfAbsent binds id to c unless id already owns another open connection.
func (r *ConnectionRegistry) PutIfAbsent(id Identity, c Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.forward[id]; ok && cur != c && cur.IsOpen() {
		return ErrIdentityConnected
	}
	if old := r.bindLocked(id, c); old != nil {
		// only reachable for a connection that is already closing
		go old.Close(websocket.CloseNormalClosure, ReasonSupersededElsewhere)
	}
	return nil
}

// bindLocked returns the connection displaced from id, if any.
func (r *ConnectionRegistry) bindLocked(id Identity, c Connection) Connection {
	// c may already speak for another identity (re-login on the same socket)
	if prevID, ok := r.reverse[c]; ok && prevID != id {
		delete(r.forward, prevID)
	}

	var displaced Connection
	if old, ok := r.forward[id]; ok && old != c {
		delete(r.reverse, old)
		displaced = old
	}
	r.forward[id] = c
	r.reverse[c] = id
	return displaced
}

func (r *ConnectionRegistry) GetByIdentity(id Identity) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.forward[id]
	return c, ok
}

func (r *ConnectionRegistry) GetIdentityByConnection(c Connection) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.reverse[c]
	return id, ok
}

// RemoveByConnection unmaps c in both directions and reports the identity it
// owned. A connection that was already evicted or removed yields false.
func (r *ConnectionRegistry) RemoveByConnection(c Connection) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.reverse[c]
	if !ok {
		return "", false
	}
	delete(r.reverse, c)
	if r.forward[id] == c {
		delete(r.forward, id)
	}
	return id, true
}

// AllConnections returns a point-in-time snapshot.
func (r *ConnectionRegistry) AllConnections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connection, 0, len(r.forward))
	for _, c := range r.forward {
		conns = append(conns, c)
	}
	return conns
}

func (r *ConnectionRegistry) Identities() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]Identity, 0, len(r.forward))
	for id := range r.forward {
		ids = append(ids, id)
	}
	return ids
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.forward)
}
