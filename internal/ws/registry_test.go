package ws

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertConsistent(t *testing.T, r *ConnectionRegistry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	require.Equal(t, len(r.forward), len(r.reverse))
	for id, c := range r.forward {
		require.Equal(t, id, r.reverse[c], "reverse entry for %s", id)
	}
	for c, id := range r.reverse {
		require.Equal(t, c, r.forward[id], "forward entry for %s", id)
	}
}

func TestRegistry_PutAndLookup(t *testing.T) {
	r := NewConnectionRegistry()
	c := newFakeConn()

	r.Put("alice", c)

	got, ok := r.GetByIdentity("alice")
	require.True(t, ok)
	assert.Equal(t, Connection(c), got)

	id, ok := r.GetIdentityByConnection(c)
	require.True(t, ok)
	assert.Equal(t, Identity("alice"), id)
	assert.Equal(t, 1, r.Count())
	assertConsistent(t, r)
}

func TestRegistry_PutEvictsPreviousConnection(t *testing.T) {
	r := NewConnectionRegistry()
	a, b := newFakeConn(), newFakeConn()

	r.Put("alice", a)
	r.Put("alice", b)

	assert.False(t, a.IsOpen())
	assert.Equal(t, ReasonSupersededElsewhere, a.reason())
	assert.Equal(t, websocket.CloseNormalClosure, a.closeCode)
	assert.True(t, b.IsOpen())

	got, _ := r.GetByIdentity("alice")
	assert.Equal(t, Connection(b), got)
	_, ok := r.GetIdentityByConnection(a)
	assert.False(t, ok)
	assertConsistent(t, r)
}

func TestRegistry_PutSameConnectionTwice(t *testing.T) {
	r := NewConnectionRegistry()
	a := newFakeConn()

	r.Put("alice", a)
	r.Put("alice", a)

	assert.True(t, a.IsOpen())
	assert.Equal(t, 0, a.closeCalls)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_RebindConnectionToOtherIdentity(t *testing.T) {
	r := NewConnectionRegistry()
	a := newFakeConn()

	r.Put("alice", a)
	r.Put("bob", a)

	_, ok := r.GetByIdentity("alice")
	assert.False(t, ok)
	id, _ := r.GetIdentityByConnection(a)
	assert.Equal(t, Identity("bob"), id)
	assertConsistent(t, r)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewConnectionRegistry()
	a := newFakeConn()
	r.Put("alice", a)

	id, ok := r.RemoveByConnection(a)
	assert.True(t, ok)
	assert.Equal(t, Identity("alice"), id)

	_, ok = r.RemoveByConnection(a)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
	assertConsistent(t, r)
}

func TestRegistry_RemoveEvictedKeepsReplacement(t *testing.T) {
	r := NewConnectionRegistry()
	a, b := newFakeConn(), newFakeConn()
	r.Put("alice", a)
	r.Put("alice", b)

	_, ok := r.RemoveByConnection(a)
	assert.False(t, ok)

	got, ok := r.GetByIdentity("alice")
	require.True(t, ok)
	assert.Equal(t, Connection(b), got)
	assertConsistent(t, r)
}

func TestRegistry_PutIfAbsent(t *testing.T) {
	r := NewConnectionRegistry()
	a, b := newFakeConn(), newFakeConn()

	require.NoError(t, r.PutIfAbsent("alice", a))
	assert.ErrorIs(t, r.PutIfAbsent("alice", b), ErrIdentityConnected)
	assert.True(t, a.IsOpen())
	require.NoError(t, r.PutIfAbsent("alice", a))

	// a closing connection no longer blocks a new login
	_ = a.Close(websocket.CloseNormalClosure, ReasonClosed)
	require.NoError(t, r.PutIfAbsent("alice", b))
	got, _ := r.GetByIdentity("alice")
	assert.Equal(t, Connection(b), got)
	assertConsistent(t, r)
}

func TestRegistry_SnapshotsAreDetached(t *testing.T) {
	r := NewConnectionRegistry()
	r.Put("a", newFakeConn())
	r.Put("b", newFakeConn())

	snap := r.AllConnections()
	r.Put("c", newFakeConn())

	assert.Len(t, snap, 2)
	assert.Len(t, r.AllConnections(), 3)
	assert.ElementsMatch(t, []Identity{"a", "b", "c"}, r.Identities())
}

func TestRegistry_ConcurrentMutationStaysConsistent(t *testing.T) {
	r := NewConnectionRegistry()
	conns := make([]*fakeConn, 32)
	for i := range conns {
		conns[i] = newFakeConn()
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				c := conns[rnd.Intn(len(conns))]
				id := Identity(fmt.Sprintf("id-%d", rnd.Intn(8)))
				switch rnd.Intn(4) {
				case 0, 1:
					r.Put(id, c)
				case 2:
					r.RemoveByConnection(c)
				default:
					_ = r.AllConnections()
				}
			}
		}(int64(w))
	}
	wg.Wait()

	assertConsistent(t, r)
	assert.LessOrEqual(t, r.Count(), 8)
}
