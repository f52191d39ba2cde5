package presencesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"gameserver/internal/ws"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct{ id string }

func (s stubConn) ID() string                         { return s.id }
func (s stubConn) IsOpen() bool                       { return true }
func (s stubConn) Send(context.Context, []byte) error { return nil }
func (s stubConn) Close(int, string) error            { return nil }

type recordingOnliner struct {
	seen map[ws.Identity]string
}

func (r *recordingOnliner) Online(_ context.Context, id ws.Identity, connID string) error {
	r.seen[id] = connID
	return nil
}

func TestSyncOnceExtendsAndReseats(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.MatchExpectationsInOrder(false)

	conns := ws.NewConnectionRegistry()
	conns.Put("u-1", stubConn{id: "c-1"})
	conns.Put("u-2", stubConn{id: "c-2"})

	ttl := 90 * time.Second
	mock.ExpectPExpire("pres:u-1", ttl).SetVal(true)
	mock.ExpectPExpire("pres:u-2", ttl).SetVal(false)

	rec := &recordingOnliner{seen: map[ws.Identity]string{}}
	n := syncOnce(context.Background(), rdb, rec, conns, ttl)

	assert.Equal(t, 1, n)
	assert.Equal(t, map[ws.Identity]string{"u-2": "c-2"}, rec.seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncOnceNoIdentities(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	rec := &recordingOnliner{seen: map[ws.Identity]string{}}

	n := syncOnce(context.Background(), rdb, rec, ws.NewConnectionRegistry(), time.Minute)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncOncePipelineError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	conns := ws.NewConnectionRegistry()
	conns.Put("u-1", stubConn{id: "c-1"})

	mock.ExpectPExpire("pres:u-1", time.Minute).SetErr(errors.New("LOADING"))

	rec := &recordingOnliner{seen: map[ws.Identity]string{}}
	require.Zero(t, syncOnce(context.Background(), rdb, rec, conns, time.Minute))
	assert.Empty(t, rec.seen)
}
