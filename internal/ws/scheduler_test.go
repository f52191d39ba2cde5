package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := NewScheduler(SchedulerConfig{RetryAttempts: 3, RetryBackoff: time.Millisecond})
	t.Cleanup(s.Close)
	return s
}

func TestScheduler_ImmediateDeliversToOpenConnections(t *testing.T) {
	s := newTestScheduler(t)
	a, b, closed := newFakeConn(), newFakeConn(), newFakeConn()
	_ = closed.Close(1000, "")

	err := s.Send(context.Background(), "all", []Connection{a, b, closed}, []byte("hi"), Immediate())
	require.NoError(t, err)

	assert.Equal(t, []string{"hi"}, a.messages())
	assert.Equal(t, []string{"hi"}, b.messages())
	assert.Equal(t, 0, closed.attemptCount())
}

func TestScheduler_SequentialPassThrough(t *testing.T) {
	s := newTestScheduler(t)
	a, b := newFakeConn(), newFakeConn()
	p := Policy{Interval: time.Second}

	require.NoError(t, s.Send(context.Background(), "others", []Connection{a, b}, []byte("m1"), p))
	require.NoError(t, s.Send(context.Background(), "others", []Connection{a, b}, []byte("m2"), p))

	assert.Equal(t, []string{"m1", "m2"}, a.messages())
	assert.Equal(t, []string{"m1", "m2"}, b.messages())
	assert.Equal(t, 0, s.ActiveChannels())
}

func TestScheduler_BatchConcatenatesInOrder(t *testing.T) {
	s := newTestScheduler(t)
	a, b := newFakeConn(), newFakeConn()
	aud := []Connection{a, b}
	p := Policy{Interval: 40 * time.Millisecond, BatchSize: 1 << 20}

	for _, m := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.Send(context.Background(), "raid1", aud, []byte(m), p))
	}
	assert.Empty(t, a.messages(), "nothing is sent before the timer fires")

	require.Eventually(t, func() bool { return len(a.messages()) == 1 && len(b.messages()) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1m2m3"}, a.messages())
	assert.Equal(t, []string{"m1m2m3"}, b.messages())
}

func TestScheduler_BatchSealsOnSize(t *testing.T) {
	s := newTestScheduler(t)
	a := newFakeConn()
	p := Policy{Interval: 30 * time.Millisecond, BatchSize: 4}

	for _, m := range []string{"ab", "cd", "ef"} {
		require.NoError(t, s.Send(context.Background(), "g", []Connection{a}, []byte(m), p))
	}

	require.Eventually(t, func() bool { return len(a.messages()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ab", "cd", "ef"}, a.messages())
}

func TestScheduler_LateJoinerSeesOnlyLaterMessages(t *testing.T) {
	s := newTestScheduler(t)
	a, late := newFakeConn(), newFakeConn()
	p := Policy{Interval: 30 * time.Millisecond, BatchSize: 1 << 20}

	require.NoError(t, s.Send(context.Background(), "g", []Connection{a}, []byte("m1"), p))
	require.NoError(t, s.Send(context.Background(), "g", []Connection{a, late}, []byte("m2"), p))

	require.Eventually(t, func() bool { return len(a.messages()) == 1 && len(late.messages()) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1m2"}, a.messages())
	assert.Equal(t, []string{"m2"}, late.messages())
}

func TestScheduler_RetryIsBounded(t *testing.T) {
	s := newTestScheduler(t)
	broken, healthy := newFakeConn(), newFakeConn()
	broken.failFirst = -1

	err := s.Send(context.Background(), "all", []Connection{broken, healthy}, []byte("x"), Immediate())
	require.NoError(t, err)

	assert.Equal(t, 3, broken.attemptCount())
	assert.Empty(t, broken.messages())
	assert.Equal(t, []string{"x"}, healthy.messages())
}

func TestScheduler_RetryRecoversFromTransientFailure(t *testing.T) {
	s := newTestScheduler(t)
	flaky := newFakeConn()
	flaky.failFirst = 2

	require.NoError(t, s.Send(context.Background(), "all", []Connection{flaky}, []byte("x"), Immediate()))
	assert.Equal(t, 3, flaky.attemptCount())
	assert.Equal(t, []string{"x"}, flaky.messages())
}

func TestScheduler_BatchRetryDoesNotBlockOthers(t *testing.T) {
	s := newTestScheduler(t)
	broken, healthy := newFakeConn(), newFakeConn()
	broken.failFirst = -1
	p := Policy{Interval: 20 * time.Millisecond, BatchSize: 1 << 20}

	require.NoError(t, s.Send(context.Background(), "g", []Connection{broken, healthy}, []byte("x"), p))

	require.Eventually(t, func() bool { return len(healthy.messages()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return broken.attemptCount() == 3 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_ChannelRetiresWhenDrained(t *testing.T) {
	s := newTestScheduler(t)
	a := newFakeConn()
	p := Policy{Interval: 10 * time.Millisecond, BatchSize: 1 << 20}

	require.NoError(t, s.Send(context.Background(), "g1", []Connection{a}, []byte("x"), p))
	require.NoError(t, s.Send(context.Background(), "g2", []Connection{a}, []byte("y"), p))
	assert.Equal(t, 2, s.ActiveChannels())

	require.Eventually(t, func() bool { return s.ActiveChannels() == 0 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"x", "y"}, a.messages())

	// a retired key comes back on demand
	require.NoError(t, s.Send(context.Background(), "g1", []Connection{a}, []byte("z"), p))
	require.Eventually(t, func() bool { return len(a.messages()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_CloseDropsPendingAndRejectsSends(t *testing.T) {
	s := NewScheduler(SchedulerConfig{RetryAttempts: 3, RetryBackoff: time.Millisecond})
	a := newFakeConn()
	p := Policy{Interval: time.Hour, BatchSize: 1 << 20}

	require.NoError(t, s.Send(context.Background(), "g", []Connection{a}, []byte("x"), p))
	s.Close()
	s.Close()

	assert.Equal(t, 0, s.ActiveChannels())
	assert.ErrorIs(t, s.Send(context.Background(), "g", []Connection{a}, []byte("y"), p), ErrSchedulerClosed)
	assert.Empty(t, a.messages())
}

func TestScheduler_AudienceIsCopied(t *testing.T) {
	s := newTestScheduler(t)
	a, b := newFakeConn(), newFakeConn()
	aud := []Connection{a}
	p := Policy{Interval: 20 * time.Millisecond, BatchSize: 1 << 20}

	require.NoError(t, s.Send(context.Background(), "g", aud, []byte("x"), p))
	aud[0] = b

	require.Eventually(t, func() bool { return len(a.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, b.messages())
}

func TestScheduler_OneFlushPerChannel(t *testing.T) {
	s := newTestScheduler(t)
	stuck := newGatedConn()
	other := newFakeConn()
	p := Policy{Interval: time.Hour, BatchSize: 2}

	// "cd" seals ["ab"], "ef" seals ["cd"]
	for _, m := range []string{"ab", "cd", "ef"} {
		require.NoError(t, s.Send(context.Background(), "g1", []Connection{stuck}, []byte(m), p))
	}

	select {
	case got := <-stuck.entered:
		assert.Equal(t, "ab", got)
	case <-time.After(time.Second):
		t.Fatal("first sealed batch was never flushed")
	}

	// another channel flushes while g1 is stuck
	for _, m := range []string{"xy", "zw"} {
		require.NoError(t, s.Send(context.Background(), "g2", []Connection{other}, []byte(m), p))
	}
	require.Eventually(t, func() bool { return len(other.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"xy"}, other.messages())

	select {
	case got := <-stuck.entered:
		t.Fatalf("second flush on g1 overlapped the first: %q", got)
	case <-time.After(50 * time.Millisecond):
	}

	close(stuck.gate)
	require.Eventually(t, func() bool { return len(stuck.messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ab", "cd"}, stuck.messages())
}

func TestScheduler_IntervalIsPartOfChannel(t *testing.T) {
	s := newTestScheduler(t)
	a := newFakeConn()
	slow := Policy{Interval: time.Hour, BatchSize: 1 << 20}
	fast := Policy{Interval: 10 * time.Millisecond, BatchSize: 1 << 20}

	require.NoError(t, s.Send(context.Background(), "g", []Connection{a}, []byte("slow"), slow))
	require.NoError(t, s.Send(context.Background(), "g", []Connection{a}, []byte("fast"), fast))
	assert.Equal(t, 2, s.ActiveChannels())

	require.Eventually(t, func() bool { return len(a.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"fast"}, a.messages())
	require.Eventually(t, func() bool { return s.ActiveChannels() == 1 }, time.Second, 5*time.Millisecond)
}
