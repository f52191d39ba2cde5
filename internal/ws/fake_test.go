package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var errFakeSend = errors.New("fake send failure")

var fakeSeq atomic.Int64

// fakeConn records everything written to it.
type fakeConn struct {
	id string

	mu          sync.Mutex
	open        bool
	sent        [][]byte
	attempts    int
	failFirst   int // fail this many sends before succeeding; <0 fails forever
	closeCode   int
	closeReason string
	closeCalls  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: fmt.Sprintf("fake-%d", fakeSeq.Add(1)), open: true}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeConn) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return ErrConnClosed
	}
	f.attempts++
	if f.failFirst < 0 || f.attempts <= f.failFirst {
		return errFakeSend
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.open {
		f.open = false
		f.closeCode, f.closeReason = code, reason
	}
	return nil
}

func (f *fakeConn) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, b := range f.sent {
		out = append(out, string(b))
	}
	return out
}

func (f *fakeConn) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeConn) reason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeReason
}

// gatedConn holds every Send until gate is closed. Each attempt is announced
// on entered before it blocks.
type gatedConn struct {
	*fakeConn
	gate    chan struct{}
	entered chan string
}

func newGatedConn() *gatedConn {
	return &gatedConn{fakeConn: newFakeConn(), gate: make(chan struct{}), entered: make(chan string, 16)}
}

func (g *gatedConn) Send(ctx context.Context, data []byte) error {
	g.entered <- string(data)
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.fakeConn.Send(ctx, data)
}
