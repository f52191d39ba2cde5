package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	closeWait = time.Second
)

// Close reasons carried in the WebSocket close frame.
const (
	ReasonSupersededElsewhere = "signed in elsewhere"
	ReasonTimeout             = "timeout"
	ReasonShutdown            = "server shutdown"
	ReasonClosed              = "connection closed"
)

var ErrConnClosed = errors.New("connection closed")

type ConnState int32

const (
	StateOpen ConnState = iota
	StateClosing
	StateClosed
)

// Connection is one live duplex endpoint as seen by the registries and the
// broadcast scheduler.
type Connection interface {
	ID() string
	IsOpen() bool
	Send(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Conn adapts a gorilla connection. Writes are serialised by mu; Close is
// safe to call concurrently with reads and writes and only runs once.
type Conn struct {
	id      string
	remote  string
	rawConn *websocket.Conn
	mu      sync.Mutex
	state   atomic.Int32
	once    sync.Once
}

func NewConn(raw *websocket.Conn, remote string) *Conn {
	return &Conn{
		id:      uuid.NewString(),
		remote:  remote,
		rawConn: raw,
	}
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) RemoteAddr() string { return c.remote }
func (c *Conn) State() ConnState   { return ConnState(c.state.Load()) }
func (c *Conn) IsOpen() bool       { return c.State() == StateOpen }

func (c *Conn) Send(ctx context.Context, data []byte) error {
	if !c.IsOpen() {
		return ErrConnClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.rawConn.SetWriteDeadline(deadline)
	return c.rawConn.WriteMessage(websocket.TextMessage, data) // Text only
}

// Close sends a close frame carrying reason and tears the socket down.
// Repeated calls are no-ops.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.once.Do(func() {
		c.state.Store(int32(StateClosing))
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.rawConn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		err = c.rawConn.Close()
		c.state.Store(int32(StateClosed))
	})
	return err
}

func (c *Conn) read() ([]byte, error) {
	_, data, err := c.rawConn.ReadMessage()
	return data, err
}
