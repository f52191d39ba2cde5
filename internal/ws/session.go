package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gameserver/internal/services/user"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Presence is told when an identity gains or loses its live connection.
// Implementations must ignore Offline for a connection that no longer owns
// the identity.
type Presence interface {
	Online(ctx context.Context, id Identity, connID string) error
	Offline(ctx context.Context, id Identity, connID string) error
}

type SessionConfig struct {
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	ReadLimit            int64
	HandlerTimeout       time.Duration
	RejectDuplicateLogin bool
	RateLimit            rate.Limit // 0 disables inbound throttling
	RateBurst            int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  2 * time.Minute,
		ReadLimit:         4096,
		HandlerTimeout:    5 * time.Second,
		RateLimit:         20,
		RateBurst:         40,
	}
}

type SessionState int32

const (
	Unauthenticated SessionState = iota
	Authenticated
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case SessionClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// AuthReply is the data of a successful login or register.
type AuthReply struct {
	UserID   string `json:"userid"`
	Username string `json:"username"`
}

// Session drives one connection: the receive loop, the auth path, handler
// dispatch and the heartbeat watchdog.
type Session struct {
	conn     *Conn
	hub      *Hub
	router   *Router
	users    user.IUserService
	presence Presence
	cfg      SessionConfig

	state         atomic.Int32
	lastHeartbeat atomic.Int64 // unix nanos
	limiter       *rate.Limiter

	// only touched by the receive loop goroutine
	identity  Identity
	watchdog  bool
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(conn *Conn, hub *Hub, router *Router, users user.IUserService, presence Presence, cfg SessionConfig) *Session {
	s := &Session{
		conn:     conn,
		hub:      hub,
		router:   router,
		users:    users,
		presence: presence,
		cfg:      cfg,
		done:     make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	s.touch()
	return s
}

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) touch() { s.lastHeartbeat.Store(time.Now().UnixNano()) }

func (s *Session) sinceHeartbeat(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastHeartbeat.Load()))
}

// Run blocks until the peer goes away, the watchdog fires or ctx is
// cancelled. The session is fully detached when Run returns.
func (s *Session) Run(ctx context.Context) {
	defer s.exit()

	if s.cfg.ReadLimit > 0 {
		s.conn.rawConn.SetReadLimit(s.cfg.ReadLimit)
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.Close(websocket.CloseGoingAway, ReasonShutdown)
		case <-s.done:
		}
	}()

	zap.L().Debug("session.open", zap.String("conn", s.conn.ID()), zap.String("remote", s.conn.RemoteAddr()))

	for {
		raw, err := s.conn.read()
		if err != nil {
			s.logReadError(err)
			return
		}
		s.touch()

		f, err := parseFrame(raw)
		if err != nil {
			zap.L().Debug("session.malformed", zap.String("conn", s.conn.ID()), zap.Error(err))
			s.reply(ctx, errorEnvelope("", IllegalRequest, "malformed frame"))
			continue
		}
		action := normalizeAction(f.Action)

		if action == ActionHeartbeat {
			s.reply(ctx, heartbeatEnvelope(time.Now()))
			continue
		}
		auth := action == ActionLogin || action == ActionRegister
		if s.limiter != nil && !s.limiter.Allow() {
			zap.L().Debug("session.rate_limited", zap.String("conn", s.conn.ID()), zap.String("action", action))
			if auth {
				// the peer is waiting on this one
				s.reply(ctx, errorEnvelope(f.Action, IllegalRequest, "rate limited"))
			}
			continue
		}

		switch {
		case auth:
			s.authenticate(ctx, action, f)
		case s.State() == Authenticated:
			s.dispatch(ctx, action, f)
		default:
			// unauthenticated peers get no answer to feature actions
		}
	}
}

func (s *Session) logReadError(err error) {
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		zap.L().Debug("session.peer_close", zap.String("conn", s.conn.ID()), zap.Int("code", ce.Code), zap.String("reason", ce.Text))
	case !s.conn.IsOpen():
		// closed locally: eviction, timeout or shutdown
	default:
		zap.L().Debug("session.read", zap.String("conn", s.conn.ID()), zap.Error(err))
	}
}

func (s *Session) reply(ctx context.Context, env Envelope) {
	if err := Reply(ctx, s.conn, env); err != nil && !errors.Is(err, ErrConnClosed) {
		zap.L().Debug("session.reply", zap.String("conn", s.conn.ID()), zap.String("action", env.Action), zap.Error(err))
	}
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.HandlerTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.HandlerTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Session) authenticate(ctx context.Context, action string, f Frame) {
	var cred user.Credentials
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &cred); err != nil {
			s.reply(ctx, errorEnvelope(f.Action, IllegalRequest, "invalid credentials payload"))
			return
		}
	}
	if strings.TrimSpace(cred.Username) == "" || cred.Password == "" {
		s.reply(ctx, errorEnvelope(f.Action, EmptyCredentials, ""))
		return
	}
	if err := payloadValidator.Struct(cred); err != nil {
		s.reply(ctx, errorEnvelope(f.Action, IllegalRequest, err.Error()))
		return
	}
	if len(cred.Password) > user.MaxPasswordBytes {
		s.reply(ctx, errorEnvelope(f.Action, IllegalRequest, user.ErrPasswordTooLong.Error()))
		return
	}
	cred.RemoteAddr = s.conn.RemoteAddr()

	actx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		dto *user.UserDTO
		err error
	)
	if action == ActionRegister {
		dto, err = s.users.Register(actx, cred)
	} else {
		dto, err = s.users.Authenticate(actx, cred)
	}
	if err != nil {
		code := authErrorCode(action, err)
		if code == CannotRegister || code == InternalError {
			zap.L().Error("session.auth", zap.String("action", action), zap.Error(err))
		}
		s.reply(ctx, errorEnvelope(f.Action, code, ""))
		return
	}

	id := Identity(dto.ID)
	if !s.bind(id) {
		s.reply(ctx, errorEnvelope(f.Action, SessionSupersededElsewhere, "identity is connected elsewhere"))
		return
	}

	if s.presence != nil {
		if err := s.presence.Online(actx, id, s.conn.ID()); err != nil {
			zap.L().Warn("session.presence_online", zap.String("identity", string(id)), zap.Error(err))
		}
	}
	zap.L().Info("session.authenticated",
		zap.String("conn", s.conn.ID()),
		zap.String("identity", string(id)),
		zap.String("action", action),
	)
	s.reply(ctx, Envelope{Action: f.Action, Data: AuthReply{UserID: dto.ID, Username: dto.Username}})
}

func authErrorCode(action string, err error) ErrorCode {
	switch {
	case errors.Is(err, user.ErrUsernameTaken):
		return UsernameTaken
	case errors.Is(err, user.ErrBadCredentials):
		return BadCredentials
	case errors.Is(err, user.ErrPasswordTooLong):
		return IllegalRequest
	case action == ActionRegister:
		return CannotRegister
	}
	return InternalError
}

// bind makes this connection the one for id, honouring the duplicate-login
// policy, and arms the watchdog on the first successful bind.
func (s *Session) bind(id Identity) bool {
	reg := s.hub.Connections()
	if s.cfg.RejectDuplicateLogin {
		if err := reg.PutIfAbsent(id, s.conn); err != nil {
			return false
		}
	} else {
		reg.Put(id, s.conn)
	}

	if prev := s.identity; prev != "" && prev != id {
		if _, bound := reg.GetByIdentity(prev); !bound {
			s.hub.Groups().RemoveFromAllGroups(prev)
		}
		s.markOffline(prev)
	}
	s.identity = id
	s.state.Store(int32(Authenticated))
	s.touch()

	if !s.watchdog {
		s.watchdog = true
		go s.watch()
	}
	return true
}

// watch closes the connection once no frame has arrived for HeartbeatTimeout.
func (s *Session) watch() {
	if s.cfg.HeartbeatInterval <= 0 || s.cfg.HeartbeatTimeout <= 0 {
		return
	}
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-t.C:
			if idle := s.sinceHeartbeat(now); idle > s.cfg.HeartbeatTimeout {
				zap.L().Info("session.timeout", zap.String("conn", s.conn.ID()), zap.Duration("idle", idle))
				_ = s.conn.Close(websocket.CloseNormalClosure, ReasonTimeout)
				return
			}
		}
	}
}

func (s *Session) dispatch(ctx context.Context, action string, f Frame) {
	h, ok := s.router.Lookup(action)
	if !ok {
		s.reply(ctx, errorEnvelope(f.Action, IllegalRequest, "unknown action"))
		return
	}

	hctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cc := &ConnContext{Conn: s.conn, Identity: s.identity, Hub: s.hub}
	err := invoke(hctx, h, cc, action, f.Data)
	if err == nil {
		return
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		s.reply(ctx, errorEnvelope(f.Action, pe.Code, pe.Message))
		return
	}
	zap.L().Error("session.handler",
		zap.String("action", action),
		zap.String("identity", string(s.identity)),
		zap.Error(err),
	)
	s.reply(ctx, errorEnvelope(f.Action, InternalError, ""))
}

func invoke(ctx context.Context, h Handler, cc *ConnContext, action string, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("session.handler_panic",
				zap.String("action", action),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("handler %q panicked: %v", action, r)
		}
	}()
	return h.Handle(ctx, cc, action, data)
}

func (s *Session) markOffline(id Identity) {
	if s.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.presence.Offline(ctx, id, s.conn.ID()); err != nil {
		zap.L().Warn("session.presence_offline", zap.String("identity", string(id)), zap.Error(err))
	}
}

// exit is idempotent.
func (s *Session) exit() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(SessionClosed))
		close(s.done)

		if id, owned := s.hub.Detach(s.conn); owned {
			zap.L().Debug("session.detach", zap.String("identity", string(id)), zap.String("conn", s.conn.ID()))
		}
		if s.identity != "" {
			s.markOffline(s.identity)
		}
		_ = s.conn.Close(websocket.CloseNormalClosure, ReasonClosed)
		zap.L().Debug("session.closed", zap.String("conn", s.conn.ID()))
	})
}
