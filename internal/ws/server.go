package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"gameserver/internal/services/user"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ServerConfig struct {
	AllowedOrigins []string
	Session        SessionConfig
}

// WsServer upgrades HTTP requests and runs one Session per connection.
// It keeps no per-connection state; bookkeeping belongs to the Hub.
type WsServer struct {
	hub      *Hub
	router   *Router
	users    user.IUserService
	presence Presence
	cfg      SessionConfig
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
}

func NewWsServer(h *Hub, router *Router, users user.IUserService, presence Presence, cfg ServerConfig) *WsServer {
	origins := newOriginPolicy(cfg.AllowedOrigins)
	ctx, cancel := context.WithCancel(context.Background())
	return &WsServer{
		hub:      h,
		router:   router,
		users:    users,
		presence: presence,
		cfg:      cfg.Session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *WsServer) Hub() *Hub { return s.hub }

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	if !websocket.IsWebSocketUpgrade(ginCtx.Request) {
		ginCtx.Header("Connection", "close")
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade required"})
		return
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}
	conn := NewConn(rawConn, ginCtx.Request.RemoteAddr)

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = conn.Close(websocket.CloseGoingAway, ReasonShutdown)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	zap.L().Debug("ws.accept", zap.String("conn", conn.ID()), zap.String("remote", conn.RemoteAddr()))

	sess := NewSession(conn, s.hub, s.router, s.users, s.presence, s.cfg)
	go func() {
		defer s.wg.Done()
		sess.Run(s.ctx)
	}()
}

// Shutdown refuses new sessions, cancels the running ones and waits for
// them to detach or for ctx to expire, whichever comes first.
func (s *WsServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	s.cancel()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	start := time.Now()
	select {
	case <-finished:
		zap.L().Info("ws.shutdown", zap.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		zap.L().Warn("ws.shutdown", zap.Error(ctx.Err()), zap.Int("remaining", s.hub.Connections().Count()))
		return ctx.Err()
	}
}
