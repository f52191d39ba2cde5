package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"gameserver/internal/http/adminhandler"
	"gameserver/internal/ws"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type httpServer struct {
	listenPort uint16
	wsPath     string
	srv        http.Server
	ln         net.Listener
	wsSrv      *ws.WsServer
	online     adminhandler.OnlineCounter
	ctx        context.Context
}

func NewHttpServer(ctx context.Context, listenPort uint16, wsPath string, wsSrv *ws.WsServer, online adminhandler.OnlineCounter) *httpServer {
	return &httpServer{
		listenPort: listenPort,
		wsPath:     wsPath,
		wsSrv:      wsSrv,
		online:     online,
		ctx:        ctx,
	}
}

// Engine builds the router: the websocket endpoint, health and admin API.
func (h *httpServer) Engine() *gin.Engine {
	routerEngine := gin.New()

	routerEngine.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	// websocket endpoint
	routerEngine.GET(h.wsPath, h.wsSrv.Handle)

	routerEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// REST API
	ah := adminhandler.New(h.wsSrv.Hub(), h.online)
	ah.Register(routerEngine)

	return routerEngine
}

// Listen binds the port. A failure here is fatal for the process.
func (h *httpServer) Listen() error {
	var err error
	listenAddr := fmt.Sprintf(":%d", h.listenPort)
	h.ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}
	h.srv = http.Server{
		Handler:           h.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Serve blocks until Dispose is called.
func (h *httpServer) Serve() error {
	err := h.srv.Serve(h.ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Dispose gracefully shuts the HTTP server down.
// It waits up to 10 s for in-flight requests to finish. Hijacked websocket
// connections are not tracked here; the ws server drains those.
func (h *httpServer) Dispose() error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), 10*time.Second)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err
	}
	return nil
}
