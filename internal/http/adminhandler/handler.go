package adminhandler

import (
	"context"
	"net/http"
	"sort"

	"gameserver/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ActionBroadcast is the envelope action of server-originated announcements.
const ActionBroadcast = "broadcast"

// OnlineCounter reports the cluster-visible online count; optional.
type OnlineCounter interface {
	OnlineCount(ctx context.Context) (int64, error)
}

type Handler struct {
	hub    *ws.Hub
	online OnlineCounter
}

func New(hub *ws.Hub, online OnlineCounter) *Handler { return &Handler{hub: hub, online: online} }

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/stats", h.stats)
	r.GET("/groups/:name", h.group)
	r.DELETE("/groups/:name", h.deleteGroup)
	r.POST("/broadcast", h.broadcast)
}

func (h *Handler) stats(c *gin.Context) {
	out := StatsResponse{
		Connections:   h.hub.Connections().Count(),
		Groups:        len(h.hub.Groups().Groups()),
		BatchChannels: h.hub.Scheduler().ActiveChannels(),
	}
	if h.online != nil {
		n, err := h.online.OnlineCount(c.Request.Context())
		if err != nil {
			zap.L().Warn("admin.online_count", zap.Error(err))
		} else {
			out.PresenceOnline = &n
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) group(c *gin.Context) {
	name := c.Param("name")
	members, ok := h.hub.Groups().Members(name)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "group not found"})
		return
	}

	ids := make([]string, 0, len(members))
	for _, id := range members {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	c.JSON(http.StatusOK, GroupResponse{
		Group:   name,
		Members: ids,
		Live:    len(h.hub.Groups().ResolveConnections(name)),
	})
}

func (h *Handler) deleteGroup(c *gin.Context) {
	if !h.hub.Groups().DeleteGroup(c.Param("name")) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "group not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) broadcast(c *gin.Context) {
	var body BroadcastBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	env := ws.Envelope{Action: ActionBroadcast, Data: body}
	if err := h.hub.Send(c.Request.Context(), ws.All(), env, ws.Immediate()); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}
