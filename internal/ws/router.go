package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ConnContext is what a handler knows about the session that invoked it.
type ConnContext struct {
	Conn     Connection
	Identity Identity
	Hub      *Hub
}

// Handler processes one or more named actions for authenticated sessions.
type Handler interface {
	Handle(ctx context.Context, cc *ConnContext, action string, data json.RawMessage) error
}

type HandlerFunc func(ctx context.Context, cc *ConnContext, action string, data json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, cc *ConnContext, action string, data json.RawMessage) error {
	return f(ctx, cc, action, data)
}

// Router keeps a map[action]handler, à-la gin.Engine. Actions are matched
// case-insensitively.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRouter() *Router { return &Router{handlers: make(map[string]Handler)} }

var payloadValidator = validator.New()

func normalizeAction(action string) string { return strings.ToLower(strings.TrimSpace(action)) }

// Handle binds action to h. Reserved session actions cannot be bound.
func (r *Router) Handle(action string, h Handler) {
	key := normalizeAction(action)
	switch key {
	case "":
		panic("ws router: empty action")
	case ActionHeartbeat, ActionLogin, ActionRegister:
		panic("ws router: reserved action " + key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = h
}

// Register binds action to a strongly-typed handler. The payload is decoded
// into Req and validated; failures surface as IllegalRequest.
func Register[Req any](
	r *Router,
	action string,
	h func(ctx context.Context, cc *ConnContext, req Req) error,
) {
	r.Handle(action, HandlerFunc(func(ctx context.Context, cc *ConnContext, _ string, body json.RawMessage) error {
		var req Req
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return NewProtocolError(IllegalRequest, "invalid payload: "+err.Error())
			}
		}
		if err := payloadValidator.Struct(req); err != nil {
			if _, ok := err.(*validator.InvalidValidationError); !ok {
				return NewProtocolError(IllegalRequest, err.Error())
			}
		}
		return h(ctx, cc, req)
	}))
}

func (r *Router) Lookup(action string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[normalizeAction(action)]
	return h, ok
}

func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for a := range r.handlers {
		out = append(out, a)
	}
	return out
}
