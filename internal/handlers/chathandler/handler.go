package chathandler

import (
	"context"

	"gameserver/internal/ws"

	"go.uber.org/zap"
)

type Policies struct {
	Chat  ws.Policy
	Group ws.Policy
}

type Handler struct {
	policies Policies
}

func New(p Policies) *Handler { return &Handler{policies: p} }

func (h *Handler) Register(r *ws.Router) {
	ws.Register(r, ActionChat, h.chat)
	ws.Register(r, ActionShout, h.shout)
	ws.Register(r, ActionWhisper, h.whisper)
	ws.Register(r, ActionJoinGroup, h.joinGroup)
	ws.Register(r, ActionLeaveGroup, h.leaveGroup)
	ws.Register(r, ActionGroupChat, h.groupChat)
}

// chat goes to everyone except the sender.
func (h *Handler) chat(ctx context.Context, cc *ws.ConnContext, req ChatBody) error {
	env := ws.Envelope{Action: ActionChat, Data: ChatEvent{From: string(cc.Identity), Message: req.Message}}
	return cc.Hub.Send(ctx, ws.Others(cc.Conn), env, h.policies.Chat)
}

// shout goes to everyone, sender included, without batching.
func (h *Handler) shout(ctx context.Context, cc *ws.ConnContext, req ChatBody) error {
	env := ws.Envelope{Action: ActionShout, Data: ChatEvent{From: string(cc.Identity), Message: req.Message}}
	return cc.Hub.Send(ctx, ws.All(), env, ws.Immediate())
}

func (h *Handler) whisper(ctx context.Context, cc *ws.ConnContext, req WhisperBody) error {
	to := ws.Identity(req.To)
	if _, ok := cc.Hub.Connections().GetByIdentity(to); !ok {
		return ws.NewProtocolError(RecipientOffline, "recipient is not connected")
	}

	ev := ChatEvent{From: string(cc.Identity), To: req.To, Message: req.Message}
	if err := cc.Hub.Send(ctx, ws.SingleClient(to), ws.Envelope{Action: ActionWhisper, Data: ev}, ws.Immediate()); err != nil {
		return err
	}
	// echo so the sender's client can render its own line
	return ws.Reply(ctx, cc.Conn, ws.Envelope{Action: ActionWhisper, Data: ev})
}

func (h *Handler) joinGroup(ctx context.Context, cc *ws.ConnContext, req GroupBody) error {
	groups := cc.Hub.Groups()
	groups.AddToGroup(req.Group, cc.Identity)
	members, _ := groups.Members(req.Group)

	zap.L().Debug("chat.join", zap.String("group", req.Group), zap.String("identity", string(cc.Identity)))
	return ws.Reply(ctx, cc.Conn, ws.Envelope{Action: ActionJoinGroup, Data: GroupAck{Group: req.Group, Members: len(members)}})
}

func (h *Handler) leaveGroup(ctx context.Context, cc *ws.ConnContext, req GroupBody) error {
	groups := cc.Hub.Groups()
	if !groups.IsMember(req.Group, cc.Identity) {
		return ws.NewProtocolError(NotAMember, "not a member of "+req.Group)
	}
	groups.RemoveFromGroup(req.Group, cc.Identity)
	members, _ := groups.Members(req.Group)

	return ws.Reply(ctx, cc.Conn, ws.Envelope{Action: ActionLeaveGroup, Data: GroupAck{Group: req.Group, Members: len(members)}})
}

func (h *Handler) groupChat(ctx context.Context, cc *ws.ConnContext, req GroupChatBody) error {
	if !cc.Hub.Groups().IsMember(req.Group, cc.Identity) {
		return ws.NewProtocolError(NotAMember, "not a member of "+req.Group)
	}
	env := ws.Envelope{
		Action: ActionGroupChat,
		Data:   ChatEvent{From: string(cc.Identity), Group: req.Group, Message: req.Message},
	}
	return cc.Hub.Send(ctx, ws.Group(req.Group), env, h.policies.Group)
}
