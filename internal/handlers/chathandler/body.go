package chathandler

import "gameserver/internal/ws"

// Handler-specific error codes, above the session's own range.
const (
	RecipientOffline ws.ErrorCode = 100 + iota
	NotAMember
)

const (
	ActionChat       = "chat"
	ActionShout      = "shout"
	ActionWhisper    = "whisper"
	ActionJoinGroup  = "joingroup"
	ActionLeaveGroup = "leavegroup"
	ActionGroupChat  = "groupchat"
)

type ChatBody struct {
	Message string `json:"message" validate:"required,max=1024"`
}

type WhisperBody struct {
	To      string `json:"to"      validate:"required"`
	Message string `json:"message" validate:"required,max=1024"`
}

type GroupBody struct {
	Group string `json:"group" validate:"required,max=64"`
}

type GroupChatBody struct {
	Group   string `json:"group"   validate:"required,max=64"`
	Message string `json:"message" validate:"required,max=1024"`
}

// ChatEvent is what recipients of any chat action receive.
type ChatEvent struct {
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	Group   string `json:"group,omitempty"`
	Message string `json:"message"`
}

type GroupAck struct {
	Group   string `json:"group"`
	Members int    `json:"members"`
}
