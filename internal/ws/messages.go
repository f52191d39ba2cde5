package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Identity is the opaque id of an authenticated principal.
type Identity string

// ErrorCode travels in the "error" field of every envelope; 0 means success.
type ErrorCode int

const (
	NoError ErrorCode = iota
	BadCredentials
	UsernameTaken
	SessionSupersededElsewhere
	CannotRegister
	EmptyCredentials
	IllegalRequest
	InternalError
)

var errorCodeNames = map[ErrorCode]string{
	NoError:                    "no error",
	BadCredentials:             "bad credentials",
	UsernameTaken:              "username taken",
	SessionSupersededElsewhere: "signed in elsewhere",
	CannotRegister:             "cannot register",
	EmptyCredentials:           "empty credentials",
	IllegalRequest:             "illegal request",
	InternalError:              "internal error",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error %d", int(c))
}

// Reserved actions handled by the session itself.
const (
	ActionHeartbeat = "heartbeat"
	ActionLogin     = "login"
	ActionRegister  = "register"
)

// Envelope wraps every outbound WS frame.
type Envelope struct {
	Action string    `json:"action"`
	Data   any       `json:"data,omitempty"`
	Error  ErrorCode `json:"error"`
}

// Frame is an inbound envelope; Data stays raw until a handler decodes it.
type Frame struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  ErrorCode       `json:"error"`
}

// ErrorBody is the data of every error envelope.
type ErrorBody struct {
	Message string `json:"message"`
}

type HeartbeatBody struct {
	Timestamp int64 `json:"timestamp"`
}

var errMalformedFrame = errors.New("malformed frame")

func parseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	if f.Action == "" {
		return Frame{}, fmt.Errorf("%w: missing action", errMalformedFrame)
	}
	return f, nil
}

func errorEnvelope(action string, code ErrorCode, msg string) Envelope {
	if msg == "" {
		msg = code.String()
	}
	return Envelope{Action: action, Error: code, Data: ErrorBody{Message: msg}}
}

func heartbeatEnvelope(now time.Time) Envelope {
	return Envelope{Action: ActionHeartbeat, Data: HeartbeatBody{Timestamp: now.UnixMilli()}}
}

// ProtocolError is returned by handlers for failures the peer should see
// with a specific code.
type ProtocolError struct {
	Code    ErrorCode
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Message
}

func NewProtocolError(code ErrorCode, msg string) *ProtocolError {
	return &ProtocolError{Code: code, Message: msg}
}
