package relay

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/healthchat/backend/internal/model/chat"
)

// Inbound frame types.
const (
	TypeJoinSession = "join_session"
	TypeSendMessage = "send_message"
	TypeTyping      = "typing"
	TypeStopTyping  = "stop_typing"
	TypeHeartbeat   = "heartbeat"
)

// Outbound frame types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeSessionJoined         = "session_joined"
	TypeUserJoined            = "user_joined"
	TypeUserLeft              = "user_left"
	TypeUserTyping            = "user_typing"
	TypeUserStopTyping        = "user_stop_typing"
	TypeNewMessage            = "new_message"
	TypeHeartbeatAck          = "heartbeat_ack"
	TypeError                 = "error"
)

// Error codes carried in error frames.
const (
	CodeInvalidFrame = "invalid_frame"
	CodeUnknownType  = "unknown_type"
	CodeValidation   = "validation"
	CodeNotFound     = "not_found"
	CodeAccessDenied = "access_denied"
	CodeNotJoined    = "not_joined"
	CodePersistence  = "persistence"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal"
)

var (
	errMalformedFrame = errors.New("invalid message format")
	errMissingType    = errors.New("message type is required")
)

// Frame is the outbound envelope.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Message           string   `json:"message"`
	Code              string   `json:"code"`
	AvailableSessions []string `json:"availableSessions,omitempty"`
}

func errorFrame(code, message string) Frame {
	return Frame{Type: TypeError, Data: ErrorData{Message: message, Code: code}}
}

// inboundFrame is the wire shape of every client frame.
type inboundFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Message   string          `json:"message,omitempty"`
	Sender    string          `json:"sender,omitempty"`
	Role      chat.Role       `json:"role,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// command is the decoded, typed form of an inbound frame.
type command interface {
	frameType() string
}

type joinSession struct{ SessionID string }

type sendMessage struct {
	Text   string
	Sender string
	Role   chat.Role
}

type typing struct{}

type stopTyping struct{}

type heartbeat struct{}

// unknownCommand carries a well-formed frame whose type is not recognised.
type unknownCommand struct{ Type string }

func (joinSession) frameType() string      { return TypeJoinSession }
func (sendMessage) frameType() string      { return TypeSendMessage }
func (typing) frameType() string           { return TypeTyping }
func (stopTyping) frameType() string       { return TypeStopTyping }
func (heartbeat) frameType() string        { return TypeHeartbeat }
func (c unknownCommand) frameType() string { return c.Type }

// decodeFrame parses one client frame. Field presence is checked by the
// handlers so that each can answer with its own error.
func decodeFrame(raw []byte) (command, error) {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, errMalformedFrame
	}
	kind := strings.TrimSpace(in.Type)
	if kind == "" {
		return nil, errMissingType
	}

	switch kind {
	case TypeJoinSession:
		return joinSession{SessionID: strings.TrimSpace(in.SessionID)}, nil
	case TypeSendMessage:
		return sendMessage{Text: in.Message, Sender: in.Sender, Role: in.Role}, nil
	case TypeTyping:
		return typing{}, nil
	case TypeStopTyping:
		return stopTyping{}, nil
	case TypeHeartbeat:
		return heartbeat{}, nil
	default:
		return unknownCommand{Type: kind}, nil
	}
}
