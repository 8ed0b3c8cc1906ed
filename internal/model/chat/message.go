package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role 标识消息的发送方类别。
type Role string

const (
	RoleUser Role = "USER"
	RoleBot  Role = "BOT"
)

// BotSender is the sender name stamped on AI replies.
const BotSender = "HealthBot"

// ErrValidation is wrapped by every shape error returned from Validate.
var ErrValidation = errors.New("validation failed")

// Valid reports whether r is one of the accepted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleBot
}

// Message is one persisted chat turn.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    string    `json:"sender"`
	Text      string    `json:"message"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageCreate carries the caller-supplied fields of a new message.
type MessageCreate struct {
	SessionID string `json:"sessionId"`
	Sender    string `json:"sender"`
	Text      string `json:"message"`
	Role      Role   `json:"role"`
}

// Validate 校验消息结构：会话ID必须是UUID，发送方与内容不能为空，角色只能是 USER/BOT。
func (m MessageCreate) Validate() error {
	var problems []string
	if _, err := uuid.Parse(m.SessionID); err != nil {
		problems = append(problems, "sessionId must be a valid uuid")
	}
	if strings.TrimSpace(m.Sender) == "" {
		problems = append(problems, "sender is required")
	}
	if strings.TrimSpace(m.Text) == "" {
		problems = append(problems, "message is required")
	}
	if !m.Role.Valid() {
		problems = append(problems, fmt.Sprintf("role must be %s or %s", RoleUser, RoleBot))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}
