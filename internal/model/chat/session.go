package chat

import "time"

// Session is a conversation thread owned by exactly one user.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	SymptomsID *string    `json:"symptomsId"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt"`
}

// SessionSummary is a session listing entry with a preview of its latest message.
type SessionSummary struct {
	Session
	LastMessage *Message `json:"lastMessage,omitempty"`
}

// SessionDetail 包含完整消息记录的会话。
type SessionDetail struct {
	Session
	Messages []Message `json:"messages"`
}
