package relay

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/healthchat/backend/internal/model/chat"
	chatservice "github.com/healthchat/backend/internal/service/chat"
)

// handleFrame decodes and dispatches one inbound frame. Frames of one
// connection go through here strictly one after another.
func (s *Server) handleFrame(ctx context.Context, c *Conn, raw []byte) {
	start := time.Now()

	cmd, err := decodeFrame(raw)
	if err != nil {
		s.metrics.received("invalid")
		s.replyError(c, CodeInvalidFrame, err.Error())
		return
	}

	label := cmd.frameType()
	if _, unknown := cmd.(unknownCommand); unknown {
		label = "unknown"
	}
	s.metrics.received(label)
	defer func() { s.metrics.observeFrame(label, time.Since(start).Seconds()) }()

	s.dispatch(ctx, c, cmd)
}

func (s *Server) dispatch(ctx context.Context, c *Conn, cmd command) {
	switch cmd := cmd.(type) {
	case joinSession:
		s.handleJoin(ctx, c, cmd)
	case sendMessage:
		s.handleSend(ctx, c, cmd)
	case typing:
		s.handlePresence(c, TypeUserTyping)
	case stopTyping:
		s.handlePresence(c, TypeUserStopTyping)
	case heartbeat:
		s.broadcaster.Reply(c, Frame{
			Type: TypeHeartbeatAck,
			Data: map[string]any{"timestamp": time.Now().UTC()},
		})
	case unknownCommand:
		s.replyError(c, CodeUnknownType, "Unknown message type: "+cmd.Type)
	default:
		log.Printf("[relay] no handler for frame type %q", cmd.frameType())
		s.replyError(c, CodeInternal, "Unsupported message type")
	}
}

// handleJoin 校验会话归属后把连接绑定到会话。
func (s *Server) handleJoin(ctx context.Context, c *Conn, cmd joinSession) {
	if cmd.SessionID == "" {
		s.replyError(c, CodeValidation, "Session ID is required")
		return
	}

	owner, err := s.store.FindSessionOwner(ctx, cmd.SessionID)
	if errors.Is(err, chatservice.ErrSessionNotFound) {
		s.replyNotFound(ctx, c)
		return
	}
	if err != nil {
		log.Printf("[relay] owner lookup failed session=%s: %v", cmd.SessionID, err)
		s.replyError(c, CodeInternal, "Failed to join session")
		return
	}
	if owner != c.UserID() {
		log.Printf("[relay] join denied user=%s session=%s", c.UserID(), cmd.SessionID)
		s.replyError(c, CodeAccessDenied, "Access denied to this session")
		return
	}

	previous := s.registry.Join(c, cmd.SessionID)
	if previous != "" && previous != cmd.SessionID {
		log.Printf("[relay] user=%s moved from session=%s", c.UserID(), previous)
	}

	s.broadcaster.Reply(c, Frame{
		Type: TypeSessionJoined,
		Data: map[string]any{
			"sessionId": cmd.SessionID,
			"message":   "Successfully joined chat session",
		},
	})
	s.broadcaster.Send(cmd.SessionID, Frame{
		Type: TypeUserJoined,
		Data: map[string]any{
			"userId":    c.UserID(),
			"email":     c.Email(),
			"sessionId": cmd.SessionID,
		},
	}, c)

	log.Printf("[relay] user=%s joined session=%s members=%d", c.UserID(), cmd.SessionID, s.registry.Count(cmd.SessionID))
}

// replyNotFound lists the caller's own sessions so the client can recover.
func (s *Server) replyNotFound(ctx context.Context, c *Conn) {
	available, err := s.store.ListUserSessions(ctx, c.UserID())
	if err != nil {
		log.Printf("[relay] list sessions for user=%s failed: %v", c.UserID(), err)
		available = nil
	}
	s.metrics.errorSent(CodeNotFound)
	s.broadcaster.Reply(c, Frame{
		Type: TypeError,
		Data: ErrorData{
			Message:           "Session not found",
			Code:              CodeNotFound,
			AvailableSessions: available,
		},
	})
}

// handleSend persists the user turn, broadcasts it to the whole session
// and, for USER turns, relays the AI answer as a second message.
func (s *Server) handleSend(ctx context.Context, c *Conn, cmd sendMessage) {
	sessionID := c.SessionID()
	if sessionID == "" {
		s.replyError(c, CodeNotJoined, "Not joined to any session")
		return
	}

	create := chat.MessageCreate{
		SessionID: sessionID,
		Sender:    cmd.Sender,
		Text:      cmd.Text,
		Role:      cmd.Role,
	}
	if err := create.Validate(); err != nil {
		s.replyError(c, CodeValidation, err.Error())
		return
	}

	message, ok := s.persist(ctx, c, create)
	if !ok {
		return
	}
	s.broadcaster.Send(sessionID, Frame{Type: TypeNewMessage, Data: message}, nil)

	if create.Role != chat.RoleUser {
		return
	}

	reply, answered := s.asker.Ask(ctx, create.Text, sessionID, c.UserID())
	s.metrics.aiOutcome(answered)
	if !answered {
		log.Printf("[relay] no AI reply for session=%s", sessionID)
		return
	}

	botMessage, ok := s.persist(ctx, c, chat.MessageCreate{
		SessionID: sessionID,
		Sender:    chat.BotSender,
		Text:      reply,
		Role:      chat.RoleBot,
	})
	if !ok {
		return
	}
	s.broadcaster.Send(sessionID, Frame{Type: TypeNewMessage, Data: botMessage}, nil)
}

func (s *Server) persist(ctx context.Context, c *Conn, create chat.MessageCreate) (chat.Message, bool) {
	message, err := s.store.CreateMessage(ctx, create)
	switch {
	case err == nil:
		return message, true
	case errors.Is(err, chat.ErrValidation):
		s.replyError(c, CodeValidation, err.Error())
	default:
		log.Printf("[relay] persist message failed session=%s role=%s: %v", create.SessionID, create.Role, err)
		s.replyError(c, CodePersistence, "Failed to send message")
	}
	return chat.Message{}, false
}

// handlePresence relays typing indicators to the other members only.
func (s *Server) handlePresence(c *Conn, frameType string) {
	sessionID := c.SessionID()
	if sessionID == "" {
		return
	}
	s.broadcaster.Send(sessionID, Frame{
		Type: frameType,
		Data: map[string]any{
			"userId": c.UserID(),
			"email":  c.Email(),
		},
	}, c)
}

func (s *Server) replyError(c *Conn, code, message string) {
	s.metrics.errorSent(code)
	s.broadcaster.Reply(c, errorFrame(code, message))
}

// PostToSession persists a message created outside the relay and
// broadcasts it to the session's live members.
func (s *Server) PostToSession(ctx context.Context, create chat.MessageCreate) (chat.Message, error) {
	message, err := s.store.CreateMessage(ctx, create)
	if err != nil {
		return chat.Message{}, err
	}
	delivered := s.broadcaster.Send(create.SessionID, Frame{Type: TypeNewMessage, Data: message}, nil)
	log.Printf("[relay] posted message to session=%s delivered=%d", create.SessionID, delivered)
	return message, nil
}
