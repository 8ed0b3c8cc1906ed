package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthchat/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrSessionEnded    = errors.New("chat session already ended")
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailTaken      = errors.New("user already exists")
)

// Store is the persistence contract shared by the REST API and the relay.
type Store interface {
	CreateUser(ctx context.Context, user chat.User) (chat.User, error)
	FindUserByEmail(ctx context.Context, email string) (chat.User, error)

	CreateSession(ctx context.Context, userID string, symptomsID *string) (chat.Session, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	FindSessionOwner(ctx context.Context, sessionID string) (string, error)
	ListUserSessions(ctx context.Context, userID string) ([]string, error)
	ListSessions(ctx context.Context, userID string, page chat.Page) ([]chat.Session, int, error)
	EndSession(ctx context.Context, sessionID string, at time.Time) (chat.Session, error)

	CreateMessage(ctx context.Context, message chat.MessageCreate) (chat.Message, error)
	ListMessages(ctx context.Context, sessionID string, page chat.Page) ([]chat.Message, int, error)
	RecentMessages(ctx context.Context, sessionID string, n int) ([]chat.Message, error)
	LastMessage(ctx context.Context, sessionID string) (*chat.Message, error)

	Close() error
}

// MemoryStore keeps users, sessions and transcripts in process memory.
// Used when no database path is configured and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]chat.User // keyed by lower-cased email
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]chat.User),
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser stores a new account; email uniqueness is case-insensitive.
func (s *MemoryStore) CreateUser(_ context.Context, user chat.User) (chat.User, error) {
	key := strings.ToLower(user.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[key]; ok {
		return chat.User{}, ErrEmailTaken
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.users[key] = user
	return user, nil
}

// FindUserByEmail looks an account up by email.
func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[strings.ToLower(email)]
	if !ok {
		return chat.User{}, ErrUserNotFound
	}
	return user, nil
}

// CreateSession provisions a session owned by userID.
func (s *MemoryStore) CreateSession(_ context.Context, userID string, symptomsID *string) (chat.Session, error) {
	session := chat.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		SymptomsID: symptomsID,
		StartedAt:  s.now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// FindSessionOwner returns the user id that owns sessionID.
func (s *MemoryStore) FindSessionOwner(ctx context.Context, sessionID string) (string, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return session.UserID, nil
}

// ListUserSessions returns every session id owned by userID, newest first.
func (s *MemoryStore) ListUserSessions(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	owned := s.ownedLocked(userID)
	s.mu.RUnlock()

	ids := make([]string, len(owned))
	for i, session := range owned {
		ids[i] = session.ID
	}
	return ids, nil
}

// ListSessions pages through userID's sessions, newest first.
func (s *MemoryStore) ListSessions(_ context.Context, userID string, page chat.Page) ([]chat.Session, int, error) {
	s.mu.RLock()
	owned := s.ownedLocked(userID)
	s.mu.RUnlock()

	return window(owned, page), len(owned), nil
}

// EndSession stamps the session end time. Ending twice is an error.
func (s *MemoryStore) EndSession(_ context.Context, sessionID string, at time.Time) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	if session.EndedAt != nil {
		return chat.Session{}, ErrSessionEnded
	}
	ended := at.UTC()
	session.EndedAt = &ended
	s.sessions[sessionID] = session
	return session, nil
}

// CreateMessage validates and appends a message to the session history.
func (s *MemoryStore) CreateMessage(_ context.Context, create chat.MessageCreate) (chat.Message, error) {
	if err := create.Validate(); err != nil {
		return chat.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[create.SessionID]; !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	message := chat.Message{
		ID:        uuid.NewString(),
		SessionID: create.SessionID,
		Sender:    create.Sender,
		Text:      create.Text,
		Role:      create.Role,
		Timestamp: s.now(),
	}
	s.messages[create.SessionID] = append(s.messages[create.SessionID], message)
	return message, nil
}

// ListMessages pages through a transcript in chronological order.
func (s *MemoryStore) ListMessages(_ context.Context, sessionID string, page chat.Page) ([]chat.Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, 0, ErrSessionNotFound
	}
	return window(messages, page), len(messages), nil
}

// RecentMessages returns the last n messages of a transcript, oldest first.
func (s *MemoryStore) RecentMessages(_ context.Context, sessionID string, n int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	start := 0
	if n >= 0 && len(messages) > n {
		start = len(messages) - n
	}
	copied := make([]chat.Message, len(messages)-start)
	copy(copied, messages[start:])
	return copied, nil
}

// LastMessage returns the newest message of a session, or nil when empty.
func (s *MemoryStore) LastMessage(_ context.Context, sessionID string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if len(messages) == 0 {
		return nil, nil
	}
	last := messages[len(messages)-1]
	return &last, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) ownedLocked(userID string) []chat.Session {
	owned := make([]chat.Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			owned = append(owned, session)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].StartedAt.Equal(owned[j].StartedAt) {
			return owned[i].ID < owned[j].ID
		}
		return owned[i].StartedAt.After(owned[j].StartedAt)
	})
	return owned
}

func window[T any](items []T, page chat.Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	out := make([]T, end-page.Offset)
	copy(out, items[page.Offset:end])
	return out
}
