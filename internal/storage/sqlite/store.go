package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/healthchat/backend/internal/model/chat"
	chatservice "github.com/healthchat/backend/internal/service/chat"
)

// Store persists accounts, sessions and messages in a SQLite database.
type Store struct {
	conn *sql.DB
	now  func() time.Time
}

var _ chatservice.Store = (*Store)(nil)

// connPragmas are applied by the driver to every pooled connection.
var connPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"synchronous(NORMAL)",
}

// Open opens the database at path and creates the schema if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		conn: conn,
		now:  func() time.Time { return time.Now().UTC() },
	}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Printf("[store] sqlite database ready at %s", path)
	return s, nil
}

func dsn(path string) string {
	params := make([]string, len(connPragmas))
	for i, pragma := range connPragmas {
		params[i] = "_pragma=" + pragma
	}
	return filepath.Clean(path) + "?" + strings.Join(params, "&")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	symptoms_id TEXT,
	started_at INTEGER NOT NULL,
	ended_at INTEGER
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	sender TEXT NOT NULL,
	message TEXT NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('USER', 'BOT')),
	timestamp INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON chat_sessions(user_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id, timestamp);
`
	_, err := s.conn.Exec(schema)
	return err
}

// CreateUser inserts a new account.
func (s *Store) CreateUser(ctx context.Context, user chat.User) (chat.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return chat.User{}, chatservice.ErrEmailTaken
		}
		return chat.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// FindUserByEmail looks an account up by email, case-insensitively.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (chat.User, error) {
	var (
		user      chat.User
		createdAt int64
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, created_at
		FROM users WHERE email = ?
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.User{}, chatservice.ErrUserNotFound
	}
	if err != nil {
		return chat.User{}, fmt.Errorf("query user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

// CreateSession provisions a session owned by userID.
func (s *Store) CreateSession(ctx context.Context, userID string, symptomsID *string) (chat.Session, error) {
	session := chat.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		SymptomsID: symptomsID,
		StartedAt:  s.now(),
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, symptoms_id, started_at)
		VALUES (?, ?, ?, ?)
	`, session.ID, session.UserID, nullString(symptomsID), session.StartedAt.UnixMilli())
	if err != nil {
		return chat.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

const sessionColumns = `id, user_id, symptoms_id, started_at, ended_at`

// GetSession retrieves a session by identifier.
func (s *Store) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, chatservice.ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("query session: %w", err)
	}
	return session, nil
}

// FindSessionOwner returns the user id that owns sessionID.
func (s *Store) FindSessionOwner(ctx context.Context, sessionID string) (string, error) {
	var owner string
	err := s.conn.QueryRowContext(ctx, `SELECT user_id FROM chat_sessions WHERE id = ?`, sessionID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", chatservice.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query session owner: %w", err)
	}
	return owner, nil
}

// ListUserSessions returns every session id owned by userID, newest first.
func (s *Store) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id FROM chat_sessions WHERE user_id = ? ORDER BY started_at DESC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user sessions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListSessions pages through userID's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, userID string, page chat.Page) ([]chat.Session, int, error) {
	var total int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE user_id = ?
		ORDER BY started_at DESC, id ASC
		LIMIT ? OFFSET ?
	`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]chat.Session, 0, page.Limit)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}
	return sessions, total, rows.Err()
}

// EndSession stamps the session end time.
func (s *Store) EndSession(ctx context.Context, sessionID string, at time.Time) (chat.Session, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE chat_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, at.UTC().UnixMilli(), sessionID)
	if err != nil {
		return chat.Session{}, fmt.Errorf("end session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return chat.Session{}, err
	}
	if affected == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return chat.Session{}, err
		}
		return chat.Session{}, chatservice.ErrSessionEnded
	}
	return s.GetSession(ctx, sessionID)
}

// CreateMessage validates and persists a message.
func (s *Store) CreateMessage(ctx context.Context, create chat.MessageCreate) (chat.Message, error) {
	if err := create.Validate(); err != nil {
		return chat.Message{}, err
	}

	message := chat.Message{
		ID:        uuid.NewString(),
		SessionID: create.SessionID,
		Sender:    create.Sender,
		Text:      create.Text,
		Role:      create.Role,
		Timestamp: s.now(),
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, sender, message, role, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, message.ID, message.SessionID, message.Sender, message.Text, string(message.Role), message.Timestamp.UnixMilli())
	if err != nil {
		if isForeignKeyViolation(err) {
			return chat.Message{}, chatservice.ErrSessionNotFound
		}
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return message, nil
}

const messageColumns = `id, session_id, sender, message, role, timestamp`

// ListMessages pages through a transcript in chronological order.
func (s *Store) ListMessages(ctx context.Context, sessionID string, page chat.Page) ([]chat.Message, int, error) {
	if _, err := s.FindSessionOwner(ctx, sessionID); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages WHERE session_id = ?`, sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = -1
	}
	messages, err := s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE session_id = ?
		ORDER BY timestamp ASC, rowid ASC
		LIMIT ? OFFSET ?
	`, sessionID, limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// RecentMessages returns the last n messages of a transcript, oldest first.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, n int) ([]chat.Message, error) {
	messages, err := s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`, rowid AS seq FROM chat_messages
			WHERE session_id = ?
			ORDER BY timestamp DESC, rowid DESC
			LIMIT ?
		) ORDER BY timestamp ASC, seq ASC
	`, sessionID, n)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// LastMessage returns the newest message of a session, or nil when empty.
func (s *Store) LastMessage(ctx context.Context, sessionID string) (*chat.Message, error) {
	messages, err := s.RecentMessages(ctx, sessionID, 1)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return &messages[0], nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]chat.Message, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0)
	for rows.Next() {
		var (
			msg  chat.Message
			role string
			ts   int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Text, &role, &ts); err != nil {
			return nil, err
		}
		msg.Role = chat.Role(role)
		msg.Timestamp = fromMillis(ts)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (chat.Session, error) {
	var (
		session   chat.Session
		symptoms  sql.NullString
		startedAt int64
		endedAt   sql.NullInt64
	)
	if err := row.Scan(&session.ID, &session.UserID, &symptoms, &startedAt, &endedAt); err != nil {
		return chat.Session{}, err
	}
	if symptoms.Valid {
		session.SymptomsID = &symptoms.String
	}
	session.StartedAt = fromMillis(startedAt)
	if endedAt.Valid {
		ended := fromMillis(endedAt.Int64)
		session.EndedAt = &ended
	}
	return session, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
