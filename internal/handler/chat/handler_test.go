package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/healthchat/backend/internal/auth"
	"github.com/healthchat/backend/internal/middleware"
	"github.com/healthchat/backend/internal/model/chat"
	chatservice "github.com/healthchat/backend/internal/service/chat"
)

type recordingPoster struct {
	store  *chatservice.MemoryStore
	posted []chat.MessageCreate
}

func (p *recordingPoster) PostToSession(ctx context.Context, message chat.MessageCreate) (chat.Message, error) {
	p.posted = append(p.posted, message)
	return p.store.CreateMessage(ctx, message)
}

func setupRouter() (*chi.Mux, *chatservice.MemoryStore, *recordingPoster) {
	store := chatservice.NewMemoryStore()
	poster := &recordingPoster{store: store}
	handler := New(store, poster)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, store, poster
}

// as attaches an authenticated caller the way RequireAuth does.
func as(req *http.Request, userID string) *http.Request {
	ctx := middleware.WithIdentity(req.Context(), auth.Identity{UserID: userID, Email: userID + "@example.com"})
	return req.WithContext(ctx)
}

func do(r http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, as(req, userID))
	return resp
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v (%s)", err, resp.Body.String())
	}
	if data != nil {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

func TestCreateSessionWithoutBody(t *testing.T) {
	r, _, _ := setupRouter()

	resp := do(r, http.MethodPost, "/sessions", "user-1", nil)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	var session chat.Session
	env := decode(t, resp, &session)
	if !env.Success || session.UserID != "user-1" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestCreateSessionInvalidSymptomsID(t *testing.T) {
	r, _, _ := setupRouter()

	resp := do(r, http.MethodPost, "/sessions", "user-1", map[string]string{"symptomsId": "not-a-uuid"})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestListSessionsPaginatesWithPreview(t *testing.T) {
	r, store, _ := setupRouter()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		session, _ := store.CreateSession(ctx, "user-1", nil)
		store.CreateMessage(ctx, chat.MessageCreate{SessionID: session.ID, Sender: "alice", Text: "hi", Role: chat.RoleUser})
	}
	store.CreateSession(ctx, "user-2", nil)

	resp := do(r, http.MethodGet, "/sessions?limit=2", "user-1", nil)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var data struct {
		Sessions   []chat.SessionSummary `json:"sessions"`
		Pagination chat.Pagination       `json:"pagination"`
	}
	decode(t, resp, &data)
	if len(data.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(data.Sessions))
	}
	if data.Sessions[0].LastMessage == nil || data.Sessions[0].LastMessage.Text != "hi" {
		t.Fatalf("expected last message preview, got %+v", data.Sessions[0].LastMessage)
	}
	if data.Pagination.Total != 3 || !data.Pagination.HasMore {
		t.Fatalf("unexpected pagination: %+v", data.Pagination)
	}
}

func TestGetSessionHidesForeignSessions(t *testing.T) {
	r, store, _ := setupRouter()
	session, _ := store.CreateSession(context.Background(), "user-1", nil)

	if resp := do(r, http.MethodGet, "/sessions/"+session.ID, "user-2", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign session, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/sessions/"+session.ID, "user-1", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", resp.Code)
	}
}

func TestEndSessionTwice(t *testing.T) {
	r, store, _ := setupRouter()
	session, _ := store.CreateSession(context.Background(), "user-1", nil)

	resp := do(r, http.MethodPut, "/sessions/"+session.ID+"/end", "user-1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var ended chat.Session
	decode(t, resp, &ended)
	if ended.EndedAt == nil {
		t.Fatal("expected endedAt to be set")
	}

	if resp := do(r, http.MethodPut, "/sessions/"+session.ID+"/end", "user-1", nil); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestCreateMessagePostsToRelay(t *testing.T) {
	r, store, poster := setupRouter()
	session, _ := store.CreateSession(context.Background(), "user-1", nil)

	resp := do(r, http.MethodPost, "/messages", "user-1", map[string]string{
		"sessionId": session.ID,
		"sender":    "alice",
		"message":   "I feel dizzy",
		"role":      "USER",
	})

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(poster.posted) != 1 || poster.posted[0].Text != "I feel dizzy" {
		t.Fatalf("expected message to go through the relay, got %+v", poster.posted)
	}
}

func TestCreateMessageRejectsForeignSession(t *testing.T) {
	r, store, poster := setupRouter()
	session, _ := store.CreateSession(context.Background(), "user-1", nil)

	resp := do(r, http.MethodPost, "/messages", "user-2", map[string]string{
		"sessionId": session.ID,
		"sender":    "mallory",
		"message":   "hi",
		"role":      "USER",
	})

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if len(poster.posted) != 0 {
		t.Fatal("foreign message must not be posted")
	}
}

func TestCreateMessageValidation(t *testing.T) {
	r, store, _ := setupRouter()
	session, _ := store.CreateSession(context.Background(), "user-1", nil)

	resp := do(r, http.MethodPost, "/messages", "user-1", map[string]string{
		"sessionId": session.ID,
		"sender":    "alice",
		"message":   "hi",
		"role":      "ADMIN",
	})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if env := decode(t, resp, nil); env.Error != "Validation failed" {
		t.Fatalf("unexpected error %q", env.Error)
	}
}

func TestListMessagesDefaultsToAscending(t *testing.T) {
	r, store, _ := setupRouter()
	ctx := context.Background()
	session, _ := store.CreateSession(ctx, "user-1", nil)
	for _, text := range []string{"first", "second"} {
		store.CreateMessage(ctx, chat.MessageCreate{SessionID: session.ID, Sender: "alice", Text: text, Role: chat.RoleUser})
	}

	resp := do(r, http.MethodGet, "/sessions/"+session.ID+"/messages", "user-1", nil)

	var data struct {
		Messages   []chat.Message  `json:"messages"`
		Pagination chat.Pagination `json:"pagination"`
	}
	decode(t, resp, &data)
	if len(data.Messages) != 2 || data.Messages[0].Text != "first" {
		t.Fatalf("unexpected messages: %+v", data.Messages)
	}
	if data.Pagination.Limit != 50 || data.Pagination.HasMore {
		t.Fatalf("unexpected pagination: %+v", data.Pagination)
	}
}
