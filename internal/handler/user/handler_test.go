package user

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/healthchat/backend/internal/auth"
	"github.com/healthchat/backend/internal/service/account"
	chatservice "github.com/healthchat/backend/internal/service/chat"
)

func setupRouter() (*chi.Mux, *auth.Manager) {
	tokens := auth.NewManager("secret", time.Hour)
	accounts := account.NewService(chatservice.NewMemoryStore(), tokens, bcrypt.MinCost)

	r := chi.NewRouter()
	New(accounts).RegisterRoutes(r)
	return r, tokens
}

func post(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

type authResponse struct {
	Success bool `json:"success"`
	Data    struct {
		User struct {
			ID       string `json:"id"`
			Email    string `json:"email"`
			Password string `json:"password"`
		} `json:"user"`
		Token string `json:"token"`
	} `json:"data"`
}

func TestRegisterThenLogin(t *testing.T) {
	r, tokens := setupRouter()

	resp := post(r, "/register", map[string]string{"name": "Alice", "email": "alice@example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, resp.Code)

	var registered authResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &registered))
	assert.True(t, registered.Success)
	assert.NotEmpty(t, registered.Data.User.ID)
	assert.Empty(t, registered.Data.User.Password)
	assert.NotContains(t, resp.Body.String(), "$2a$")

	identity, err := tokens.Verify(registered.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.Data.User.ID, identity.UserID)

	resp = post(r, "/login", map[string]string{"email": "alice@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestRegisterErrors(t *testing.T) {
	r, _ := setupRouter()
	require.Equal(t, http.StatusCreated, post(r, "/register", map[string]string{"name": "Alice", "email": "alice@example.com", "password": "secret1"}).Code)

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"duplicate email", map[string]string{"name": "Alice", "email": "alice@example.com", "password": "secret1"}, http.StatusConflict},
		{"short password", map[string]string{"name": "Bob", "email": "bob@example.com", "password": "123"}, http.StatusBadRequest},
		{"bad email", map[string]string{"name": "Bob", "email": "bob", "password": "secret1"}, http.StatusBadRequest},
		{"missing name", map[string]string{"email": "carol@example.com", "password": "secret1"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, post(r, "/register", tc.body).Code)
		})
	}
}

func TestLoginErrors(t *testing.T) {
	r, _ := setupRouter()
	require.Equal(t, http.StatusCreated, post(r, "/register", map[string]string{"name": "Alice", "email": "alice@example.com", "password": "secret1"}).Code)

	assert.Equal(t, http.StatusNotFound, post(r, "/login", map[string]string{"email": "nobody@example.com", "password": "secret1"}).Code)
	assert.Equal(t, http.StatusUnauthorized, post(r, "/login", map[string]string{"email": "alice@example.com", "password": "wrong-pass"}).Code)
}
