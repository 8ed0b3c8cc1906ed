package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type failureRecorder struct {
	mu    sync.Mutex
	kinds []FailureKind
}

func (r *failureRecorder) hook(kind FailureKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *failureRecorder) last() FailureKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.kinds) == 0 {
		return ""
	}
	return r.kinds[len(r.kinds)-1]
}

func TestHTTPAskerSuccess(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(chatResponse{Response: "drink water"})
	}))
	defer srv.Close()

	asker := NewHTTPAsker(srv.URL+"/", time.Second, nil)
	reply, ok := asker.Ask(context.Background(), "headache", "s-1", "u-1")

	assert.True(t, ok)
	assert.Equal(t, "drink water", reply)
	assert.Equal(t, chatRequest{Message: "headache", SessionID: "s-1", UserID: "u-1"}, got)
}

func TestHTTPAskerFailuresCollapseToNone(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    FailureKind
	}{
		{"remote error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}, FailureRemote},
		{"empty response", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"response":""}`))
		}, FailureEmpty},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}, FailureRemote},
		{"slow backend", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
			w.Write([]byte(`{"response":"late"}`))
		}, FailureNoResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			rec := &failureRecorder{}
			asker := NewHTTPAsker(srv.URL, 50*time.Millisecond, rec.hook)
			reply, ok := asker.Ask(context.Background(), "hi", "s-1", "u-1")

			assert.False(t, ok)
			assert.Empty(t, reply)
			assert.Equal(t, tc.want, rec.last())
		})
	}
}

func TestHTTPAskerRequestSetupFailure(t *testing.T) {
	rec := &failureRecorder{}
	asker := NewHTTPAsker("://bad-url", time.Second, rec.hook)

	_, ok := asker.Ask(context.Background(), "hi", "s-1", "u-1")
	assert.False(t, ok)
	assert.Equal(t, FailureRequestSetup, rec.last())
}

func TestHTTPAskerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &failureRecorder{}
	_, ok := NewHTTPAsker(url, time.Second, rec.hook).Ask(context.Background(), "hi", "s-1", "u-1")
	assert.False(t, ok)
	assert.Equal(t, FailureNoResponse, rec.last())
}

func TestWithTimeoutBoundsSlowBackend(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	slow := AskerFunc(func(ctx context.Context, text, sessionID, userID string) (string, bool) {
		<-release
		return "too late", true
	})

	rec := &failureRecorder{}
	bounded := WithTimeout(slow, 30*time.Millisecond, rec.hook)

	start := time.Now()
	reply, ok := bounded.Ask(context.Background(), "hi", "s-1", "u-1")

	assert.False(t, ok)
	assert.Empty(t, reply)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, FailureTimeout, rec.last())
}

func TestWithTimeoutPassesAnswers(t *testing.T) {
	fast := AskerFunc(func(ctx context.Context, text, sessionID, userID string) (string, bool) {
		return "echo: " + text, true
	})

	reply, ok := WithTimeout(fast, time.Second, nil).Ask(context.Background(), "hi", "s-1", "u-1")
	assert.True(t, ok)
	assert.Equal(t, "echo: hi", reply)
}

func TestDisabledNeverAnswers(t *testing.T) {
	_, ok := Disabled{}.Ask(context.Background(), "hi", "s-1", "u-1")
	assert.False(t, ok)
}
