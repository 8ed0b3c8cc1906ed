package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// HTTPAsker posts user turns to an external completion service at
// {baseURL}/chat and expects {"response": "..."} back.
type HTTPAsker struct {
	endpoint string
	client   *http.Client
	onFail   FailureHook
}

// NewHTTPAsker builds an HTTPAsker whose client gives up after timeout.
func NewHTTPAsker(baseURL string, timeout time.Duration, onFail FailureHook) *HTTPAsker {
	return &HTTPAsker{
		endpoint: strings.TrimRight(baseURL, "/") + "/chat",
		client:   &http.Client{Timeout: timeout},
		onFail:   onFail,
	}
}

// Ask implements Asker.
func (a *HTTPAsker) Ask(ctx context.Context, text, sessionID, userID string) (string, bool) {
	body, err := json.Marshal(chatRequest{Message: text, SessionID: sessionID, UserID: userID})
	if err != nil {
		return a.fail(FailureRequestSetup, "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return a.fail(FailureRequestSetup, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		var urlErr interface{ Timeout() bool }
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return a.fail(FailureNoResponse, "timeout: %v", err)
		}
		return a.fail(FailureNoResponse, "no response: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return a.fail(FailureRemote, "remote error status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return a.fail(FailureRemote, "decode response: %v", err)
	}
	if strings.TrimSpace(decoded.Response) == "" {
		return a.fail(FailureEmpty, "empty response for session=%s", sessionID)
	}

	return decoded.Response, true
}

func (a *HTTPAsker) fail(kind FailureKind, format string, args ...any) (string, bool) {
	log.Printf("[ai] %s: %s", kind, fmt.Sprintf(format, args...))
	if a.onFail != nil {
		a.onFail(kind)
	}
	return "", false
}
