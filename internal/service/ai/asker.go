package ai

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Asker forwards one user turn to a completion backend. ok is false when no
// usable answer came back, whatever the reason.
type Asker interface {
	Ask(ctx context.Context, text, sessionID, userID string) (reply string, ok bool)
}

// AskerFunc adapts a plain function to Asker.
type AskerFunc func(ctx context.Context, text, sessionID, userID string) (string, bool)

// Ask calls f.
func (f AskerFunc) Ask(ctx context.Context, text, sessionID, userID string) (string, bool) {
	return f(ctx, text, sessionID, userID)
}

// FailureKind classifies why a backend produced no answer. Callers only see
// ok=false; the kind exists for logs and metrics.
type FailureKind string

const (
	FailureRemote       FailureKind = "remote_error"
	FailureNoResponse   FailureKind = "no_response"
	FailureRequestSetup FailureKind = "request_setup"
	FailureTimeout      FailureKind = "timeout"
	FailureEmpty        FailureKind = "empty"
)

// FailureHook observes backend failures.
type FailureHook func(kind FailureKind)

// Disabled never answers. Used when no backend is configured.
type Disabled struct{}

// Ask always reports no answer.
func (Disabled) Ask(context.Context, string, string, string) (string, bool) {
	return "", false
}

var tracer = otel.Tracer("github.com/healthchat/backend/internal/service/ai")

type boundedAsker struct {
	next    Asker
	timeout time.Duration
	onFail  FailureHook
}

// WithTimeout bounds every Ask on next to timeout of wall-clock time. When
// the bound expires the call reports no answer even if next has not returned
// yet; next keeps its cancelled context and its result is discarded.
func WithTimeout(next Asker, timeout time.Duration, onFail FailureHook) Asker {
	return &boundedAsker{next: next, timeout: timeout, onFail: onFail}
}

type askResult struct {
	reply string
	ok    bool
}

func (b *boundedAsker) Ask(ctx context.Context, text, sessionID, userID string) (string, bool) {
	ctx, span := tracer.Start(ctx, "ai.ask", trace.WithAttributes(
		attribute.String("chat.session_id", sessionID),
		attribute.Int("ai.query_length", len(text)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan askResult, 1)
	go func() {
		reply, ok := b.next.Ask(ctx, text, sessionID, userID)
		done <- askResult{reply: reply, ok: ok}
	}()

	select {
	case res := <-done:
		span.SetAttributes(attribute.Bool("ai.answered", res.ok))
		return res.reply, res.ok
	case <-ctx.Done():
		log.Printf("[ai] no answer within %s for session=%s", b.timeout, sessionID)
		span.SetStatus(codes.Error, "timeout")
		if b.onFail != nil {
			b.onFail(FailureTimeout)
		}
		return "", false
	}
}
