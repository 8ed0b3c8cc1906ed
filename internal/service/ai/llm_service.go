package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/healthchat/backend/internal/analysis/triage"
	"github.com/healthchat/backend/internal/model/chat"
)

// HistoryLoader reads the latest turns of a session.
type HistoryLoader interface {
	RecentMessages(ctx context.Context, sessionID string, n int) ([]chat.Message, error)
}

// ChatAsker answers user turns through an eino chat model chain.
type ChatAsker struct {
	chatModel    model.BaseChatModel
	history      HistoryLoader
	historyLimit int
	chain        compose.Runnable[map[string]any, *schema.Message]
	onFail       FailureHook
}

// NewChatAsker compiles the prompt chain around chatModel. history may be
// nil, in which case only the current turn is sent.
func NewChatAsker(ctx context.Context, chatModel model.BaseChatModel, history HistoryLoader, historyLimit int, onFail FailureHook) (*ChatAsker, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChatAsker{
		chatModel:    chatModel,
		history:      history,
		historyLimit: historyLimit,
		chain:        runnable,
		onFail:       onFail,
	}, nil
}

// Ask implements Asker.
func (a *ChatAsker) Ask(ctx context.Context, text, sessionID, userID string) (string, bool) {
	assessment := triage.Assess(text)
	system := SystemPrompt()
	if guidance := assessment.Guidance(); guidance != "" {
		system += "\n\nTriage note: " + guidance
		log.Printf("[ai] triage level=%s session=%s", assessment.Level, sessionID)
	}

	input := map[string]any{
		"system":  system,
		"history": a.buildHistoryMessages(ctx, sessionID, text),
		"query":   text,
	}

	response, err := a.chain.Invoke(ctx, input)
	if err != nil {
		kind := FailureRemote
		if ctx.Err() != nil {
			kind = FailureNoResponse
		}
		return a.fail(kind, "chain invoke failed for session=%s: %v", sessionID, err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return a.fail(FailureEmpty, "empty completion for session=%s", sessionID)
	}

	log.Printf("[ai] generated response for session=%s user=%s length=%d", sessionID, userID, len(response.Content))
	return response.Content, true
}

// buildHistoryMessages maps stored turns to model messages. The current
// user turn is usually already persisted; it is dropped from the history
// because the template appends it as the query.
func (a *ChatAsker) buildHistoryMessages(ctx context.Context, sessionID, query string) []*schema.Message {
	if a.history == nil || a.historyLimit <= 0 {
		return nil
	}

	messages, err := a.history.RecentMessages(ctx, sessionID, a.historyLimit+1)
	if err != nil {
		log.Printf("[ai] load history for session=%s failed: %v", sessionID, err)
		return nil
	}

	if n := len(messages); n > 0 && messages[n-1].Role == chat.RoleUser && messages[n-1].Text == query {
		messages = messages[:n-1]
	}
	if len(messages) > a.historyLimit {
		messages = messages[len(messages)-a.historyLimit:]
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Text))
		case chat.RoleBot:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}

func (a *ChatAsker) fail(kind FailureKind, format string, args ...any) (string, bool) {
	log.Printf("[ai] %s: %s", kind, fmt.Sprintf(format, args...))
	if a.onFail != nil {
		a.onFail(kind)
	}
	return "", false
}
