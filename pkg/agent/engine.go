package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"foreman/pkg/api"
	"foreman/pkg/config"
	"foreman/pkg/llm"
	"foreman/pkg/utils"
)

// fallbackReply is returned when the final model reply carries no text.
const fallbackReply = "I apologize, but I couldn't generate a response."

// Engine drives the orchestration loop for one user: call the model, dispatch
// any requested tool calls through the pool, feed the results back, and repeat
// until the model stops asking for tools or the round ceiling is hit.
type Engine struct {
	userID string
	client llm.ModelClient
	pool   *SessionPool
	store  *ConversationStore

	sys          *config.SystemConfig
	planTool     string
	systemPrompt string

	// decls caches the published declarations after the first non-empty
	// population; the set is immutable once servers are connected. Guarded by
	// declsMu: conversations of one user may run concurrently.
	declsMu sync.Mutex
	decls   []llm.ToolDeclaration
}

// NewEngine builds an engine for one user over an already-initialized pool.
func NewEngine(userID string, client llm.ModelClient, pool *SessionPool, cfg *config.Config, sys *config.SystemConfig) *Engine {
	return &Engine{
		userID:       userID,
		client:       client,
		pool:         pool,
		store:        NewConversationStore(sys.HistoryDir, userID),
		sys:          sys,
		planTool:     cfg.PlanTool,
		systemPrompt: cfg.SystemPrompt,
	}
}

// Store exposes the engine's conversation store.
func (e *Engine) Store() *ConversationStore {
	return e.store
}

// Chat runs one full orchestration turn on the conversation identified by
// convKey. Tool-level failures never surface as an error here; they are fed
// back into the conversation as failed tool results. Only model-level failure
// (every provider exhausted) or context cancellation returns an error.
func (e *Engine) Chat(ctx context.Context, convKey, message, contextText string) (*api.ChatResult, error) {
	if e.sys.ModelTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.sys.ModelTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	e.store.Append(convKey, llm.NewUserMessage(e.buildPrompt(convKey, message, contextText)))

	decls := e.declarations()

	var lastReply llm.Message
	var plan *string
	rounds := 0

	for {
		reply, err := e.client.Chat(ctx, e.store.History(convKey), decls)
		if err != nil {
			return nil, fmt.Errorf("agent: model call: %w", err)
		}

		// Some providers omit call IDs; assign them here so tool results stay
		// linked to their requests in history.
		for i := range reply.ToolCalls {
			if reply.ToolCalls[i].ID == "" {
				reply.ToolCalls[i].ID = utils.GenerateID()
			}
		}

		// The reply lands in history verbatim, requested calls included,
		// before anything is dispatched. History always reflects exactly what
		// the model asked for, independent of dispatch outcome.
		e.store.Append(convKey, reply)
		lastReply = reply

		if len(reply.ToolCalls) == 0 {
			break
		}
		if rounds >= e.sys.MaxToolRounds {
			slog.Warn("Tool round ceiling reached, returning best-available text",
				"user", e.userID, "conversation", convKey, "rounds", rounds)
			break
		}
		rounds++

		for _, call := range reply.ToolCalls {
			result, capturedPlan := e.dispatch(ctx, call)
			if capturedPlan != nil {
				plan = capturedPlan
			}
			e.store.Append(convKey, result)
		}
	}

	text := lastReply.GetTextContent()
	if strings.TrimSpace(text) == "" {
		text = fallbackReply
	}

	return &api.ChatResult{Text: text, Plan: plan, Rounds: rounds}, nil
}

// dispatch runs one tool call and converts any failure into a failed tool
// result entry. It never aborts the remaining calls of the round. The second
// return value is the captured plan content when the call is a successful
// plan-tool invocation.
func (e *Engine) dispatch(ctx context.Context, call llm.ToolCall) (llm.Message, *string) {
	args := map[string]any{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return e.failedResult(call, fmt.Sprintf("invalid tool arguments: %v", err)), nil
		}
	}

	session, err := e.pool.Resolve(ctx, call.Name, e.userID)
	if err != nil {
		return e.failedResult(call, err.Error()), nil
	}

	slog.Debug("Dispatching tool call", "user", e.userID, "tool", call.Name)

	result, err := session.CallTool(ctx, call.Name, args)
	if err != nil {
		return e.failedResult(call, err.Error()), nil
	}
	if result.IsError {
		return e.failedResult(call, result.Text()), nil
	}

	var plan *string
	if call.Name == e.planTool {
		if content, ok := args["plan_content"].(string); ok {
			plan = &content
		}
	}

	return llm.NewToolResultMessage(call, result.Text(), false), plan
}

// failedResult wraps a dispatch failure as a structured error payload the
// model can read on the next round.
func (e *Engine) failedResult(call llm.ToolCall, msg string) llm.Message {
	payload, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		payload = []byte(`{"error": "tool call failed"}`)
	}
	slog.Warn("Tool call failed", "user", e.userID, "tool", call.Name, "error", msg)
	return llm.NewToolResultMessage(call, string(payload), true)
}

// buildPrompt synthesizes the next user entry. The first turn of a
// conversation embeds the current date, the configured persona, and the
// caller-supplied context; later turns carry only updated context plus the
// message, leaving prior entries untouched.
func (e *Engine) buildPrompt(convKey, message, contextText string) string {
	var b strings.Builder

	if e.store.Len(convKey) == 0 {
		fmt.Fprintf(&b, "Today's date is %s.\n\n", time.Now().Format("Monday, January 2, 2006"))
		if e.systemPrompt != "" {
			b.WriteString(e.systemPrompt)
			b.WriteString("\n\n")
		}
	}

	if contextText != "" {
		fmt.Fprintf(&b, "Context:\n%s\n\n", contextText)
	}
	fmt.Fprintf(&b, "User request: %s", message)

	return b.String()
}

// declarations returns the published tool set, caching it after the first
// non-empty population.
func (e *Engine) declarations() []llm.ToolDeclaration {
	if !e.sys.EnableTools {
		return nil
	}
	e.declsMu.Lock()
	defer e.declsMu.Unlock()
	if len(e.decls) == 0 {
		e.decls = e.pool.Descriptors()
	}
	return e.decls
}
