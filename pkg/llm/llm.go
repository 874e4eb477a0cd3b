package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json handles all JSON processing inside package llm via json-iterator.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ToolDeclaration is the normalized description of one callable tool as
// published to the model: a unique name, a prose description, and a
// JSON-schema-subset parameter object (see CleanSchema).
type ToolDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage carries normalized token accounting for one model call.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	StopReason       string `json:"stop_reason,omitempty"`
}

// ModelClient is the provider-neutral interface to a generative completion
// service. Chat submits the full ordered history plus the published tool
// declarations and returns the model's reply, including any requested tool
// calls, exactly as the model produced them.
type ModelClient interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDeclaration) (Message, error)

	// IsTransientError reports whether an error is worth retrying
	// (e.g., 503, rate limit).
	IsTransientError(err error) bool
}

// LogUsage emits one normalized usage record.
func LogUsage(model string, usage *Usage) {
	if usage == nil {
		return
	}
	slog.Debug("Model usage",
		"model", model,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"total_tokens", usage.TotalTokens,
		"stop_reason", usage.StopReason,
	)
}

// FallbackClient tries multiple clients in priority order, retrying each on
// transient failures before moving to the next.
type FallbackClient struct {
	Clients    []ModelClient
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) Chat(ctx context.Context, messages []Message, tools []ToolDeclaration) (Message, error) {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.Warn("Previous provider failed, trying fallback provider", "provider", i+1)
		}

		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				select {
				case <-ctx.Done():
					return Message{}, ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			reply, err := client.Chat(ctx, messages, tools)
			if err == nil {
				return reply, nil
			}

			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				slog.Warn("Provider failed with transient error, retrying",
					"provider", i+1, "attempt", retry, "error", err)
				continue
			}

			slog.Error("Provider failed", "provider", i+1, "error", err)
			break
		}
	}
	return Message{}, fmt.Errorf("all fallback providers failed. Last error: %v", lastErr)
}

// IsTransientError implements ModelClient. A FallbackClient error means every
// child already exhausted its retries, so it is treated as non-transient.
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}
