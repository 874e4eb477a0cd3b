package openaillm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"foreman/pkg/llm"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

// Client is a wrapper around the official OpenAI Go SDK
type Client struct {
	client      *openai.Client
	provider    string
	model       string
	temperature float64
}

// NewClient creates a new OpenAI client
func NewClient(provider string, apiKey string, model string, baseURL string, temperature float64) (*Client, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &Client{
		client:      &client,
		provider:    provider,
		model:       model,
		temperature: temperature,
	}, nil
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	// Transient: network-level issues
	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") {
		return true
	}

	// Transient: server-side temporary failures
	if strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "overloaded") {
		return true
	}

	// Everything else (400 Bad Request, 401 Unauthorized, etc.) is non-transient
	return false
}

// Chat implements llm.ModelClient using the Responses API.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDeclaration) (llm.Message, error) {
	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: c.convertMessages(messages),
		},
	}

	opts := []option.RequestOption{
		option.WithJSONSet("temperature", c.temperature),
	}

	if converted := c.convertTools(tools); len(converted) > 0 {
		params.Tools = converted
	}

	resp, err := c.client.Responses.New(ctx, params, opts...)
	if err != nil {
		return llm.Message{}, fmt.Errorf("openai: responses: %w", err)
	}

	reply := llm.Message{Role: llm.RoleAssistant}

	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" && part.Text != "" {
					reply.AddContentBlock(llm.NewTextBlock(part.Text))
				}
			}
		case "reasoning":
			for _, summary := range item.Summary {
				if summary.Text != "" {
					reply.AddContentBlock(llm.NewThinkingBlock(summary.Text))
				}
			}
		case "function_call":
			reply.ToolCalls = append(reply.ToolCalls, llm.ToolCall{
				ID:   item.CallID,
				Name: item.Name,
				Function: llm.FunctionCall{
					Name:      item.Name,
					Arguments: item.Arguments,
				},
			})
			slog.Debug("Tool call requested", "provider", c.provider, "name", item.Name, "args", item.Arguments)
		}
	}

	if resp.Usage.TotalTokens > 0 {
		llm.LogUsage(c.model, &llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
			StopReason:       normalizeStopReason(string(resp.Status)),
		})
	}

	return reply, nil
}

func (c *Client) convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.GetTextContent(),
				responses.EasyInputMessageRoleSystem,
			))
		case llm.RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.GetTextContent(),
				responses.EasyInputMessageRoleUser,
			))
		case llm.RoleAssistant:
			// Text content
			if text := m.GetTextContent(); text != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					text,
					responses.EasyInputMessageRoleAssistant,
				))
			}
			// Tool calls
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(
					tc.Function.Arguments,
					tc.ID,
					tc.Name,
				))
			}
		case llm.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(
				m.ToolCallID,
				m.GetTextContent(),
			))
		}
	}

	return items
}

func (c *Client) convertTools(tools []llm.ToolDeclaration) []responses.ToolUnionParam {
	var converted []responses.ToolUnionParam
	for _, t := range tools {
		converted = append(converted, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
			},
		})
	}
	return converted
}

// normalizeStopReason converts an OpenAI response status to the
// standardized lowercase format.
func normalizeStopReason(status string) string {
	switch strings.ToLower(status) {
	case "completed":
		return llm.StopReasonStop
	case "incomplete":
		return llm.StopReasonLength
	default:
		return status
	}
}
