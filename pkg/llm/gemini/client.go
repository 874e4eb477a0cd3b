package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"foreman/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GeminiClient Google Gemini API client
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float64
}

// NewGeminiClient creates a Gemini client with a single model and API key
func NewGeminiClient(apiKey string, model string, temperature float64) (*GeminiClient, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		temperature: temperature,
	}, nil
}

func (g *GeminiClient) Provider() string {
	return "gemini"
}

// Chat implements llm.ModelClient.
func (g *GeminiClient) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDeclaration) (llm.Message, error) {
	apiMessages, systemInstruction := g.convertMessages(messages)

	var genaiTools []*genai.Tool
	if len(tools) > 0 {
		var fds []*genai.FunctionDeclaration
		for _, t := range tools {
			fd := &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
			}
			if len(t.Parameters) > 0 {
				schemaB, _ := json.Marshal(t.Parameters)
				var schema genai.Schema
				if err := json.Unmarshal(schemaB, &schema); err != nil {
					slog.Warn("Skipping unparseable tool schema", "tool", t.Name, "error", err)
				} else {
					fd.Parameters = &schema
				}
			}
			fds = append(fds, fd)
		}
		genaiTools = append(genaiTools, &genai.Tool{
			FunctionDeclarations: fds,
		})
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, apiMessages, &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		Tools:             genaiTools,
		Temperature:       genai.Ptr(float32(g.temperature)),
	})
	if err != nil {
		return llm.Message{}, fmt.Errorf("gemini: generate content: %w", err)
	}

	reply := llm.Message{Role: llm.RoleAssistant}

	if resp.UsageMetadata != nil {
		u := resp.UsageMetadata
		usage := &llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
			usage.StopReason = normalizeStopReason(string(resp.Candidates[0].FinishReason))
		}
		llm.LogUsage(g.model, usage)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return reply, nil
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			if part.Thought {
				reply.AddContentBlock(llm.NewThinkingBlock(part.Text))
			} else {
				reply.AddContentBlock(llm.NewTextBlock(part.Text))
			}
		}

		if part.FunctionCall != nil {
			argsB, _ := json.Marshal(part.FunctionCall.Args)
			reply.ToolCalls = append(reply.ToolCalls, llm.ToolCall{
				// Gemini does not assign call IDs; the orchestrator fills one in.
				Name: part.FunctionCall.Name,
				Function: llm.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(argsB),
				},
			})
			slog.Debug("Tool call requested", "provider", "gemini", "name", part.FunctionCall.Name, "args", string(argsB))
		}
	}

	return reply, nil
}

// convertMessages converts the neutral message list to GenAI format.
func (g *GeminiClient) convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var genaiContents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			// System role becomes the SystemInstruction
			var parts []*genai.Part
			for _, block := range msg.Content {
				if block.Type == llm.BlockTypeText && block.Text != "" {
					parts = append(parts, &genai.Part{Text: block.Text})
				}
			}
			if len(parts) > 0 {
				systemInstruction = &genai.Content{Parts: parts}
			}
			continue
		}

		if msg.Role == llm.RoleTool {
			// Tool results travel in the user role for Gemini
			response := map[string]any{"result": msg.GetTextContent()}
			if msg.IsError {
				response = map[string]any{"error": msg.GetTextContent()}
			}
			genaiContents = append(genaiContents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{
					{
						FunctionResponse: &genai.FunctionResponse{
							Name:     msg.ToolName,
							Response: response,
						},
					},
				},
			})
			continue
		}

		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "model"
		}

		var parts []*genai.Part
		// Gemini requires the requested calls to be echoed back before their responses
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			json.Unmarshal([]byte(tc.Function.Arguments), &args)
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Function.Name,
					Args: args,
				},
			})
		}

		for _, block := range msg.Content {
			switch block.Type {
			case llm.BlockTypeText:
				if block.Text == "" {
					continue
				}
				parts = append(parts, &genai.Part{Text: block.Text})

			case llm.BlockTypeThinking:
				if block.Text == "" {
					continue
				}
				parts = append(parts, &genai.Part{
					Text:    block.Text,
					Thought: true,
				})
			}
		}

		if len(parts) > 0 {
			genaiContents = append(genaiContents, &genai.Content{
				Role:  role,
				Parts: parts,
			})
		}
	}

	return genaiContents, systemInstruction
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "STOP":
		return llm.StopReasonStop
	case "MAX_TOKENS", "FINISH_REASON_MAX_TOKENS":
		return llm.StopReasonLength
	default:
		return reason
	}
}

// IsTransientError implements the llm.ModelClient interface
func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()

	// 1. Google API common 503 Service Unavailable / Overloaded
	if strings.Contains(errMsg, "503") || strings.Contains(strings.ToLower(errMsg), "overloaded") {
		return true
	}

	// 2. 429 Too Many Requests (Rate Limit)
	if strings.Contains(errMsg, "429") || strings.Contains(strings.ToLower(errMsg), "resource exhausted") {
		return true
	}

	// 3. 500 Internal Error (Occasional Google Gemini crashes)
	if strings.Contains(errMsg, "500") || strings.Contains(strings.ToLower(errMsg), "internal error") {
		return true
	}

	return false
}
