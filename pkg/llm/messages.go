package llm

import "time"

//----------------------------------------------------------------
// Message - provider-neutral conversation entry
//----------------------------------------------------------------

// Message represents one conversation entry. A conversation history is an
// ordered, append-only sequence of Messages; entries are never rewritten
// or deduplicated once appended.
type Message struct {
	Role      string         `json:"role"` // "user", "assistant", "system", "tool"
	Content   []ContentBlock `json:"content"`
	Timestamp int64          `json:"timestamp,omitempty"`

	// ToolCalls holds the tool invocations requested by the model
	// (only valid for role "assistant").
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-result entry to the call that produced it
	// (only valid for role "tool").
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolName is the name of the tool that produced this result
	// (only valid for role "tool").
	ToolName string `json:"tool_name,omitempty"`
	// IsError marks a tool-result entry whose invocation failed. The entry
	// still participates in the history; it is never dropped.
	IsError bool `json:"is_error,omitempty"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the concrete tool name and its argument payload.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object string
}

//----------------------------------------------------------------
// ContentBlock
//----------------------------------------------------------------

// ContentBlock represents one content block inside a message.
// Supported types: text, thinking, error.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

//----------------------------------------------------------------
// Helper Functions - Message
//----------------------------------------------------------------

// NewTextMessage builds a plain text message with the given role.
func NewTextMessage(role, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{{
			Type: BlockTypeText,
			Text: text,
		}},
		Timestamp: time.Now().Unix(),
	}
}

// NewSystemMessage builds a system message.
func NewSystemMessage(text string) Message {
	return NewTextMessage(RoleSystem, text)
}

// NewUserMessage builds a user message.
func NewUserMessage(text string) Message {
	return NewTextMessage(RoleUser, text)
}

// NewToolResultMessage builds a tool-result entry for the given call.
func NewToolResultMessage(call ToolCall, text string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    isError,
		Content: []ContentBlock{{
			Type: BlockTypeText,
			Text: text,
		}},
		Timestamp: time.Now().Unix(),
	}
}

// AddContentBlock appends a content block to the message.
func (m *Message) AddContentBlock(block ContentBlock) {
	m.Content = append(m.Content, block)
}

// GetTextContent extracts all plain text content (excluding thinking).
func (m *Message) GetTextContent() string {
	var result string
	for _, block := range m.Content {
		if block.Type == BlockTypeText {
			result += block.Text
		}
	}
	return result
}

// NewTextBlock builds a text block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeText,
		Text: text,
	}
}

// NewThinkingBlock builds a thinking block.
func NewThinkingBlock(text string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeThinking,
		Text: text,
	}
}

// NewErrorBlock builds an error block.
func NewErrorBlock(text string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeError,
		Text: text,
	}
}
