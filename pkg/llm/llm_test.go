package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient returns canned outcomes in order and records call counts.
type scriptedClient struct {
	replies   []Message
	errs      []error
	transient bool
	calls     int
}

func (c *scriptedClient) Chat(ctx context.Context, messages []Message, tools []ToolDeclaration) (Message, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return Message{}, c.errs[i]
	}
	if i < len(c.replies) {
		return c.replies[i], nil
	}
	return NewTextMessage(RoleAssistant, "ok"), nil
}

func (c *scriptedClient) IsTransientError(err error) bool {
	return c.transient
}

func TestFallbackClientRetriesTransientThenSucceeds(t *testing.T) {
	client := &scriptedClient{
		errs:      []error{errors.New("503 service unavailable"), nil},
		replies:   []Message{{}, NewTextMessage(RoleAssistant, "recovered")},
		transient: true,
	}
	fb := &FallbackClient{Clients: []ModelClient{client}, MaxRetries: 3}

	reply, err := fb.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)

	require.NoError(t, err)
	assert.Equal(t, "recovered", reply.GetTextContent())
	assert.Equal(t, 2, client.calls)
}

func TestFallbackClientMovesToNextProviderOnHardError(t *testing.T) {
	broken := &scriptedClient{errs: []error{errors.New("401 unauthorized")}}
	healthy := &scriptedClient{replies: []Message{NewTextMessage(RoleAssistant, "from backup")}}
	fb := &FallbackClient{Clients: []ModelClient{broken, healthy}, MaxRetries: 3}

	reply, err := fb.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)

	require.NoError(t, err)
	assert.Equal(t, "from backup", reply.GetTextContent())
	assert.Equal(t, 1, broken.calls, "hard errors must not be retried")
	assert.Equal(t, 1, healthy.calls)
}

func TestFallbackClientAllProvidersFail(t *testing.T) {
	a := &scriptedClient{errs: []error{errors.New("boom")}}
	b := &scriptedClient{errs: []error{errors.New("bang")}}
	fb := &FallbackClient{Clients: []ModelClient{a, b}, MaxRetries: 1}

	_, err := fb.Chat(context.Background(), []Message{NewUserMessage("hi")}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bang")
	assert.False(t, fb.IsTransientError(err))
}

func TestNewToolResultMessage(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "send_email", Function: FunctionCall{Name: "send_email", Arguments: "{}"}}

	okMsg := NewToolResultMessage(call, "sent", false)
	assert.Equal(t, RoleTool, okMsg.Role)
	assert.Equal(t, "c1", okMsg.ToolCallID)
	assert.Equal(t, "send_email", okMsg.ToolName)
	assert.False(t, okMsg.IsError)
	assert.Equal(t, "sent", okMsg.GetTextContent())

	errMsg := NewToolResultMessage(call, `{"error": "nope"}`, true)
	assert.True(t, errMsg.IsError)
}

func TestGetTextContentSkipsThinking(t *testing.T) {
	msg := Message{Role: RoleAssistant}
	msg.AddContentBlock(NewThinkingBlock("pondering"))
	msg.AddContentBlock(NewTextBlock("hello "))
	msg.AddContentBlock(NewTextBlock("world"))

	assert.Equal(t, "hello world", msg.GetTextContent())
}
