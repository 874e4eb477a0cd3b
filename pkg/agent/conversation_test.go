package agent

import (
	"os"
	"path/filepath"
	"testing"

	"foreman/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationStoreAppendOnlyOrder(t *testing.T) {
	store := NewConversationStore("", "alice")

	store.Append("proj-1", llm.NewUserMessage("first"))
	store.Append("proj-1", llm.NewTextMessage(llm.RoleAssistant, "second"), llm.NewUserMessage("third"))

	history := store.History("proj-1")
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].GetTextContent())
	assert.Equal(t, "second", history[1].GetTextContent())
	assert.Equal(t, "third", history[2].GetTextContent())
}

func TestConversationStoreDisjointKeys(t *testing.T) {
	store := NewConversationStore("", "alice")

	store.Append("proj-a", llm.NewUserMessage("for a"))
	store.Append("proj-b", llm.NewUserMessage("for b"))

	assert.Equal(t, 1, store.Len("proj-a"))
	assert.Equal(t, 1, store.Len("proj-b"))
	assert.Equal(t, "for a", store.History("proj-a")[0].GetTextContent())
	assert.Equal(t, "for b", store.History("proj-b")[0].GetTextContent())
}

func TestConversationStoreHistoryIsACopy(t *testing.T) {
	store := NewConversationStore("", "alice")
	store.Append("proj-1", llm.NewUserMessage("original"))

	history := store.History("proj-1")
	_ = append(history, llm.NewUserMessage("sneaky"))

	assert.Equal(t, 1, store.Len("proj-1"))
}

func TestConversationStorePersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	store := NewConversationStore(dir, "alice")
	msg := llm.NewUserMessage("remember me")
	store.Append("proj-1", msg, llm.NewTextMessage(llm.RoleAssistant, "noted"))

	// A fresh store (as after a restart) lazily reloads from disk.
	reloaded := NewConversationStore(dir, "alice")
	history := reloaded.History("proj-1")
	require.Len(t, history, 2)
	assert.Equal(t, "remember me", history[0].GetTextContent())
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
}

func TestConversationStoreSanitizesFilenames(t *testing.T) {
	dir := t.TempDir()

	store := NewConversationStore(dir, "user@example.com")
	store.Append("proj/1:alpha", llm.NewUserMessage("hello"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "user_example.com__proj_1_alpha.json", entries[0].Name())
}

func TestConversationStoreCorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice__proj-1.json"), []byte("{broken"), 0o644))

	store := NewConversationStore(dir, "alice")
	assert.Equal(t, 0, store.Len("proj-1"))

	store.Append("proj-1", llm.NewUserMessage("fresh start"))
	assert.Equal(t, 1, store.Len("proj-1"))
}
