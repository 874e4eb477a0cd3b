package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"foreman/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fileSafePattern matches characters that are unsafe in history filenames.
var fileSafePattern = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// ConversationStore holds one user's conversation histories, keyed by an
// opaque conversation key. Histories are ordered and append-only; distinct
// keys never share entries. When dir is non-empty each history is persisted
// as JSON and lazily reloaded after a restart.
type ConversationStore struct {
	dir    string
	userID string

	mu        sync.Mutex
	histories map[string][]llm.Message
	loaded    map[string]bool
}

// NewConversationStore builds a store for one user. dir may be empty, in
// which case histories live only in memory.
func NewConversationStore(dir, userID string) *ConversationStore {
	return &ConversationStore{
		dir:       dir,
		userID:    userID,
		histories: make(map[string][]llm.Message),
		loaded:    make(map[string]bool),
	}
}

// History returns a copy of the ordered entries for key.
func (s *ConversationStore) History(key string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(key)
	return append([]llm.Message(nil), s.histories[key]...)
}

// Len reports the number of entries for key.
func (s *ConversationStore) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(key)
	return len(s.histories[key])
}

// Append adds entries to the end of key's history and persists the result.
// Entries are never rewritten or reordered once appended.
func (s *ConversationStore) Append(key string, msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(key)
	s.histories[key] = append(s.histories[key], msgs...)
	s.save(key)
}

// load pulls a persisted history into memory on first access. Callers hold mu.
func (s *ConversationStore) load(key string) {
	if s.loaded[key] {
		return
	}
	s.loaded[key] = true

	if s.dir == "" {
		return
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return // no persisted history yet
	}
	var msgs []llm.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		slog.Warn("Discarding corrupt conversation history", "user", s.userID, "conversation", key, "error", err)
		return
	}
	s.histories[key] = msgs
}

// save writes key's history to disk. Callers hold mu.
func (s *ConversationStore) save(key string) {
	if s.dir == "" {
		return
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		slog.Warn("Failed to create history directory", "dir", s.dir, "error", err)
		return
	}
	data, err := json.MarshalIndent(s.histories[key], "", "  ")
	if err != nil {
		slog.Warn("Failed to encode conversation history", "conversation", key, "error", err)
		return
	}
	if err := os.WriteFile(s.path(key), data, 0o644); err != nil {
		slog.Warn("Failed to persist conversation history", "conversation", key, "error", err)
	}
}

func (s *ConversationStore) path(key string) string {
	name := fmt.Sprintf("%s__%s.json",
		fileSafePattern.ReplaceAllString(s.userID, "_"),
		fileSafePattern.ReplaceAllString(key, "_"))
	return filepath.Join(s.dir, name)
}
