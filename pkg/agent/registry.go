package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"foreman/pkg/api"
	"foreman/pkg/config"
	"foreman/pkg/llm"
)

type agentEntry struct {
	once   sync.Once
	engine *Engine
	err    error
}

// Registry maps user identity to an engine, creating each one lazily on
// first use with full session-pool initialization. It is the authoritative
// owner of every engine and of the process-wide session pool. Concurrent
// first requests for the same user share one creation; double-creation
// cannot happen.
type Registry struct {
	cfg    *config.Config
	sys    *config.SystemConfig
	client llm.ModelClient
	pool   *SessionPool

	mu     sync.Mutex
	agents map[string]*agentEntry
	closed bool
}

var _ api.ChatService = (*Registry)(nil)

// NewRegistry builds the registry and its session pool. No subprocess or
// engine exists until the first Chat call for a user.
func NewRegistry(cfg *config.Config, sys *config.SystemConfig, client llm.ModelClient) *Registry {
	return &Registry{
		cfg:    cfg,
		sys:    sys,
		client: client,
		pool:   NewSessionPool(cfg.Servers, sys),
		agents: make(map[string]*agentEntry),
	}
}

// Pool exposes the underlying session pool.
func (r *Registry) Pool() *SessionPool {
	return r.pool
}

// Chat implements api.ChatService.
func (r *Registry) Chat(ctx context.Context, userID, convKey, message, contextText string) (*api.ChatResult, error) {
	engine, err := r.engineFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return engine.Chat(ctx, convKey, message, contextText)
}

// engineFor returns the user's engine, creating it on first use. Creation
// connects every configured tool server for the user; a failure tears down
// whatever sessions that user got before the failure and leaves no cached
// engine, so the next request retries from scratch.
func (r *Registry) engineFor(ctx context.Context, userID string) (*Engine, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("agent: registry is closed")
	}
	entry, ok := r.agents[userID]
	if !ok {
		entry = &agentEntry{}
		r.agents[userID] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		if r.sys.EnableTools {
			if err := r.pool.Connect(ctx, userID); err != nil {
				r.pool.CloseUser(userID)
				entry.err = fmt.Errorf("agent: initialize user %q: %w", userID, err)
				return
			}
		}
		entry.engine = NewEngine(userID, r.client, r.pool, r.cfg, r.sys)
		slog.Info("Agent created", "user", userID)
	})

	if entry.err != nil {
		r.mu.Lock()
		if r.agents[userID] == entry {
			delete(r.agents, userID)
		}
		r.mu.Unlock()
		return nil, entry.err
	}
	return entry.engine, nil
}

// Cleanup implements api.ChatService. It releases one user's engine and every
// session scoped to them; shared sessions stay up for other users.
func (r *Registry) Cleanup(userID string) error {
	r.mu.Lock()
	delete(r.agents, userID)
	r.mu.Unlock()

	r.pool.CloseUser(userID)
	slog.Info("Agent cleaned up", "user", userID)
	return nil
}

// Close implements api.ChatService. It drops every engine and tears down all
// sessions, shared ones included.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.agents = make(map[string]*agentEntry)
	r.mu.Unlock()

	r.pool.CloseAll()
	slog.Info("Agent registry closed")
	return nil
}
