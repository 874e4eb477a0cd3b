package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"foreman/pkg/config"
	"foreman/pkg/llm"
	"foreman/pkg/mcp"
)

// Session is the slice of a tool-server connection the pool and the engine
// need. *mcp.Session satisfies it; tests substitute fakes.
type Session interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallResult, error)
	Close() error
}

// poolKey identifies one cached session. user is empty for shared servers.
type poolKey struct {
	server string
	user   string
}

type poolEntry struct {
	once    sync.Once
	session Session
	err     error
}

// toolOwner records which server published a tool and whether that server is
// user-scoped (one subprocess per user, re-resolved on every dispatch).
type toolOwner struct {
	server     string
	userScoped bool
}

// SessionPool is the single point of truth mapping (server, user) to a live
// tool-server session and tool name to its owning server. Creation is
// serialized per key; a second request for the same key returns the cached
// session instead of launching a duplicate subprocess.
type SessionPool struct {
	servers map[string]config.ServerConfig
	sys     *config.SystemConfig

	// launch is the session factory. Overridable in tests.
	launch func(ctx context.Context, name string, opts mcp.Options) (Session, error)

	mu      sync.Mutex
	entries map[poolKey]*poolEntry
	closed  bool

	toolsMu     sync.Mutex
	owners      map[string]toolOwner
	descriptors []llm.ToolDeclaration
	declIndex   map[string]int
}

// NewSessionPool builds a pool over the configured servers. No subprocess is
// launched until GetOrCreate or Connect is called.
func NewSessionPool(servers map[string]config.ServerConfig, sys *config.SystemConfig) *SessionPool {
	return &SessionPool{
		servers: servers,
		sys:     sys,
		launch: func(ctx context.Context, name string, opts mcp.Options) (Session, error) {
			return mcp.Start(ctx, name, opts)
		},
		entries:   make(map[poolKey]*poolEntry),
		owners:    make(map[string]toolOwner),
		declIndex: make(map[string]int),
	}
}

// GetOrCreate returns the live session for (server, userID), launching it on
// first use. For shared servers the user component of the key is dropped, so
// every user reuses one subprocess. A failed creation leaves no cached entry
// and no leaked subprocess; the next call retries.
func (p *SessionPool) GetOrCreate(ctx context.Context, server, userID string) (Session, error) {
	cfg, ok := p.servers[server]
	if !ok {
		return nil, fmt.Errorf("agent: unknown tool server %q", server)
	}

	key := poolKey{server: server}
	if cfg.UserScoped {
		key.user = userID
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("agent: session pool is closed")
	}
	entry, ok := p.entries[key]
	if !ok {
		entry = &poolEntry{}
		p.entries[key] = entry
	}
	p.mu.Unlock()

	entry.once.Do(func() {
		entry.session, entry.err = p.create(ctx, server, cfg)
	})

	if entry.err != nil {
		// Drop the failed entry so a later call gets a fresh attempt.
		p.mu.Lock()
		if p.entries[key] == entry {
			delete(p.entries, key)
		}
		p.mu.Unlock()
		return nil, entry.err
	}

	// CloseAll may have swept the map while the launch was in flight; that
	// sweep saw a nil session, so the teardown falls to us.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeEntry(entry)
		return nil, fmt.Errorf("agent: session pool is closed")
	}
	p.mu.Unlock()

	return entry.session, nil
}

func (p *SessionPool) create(ctx context.Context, server string, cfg config.ServerConfig) (Session, error) {
	opts := mcp.Options{
		Command:        cfg.Command,
		Args:           cfg.Args,
		Env:            cfg.Env,
		Credentials:    cfg.Credentials,
		ConnectTimeout: time.Duration(p.sys.ConnectTimeoutMs) * time.Millisecond,
	}

	session, err := p.launch(ctx, server, opts)
	if err != nil {
		return nil, err
	}

	tools, err := session.ListTools(ctx)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("agent: server %q: list tools: %w", server, err)
	}

	p.registerTools(server, cfg.UserScoped, tools)
	return session, nil
}

// registerTools merges a server's tools into the dispatch table and the
// published declaration set. Name collisions across servers resolve
// last-registration-wins; each collision is logged so the overlap is visible.
func (p *SessionPool) registerTools(server string, userScoped bool, tools []mcp.Tool) {
	p.toolsMu.Lock()
	defer p.toolsMu.Unlock()

	for _, t := range tools {
		decl := llm.ToolDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  llm.CleanSchema(t.InputSchema),
		}

		if prev, exists := p.owners[t.Name]; exists {
			if prev.server != server {
				slog.Warn("Tool name collision, last registration wins",
					"tool", t.Name, "previous_server", prev.server, "server", server)
			}
			p.descriptors[p.declIndex[t.Name]] = decl
		} else {
			p.declIndex[t.Name] = len(p.descriptors)
			p.descriptors = append(p.descriptors, decl)
		}
		p.owners[t.Name] = toolOwner{server: server, userScoped: userScoped}
	}

	slog.Info("Tool server registered", "server", server, "tools", len(tools), "user_scoped", userScoped)
}

// Connect eagerly establishes sessions for every configured server on behalf
// of one user. The first failure aborts and is returned; sessions already
// created stay cached (the caller decides whether to tear them down).
func (p *SessionPool) Connect(ctx context.Context, userID string) error {
	names := make([]string, 0, len(p.servers))
	for name := range p.servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := p.GetOrCreate(ctx, name, userID); err != nil {
			return err
		}
	}
	return nil
}

// Resolve maps a tool name to the session that must serve it for userID.
// User-scoped tools re-resolve on every call, so a request for user B is
// never dispatched through user A's subprocess.
func (p *SessionPool) Resolve(ctx context.Context, toolName, userID string) (Session, error) {
	p.toolsMu.Lock()
	owner, ok := p.owners[toolName]
	p.toolsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("agent: no server owns tool %q", toolName)
	}
	return p.GetOrCreate(ctx, owner.server, userID)
}

// Descriptors returns a copy of the published tool declaration set.
func (p *SessionPool) Descriptors() []llm.ToolDeclaration {
	p.toolsMu.Lock()
	defer p.toolsMu.Unlock()
	return append([]llm.ToolDeclaration(nil), p.descriptors...)
}

// CloseUser tears down every session keyed to userID. Shared sessions are
// untouched. Close failures are logged and do not stop the remaining
// teardowns.
func (p *SessionPool) CloseUser(userID string) {
	p.mu.Lock()
	var victims []*poolEntry
	for key, entry := range p.entries {
		if key.user == userID && key.user != "" {
			victims = append(victims, entry)
			delete(p.entries, key)
		}
	}
	p.mu.Unlock()

	for _, entry := range victims {
		p.closeEntry(entry)
	}
}

// CloseAll tears down every cached session, shared ones included, and marks
// the pool closed so no later GetOrCreate can launch into a dead pool.
func (p *SessionPool) CloseAll() {
	p.mu.Lock()
	p.closed = true
	var victims []*poolEntry
	for key, entry := range p.entries {
		victims = append(victims, entry)
		delete(p.entries, key)
	}
	p.mu.Unlock()

	for _, entry := range victims {
		p.closeEntry(entry)
	}
}

func (p *SessionPool) closeEntry(entry *poolEntry) {
	if entry.session == nil {
		return
	}
	if err := entry.session.Close(); err != nil {
		slog.Warn("Tool server session close failed", "error", err)
	}
}
