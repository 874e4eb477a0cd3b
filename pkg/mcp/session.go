package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrMethodNotFound mirrors the JSON-RPC error when a server does not
	// implement a capability.
	ErrMethodNotFound = errors.New("mcp: method not found")
	errSessionClosed  = errors.New("mcp: session closed")
)

// Options controls how a stdio tool-server session is launched.
type Options struct {
	// Command is the server executable; it speaks framed JSON-RPC on stdio.
	Command string
	// Args are passed verbatim to the command.
	Args []string
	// Env holds extra environment variables, merged over the parent process
	// environment.
	Env map[string]string
	// Credentials lists files that must already exist before launch. A missing
	// file fails the session instead of letting the server block on an
	// interactive auth flow nobody can answer.
	Credentials []string
	// ConnectTimeout bounds subprocess launch plus the protocol handshake.
	// Zero means no bound beyond the caller's context.
	ConnectTimeout time.Duration
}

// Session is one live tool-server subprocess. All methods are safe for
// concurrent use; requests are correlated by ID, so callers may overlap.
type Session struct {
	name string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[int64]chan rpcResponse
	counter   atomic.Int64

	done      chan struct{}
	err       error
	closeOnce sync.Once

	serverName    string
	serverVersion string
}

// Start launches a tool-server subprocess named name and completes the
// protocol handshake. On any failure the subprocess is torn down before the
// error is returned; a non-nil Session is always ready for ListTools/CallTool.
func Start(ctx context.Context, name string, opts Options) (*Session, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, fmt.Errorf("mcp: server %q: command is required", name)
	}

	for _, cred := range opts.Credentials {
		if _, err := os.Stat(cred); err != nil {
			return nil, fmt.Errorf("mcp: server %q: credential file %q not found. run the provider's auth setup first", name, cred)
		}
	}

	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: server %q: stdin pipe: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("mcp: server %q: stdout pipe: %w", name, err)
	}
	// Server diagnostics go to our stderr; stdout stays protocol-only.
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("mcp: server %q: start: %w", name, err)
	}

	s := &Session{
		name:    name,
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[int64]chan rpcResponse),
		done:    make(chan struct{}),
	}

	go s.readLoop()
	go s.waitForExit()

	if err := s.initialize(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("mcp: server %q: %w", name, err)
	}

	slog.Info("Tool server session established",
		"server", name, "remote_name", s.serverName, "remote_version", s.serverVersion)

	return s, nil
}

// Name returns the configured server name for this session.
func (s *Session) Name() string {
	return s.name
}

func (s *Session) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]string{
			"name":    "foreman",
			"version": "dev",
		},
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
	}
	var result struct {
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := s.call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	s.serverName = result.ServerInfo.Name
	s.serverVersion = result.ServerInfo.Version

	// The initialized notification is fire-and-forget.
	_ = s.notify("notifications/initialized", map[string]any{})
	return nil
}

// readLoop decodes Content-Length framed responses from the server's stdout
// and routes them to the pending caller by request ID. Notifications from the
// server (frames without an ID) are dropped.
func (s *Session) readLoop() {
	reader := bufio.NewReader(s.stdout)
	for {
		headers := make(map[string]string)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				s.finish(err)
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				break
			}
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
			}
		}
		lengthStr, ok := headers["Content-Length"]
		if !ok {
			s.finish(errors.New("mcp: missing Content-Length header"))
			return
		}
		length, err := strconv.Atoi(lengthStr)
		if err != nil {
			s.finish(fmt.Errorf("mcp: invalid Content-Length: %w", err))
			return
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			s.finish(fmt.Errorf("mcp: read body: %w", err))
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			s.finish(fmt.Errorf("mcp: decode response: %w", err))
			return
		}
		if resp.ID == nil {
			continue
		}
		s.pendingMu.Lock()
		ch, ok := s.pending[*resp.ID]
		if ok {
			delete(s.pending, *resp.ID)
		}
		s.pendingMu.Unlock()
		if ok {
			select {
			case ch <- resp:
			default:
			}
		}
	}
}

func (s *Session) waitForExit() {
	err := s.cmd.Wait()
	if err != nil {
		s.finish(err)
	} else {
		s.finish(io.EOF)
	}
}

// finish records the terminal error, fails every in-flight call, and marks
// the session done. Safe to invoke from multiple goroutines.
func (s *Session) finish(err error) {
	s.pendingMu.Lock()
	if s.err == nil {
		s.err = err
	}
	for id, ch := range s.pending {
		delete(s.pending, id)
		select {
		case ch <- rpcResponse{Error: &rpcError{Message: errSessionClosed.Error()}}:
		default:
		}
	}
	s.pendingMu.Unlock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Session) notify(method string, params any) error {
	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.writeFrame(payload)
}

func (s *Session) call(ctx context.Context, method string, params any, result any) error {
	id := s.counter.Add(1)
	req := rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	respCh := make(chan rpcResponse, 1)
	s.pendingMu.Lock()
	s.pending[id] = respCh
	s.pendingMu.Unlock()

	if err := s.writeFrame(payload); err != nil {
		s.removePending(id)
		return err
	}

	select {
	case <-ctx.Done():
		s.removePending(id)
		return ctx.Err()
	case <-s.done:
		s.removePending(id)
		if s.err != nil && s.err != io.EOF {
			return s.err
		}
		return errSessionClosed
	case resp := <-respCh:
		if resp.Error != nil {
			if resp.Error.Code == -32601 {
				return ErrMethodNotFound
			}
			return errors.New(resp.Error.Message)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return err
			}
		}
		return nil
	}
}

func (s *Session) removePending(id int64) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

func (s *Session) writeFrame(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	if _, err := io.WriteString(s.stdin, header); err != nil {
		return err
	}
	_, err := s.stdin.Write(payload)
	return err
}

// ListTools retrieves the server's tool definitions.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	var resp struct {
		Tools []Tool `json:"tools"`
	}
	if err := s.call(ctx, "tools/list", map[string]any{}, &resp); err != nil {
		return nil, err
	}
	return append([]Tool(nil), resp.Tools...), nil
}

// CallTool invokes a named tool on the server. A returned error means the
// call itself could not complete (transport failure, unknown method); a tool
// that ran and reported failure comes back as a CallResult with IsError set.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) (*CallResult, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	params := map[string]any{
		"name":      name,
		"arguments": arguments,
	}
	var resp CallResult
	if err := s.call(ctx, "tools/call", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Alive reports whether the subprocess is still running and usable.
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Err returns the session's terminal error, if any.
func (s *Session) Err() error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.err
}

// Close terminates the session. It is idempotent and safe to call on an
// already-dead session: a graceful shutdown is attempted first, then the
// subprocess is killed if it has not exited.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.call(shutdownCtx, "shutdown", map[string]any{}, nil)
		_ = s.notify("exit", map[string]any{})
		s.stdin.Close()
		select {
		case <-s.done:
		case <-shutdownCtx.Done():
		}
		if s.cmd.ProcessState == nil {
			_ = s.cmd.Process.Kill()
		}
		slog.Info("Tool server session closed", "server", s.name)
	})
	return nil
}
