package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startFakeServer launches this test binary as a subprocess running
// TestHelperProcess, which speaks the framed JSON-RPC protocol on stdio.
func startFakeServer(t *testing.T, extraEnv map[string]string) *Session {
	t.Helper()

	env := map[string]string{"GO_WANT_HELPER_PROCESS": "1"}
	for k, v := range extraEnv {
		env[k] = v
	}

	s, err := Start(context.Background(), "fake", Options{
		Command:        os.Args[0],
		Args:           []string{"-test.run=TestHelperProcess"},
		Env:            env,
		ConnectTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionHandshake(t *testing.T) {
	s := startFakeServer(t, nil)

	assert.Equal(t, "fake", s.Name())
	assert.True(t, s.Alive())
}

func TestSessionListTools(t *testing.T) {
	s := startFakeServer(t, nil)

	tools, err := s.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "Echoes its input back", tools[0].Description)
	assert.Equal(t, "object", tools[0].InputSchema["type"])
	assert.Equal(t, "fail", tools[1].Name)
}

func TestSessionCallTool(t *testing.T) {
	s := startFakeServer(t, nil)

	result, err := s.CallTool(context.Background(), "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "hello", result.Text())
}

func TestSessionCallToolApplicationError(t *testing.T) {
	s := startFakeServer(t, nil)

	result, err := s.CallTool(context.Background(), "fail", nil)
	require.NoError(t, err, "application-level failures must not surface as transport errors")
	assert.True(t, result.IsError)
	assert.Equal(t, "deliberate failure", result.Text())

	// The session survives a failed call.
	again, err := s.CallTool(context.Background(), "echo", map[string]any{"text": "still here"})
	require.NoError(t, err)
	assert.Equal(t, "still here", again.Text())
}

func TestSessionUnknownMethod(t *testing.T) {
	s := startFakeServer(t, nil)

	err := s.call(context.Background(), "resources/list", map[string]any{}, nil)
	assert.ErrorIs(t, err, ErrMethodNotFound)
}

func TestSessionMissingCredentialFailsStart(t *testing.T) {
	_, err := Start(context.Background(), "gmail", Options{
		Command:     os.Args[0],
		Credentials: []string{filepath.Join(t.TempDir(), "token.json")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credential file")
}

func TestSessionCredentialPresentPassesPrecondition(t *testing.T) {
	cred := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(cred, []byte("{}"), 0o600))

	s, err := Start(context.Background(), "fake", Options{
		Command:        os.Args[0],
		Args:           []string{"-test.run=TestHelperProcess"},
		Env:            map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
		Credentials:    []string{cred},
		ConnectTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	s.Close()
}

func TestSessionStartFailureLeavesNoProcess(t *testing.T) {
	_, err := Start(context.Background(), "broken", Options{
		Command: "/nonexistent/tool-server-binary",
	})
	require.Error(t, err)
}

func TestSessionHandshakeTimeout(t *testing.T) {
	// The helper stays silent when told to, so the handshake must hit the
	// connect timeout and tear the subprocess down.
	_, err := Start(context.Background(), "mute", Options{
		Command:        os.Args[0],
		Args:           []string{"-test.run=TestHelperProcess"},
		Env:            map[string]string{"GO_WANT_HELPER_PROCESS": "1", "HELPER_MUTE": "1"},
		ConnectTimeout: 300 * time.Millisecond,
	})
	require.Error(t, err)
}

func TestSessionCloseIdempotent(t *testing.T) {
	s := startFakeServer(t, nil)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.Alive())

	// Calls after close fail cleanly instead of hanging.
	_, err := s.CallTool(context.Background(), "echo", map[string]any{"text": "x"})
	assert.Error(t, err)
}

// TestHelperProcess is not a real test: it is the fake tool server the other
// tests launch as a subprocess.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	if os.Getenv("HELPER_MUTE") == "1" {
		time.Sleep(10 * time.Second)
		return
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		req, err := readFrame(reader)
		if err != nil {
			return
		}

		var msg struct {
			ID     *int64 `json:"id"`
			Method string `json:"method"`
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		if err := json.Unmarshal(req, &msg); err != nil {
			return
		}

		switch msg.Method {
		case "initialize":
			writeResult(msg.ID, map[string]any{
				"serverInfo": map[string]string{"name": "fake-server", "version": "1.0"},
			})
		case "tools/list":
			writeResult(msg.ID, map[string]any{
				"tools": []map[string]any{
					{
						"name":        "echo",
						"description": "Echoes its input back",
						"inputSchema": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"text": map[string]any{"type": "string"},
							},
						},
					},
					{
						"name":        "fail",
						"description": "Always fails",
						"inputSchema": map[string]any{"type": "object"},
					},
				},
			})
		case "tools/call":
			if msg.Params.Name == "fail" {
				writeResult(msg.ID, map[string]any{
					"content": []map[string]any{{"type": "text", "text": "deliberate failure"}},
					"isError": true,
				})
				continue
			}
			text, _ := msg.Params.Arguments["text"].(string)
			writeResult(msg.ID, map[string]any{
				"content": []map[string]any{{"type": "text", "text": text}},
			})
		case "shutdown":
			writeResult(msg.ID, map[string]any{})
		case "exit":
			return
		default:
			if msg.ID != nil {
				writeFrameTo(os.Stdout, mustMarshal(map[string]any{
					"jsonrpc": "2.0",
					"id":      *msg.ID,
					"error":   map[string]any{"code": -32601, "message": "method not found"},
				}))
			}
		}
	}
}

func readFrame(reader *bufio.Reader) ([]byte, error) {
	var length int
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if rest, ok := strings.CutPrefix(line, "Content-Length:"); ok {
			length, err = strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return nil, err
			}
		}
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, err
	}
	return body, nil
}

func writeResult(id *int64, result map[string]any) {
	if id == nil {
		return
	}
	writeFrameTo(os.Stdout, mustMarshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      *id,
		"result":  result,
	}))
}

func writeFrameTo(w io.Writer, payload []byte) {
	fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload))
	w.Write(payload)
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
