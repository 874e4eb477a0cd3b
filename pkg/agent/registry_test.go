package agent

import (
	"context"
	"errors"
	"testing"

	"foreman/pkg/config"
	"foreman/pkg/llm"
	"foreman/pkg/mcp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(launcher *fakeLauncher, servers map[string]config.ServerConfig, model llm.ModelClient) *Registry {
	cfg := &config.Config{Servers: servers, PlanTool: "update_execution_plan"}
	r := NewRegistry(cfg, config.DefaultSystemConfig(), model)
	r.pool.launch = launcher.launch
	return r
}

func plainModel() *scriptedModel {
	return &scriptedModel{replies: []llm.Message{
		llm.NewTextMessage(llm.RoleAssistant, "ok"),
	}}
}

func TestRegistryCreatesEngineOnce(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.tools["plans"] = []mcp.Tool{echoTool("update_execution_plan")}
	r := newTestRegistry(launcher, map[string]config.ServerConfig{
		"plans": {Command: "plans-server"},
	}, plainModel())

	_, err := r.Chat(context.Background(), "alice", "proj-1", "hi", "")
	require.NoError(t, err)
	_, err = r.Chat(context.Background(), "alice", "proj-2", "hi again", "")
	require.NoError(t, err)

	assert.Equal(t, 1, launcher.launchCount("plans"))

	first, err := r.engineFor(context.Background(), "alice")
	require.NoError(t, err)
	second, err := r.engineFor(context.Background(), "alice")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRegistryIsolatesUsers(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.tools["calendar"] = []mcp.Tool{echoTool("schedule_event")}
	r := newTestRegistry(launcher, map[string]config.ServerConfig{
		"calendar": {Command: "calendar-server", UserScoped: true},
	}, plainModel())

	_, err := r.Chat(context.Background(), "alice", "proj-1", "hi", "")
	require.NoError(t, err)
	_, err = r.Chat(context.Background(), "bob", "proj-1", "hi", "")
	require.NoError(t, err)

	assert.Equal(t, 2, launcher.launchCount("calendar"), "user-scoped server launches once per user")
}

func TestRegistryCleanupReleasesUserSessionsOnly(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.tools["plans"] = []mcp.Tool{echoTool("update_execution_plan")}
	launcher.tools["calendar"] = []mcp.Tool{echoTool("schedule_event")}
	r := newTestRegistry(launcher, map[string]config.ServerConfig{
		"plans":    {Command: "plans-server"},
		"calendar": {Command: "calendar-server", UserScoped: true},
	}, plainModel())

	_, err := r.Chat(context.Background(), "alice", "proj-1", "hi", "")
	require.NoError(t, err)
	_, err = r.Chat(context.Background(), "bob", "proj-1", "hi", "")
	require.NoError(t, err)

	require.NoError(t, r.Cleanup("alice"))

	var aliceClosed, bobClosed, sharedClosed int
	for _, s := range launcher.sessions {
		switch s.server {
		case "plans":
			sharedClosed += s.closed
		case "calendar":
			if s.closed > 0 {
				aliceClosed++
			} else {
				bobClosed++
			}
		}
	}
	assert.Equal(t, 0, sharedClosed, "shared session survives a single user's cleanup")
	assert.Equal(t, 1, aliceClosed)
	assert.Equal(t, 1, bobClosed)

	// Alice's next message transparently reprovisions her.
	_, err = r.Chat(context.Background(), "alice", "proj-1", "back again", "")
	require.NoError(t, err)
	assert.Equal(t, 3, launcher.launchCount("calendar"))
}

func TestRegistryInitFailureReleasesEarlierSessions(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.tools["a_calendar"] = []mcp.Tool{echoTool("schedule_event")}
	launcher.tools["b_mail"] = []mcp.Tool{echoTool("send_email")}
	launcher.failers["b_mail"] = errors.New("credential file missing")
	r := newTestRegistry(launcher, map[string]config.ServerConfig{
		"a_calendar": {Command: "calendar-server", UserScoped: true},
		"b_mail":     {Command: "mail-server", UserScoped: true},
	}, plainModel())

	_, err := r.Chat(context.Background(), "alice", "proj-1", "hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credential file missing")

	// The calendar session that came up before the failure is released.
	require.Len(t, launcher.sessions, 1)
	assert.Equal(t, "a_calendar", launcher.sessions[0].server)
	assert.Equal(t, 1, launcher.sessions[0].closed)

	// Once the broken server recovers, the same user can be provisioned.
	launcher.mu.Lock()
	delete(launcher.failers, "b_mail")
	launcher.mu.Unlock()

	_, err = r.Chat(context.Background(), "alice", "proj-1", "hi", "")
	require.NoError(t, err)
}

func TestRegistryCloseDuringProvisioningLeaksNoSessions(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.tools["plans"] = []mcp.Tool{echoTool("update_execution_plan")}
	r := newTestRegistry(launcher, map[string]config.ServerConfig{
		"plans": {Command: "plans-server"},
	}, plainModel())

	// Shut the registry down while the first user's tool server is still
	// launching; the late session must not outlive the shutdown.
	inner := r.pool.launch
	closedMid := false
	r.pool.launch = func(ctx context.Context, name string, opts mcp.Options) (Session, error) {
		if !closedMid {
			closedMid = true
			require.NoError(t, r.Close())
		}
		return inner(ctx, name, opts)
	}

	_, err := r.Chat(context.Background(), "alice", "proj-1", "hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	require.Len(t, launcher.sessions, 1)
	assert.Equal(t, 1, launcher.sessions[0].closed)
}

func TestRegistryCloseTearsDownEverything(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.tools["plans"] = []mcp.Tool{echoTool("update_execution_plan")}
	launcher.tools["calendar"] = []mcp.Tool{echoTool("schedule_event")}
	r := newTestRegistry(launcher, map[string]config.ServerConfig{
		"plans":    {Command: "plans-server"},
		"calendar": {Command: "calendar-server", UserScoped: true},
	}, plainModel())

	_, err := r.Chat(context.Background(), "alice", "proj-1", "hi", "")
	require.NoError(t, err)

	require.NoError(t, r.Close())

	for _, s := range launcher.sessions {
		assert.Equal(t, 1, s.closed)
	}

	_, err = r.Chat(context.Background(), "alice", "proj-1", "hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
