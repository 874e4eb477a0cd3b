package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"foreman/pkg/api"
	"foreman/pkg/monitor"
)

// Manager owns all registered channels and routes traffic in both
// directions: incoming platform messages to the handler, replies back to the
// originating channel.
type Manager struct {
	channels map[string]api.Channel
	handler  api.MessageProcessor
	monitor  monitor.Monitor
	mu       sync.RWMutex
}

var _ api.ChannelContext = (*Manager)(nil)

// NewManager creates an empty gateway manager.
func NewManager() *Manager {
	return &Manager{
		channels: make(map[string]api.Channel),
	}
}

// SetHandler sets the core logic that processes incoming messages.
func (g *Manager) SetHandler(handler api.MessageProcessor) {
	g.handler = handler
	if aware, ok := handler.(api.ResponderAware); ok {
		aware.SetResponder(g)
	}
}

// SetMonitor attaches a traffic monitor.
func (g *Manager) SetMonitor(m monitor.Monitor) {
	g.monitor = m
}

// Register adds a channel under its ID.
func (g *Manager) Register(c api.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// GetChannel fetches a specific channel by ID.
func (g *Manager) GetChannel(id string) (api.Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// StartAll starts every registered channel, passing itself as the context.
func (g *Manager) StartAll() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Starting channel", "channel", id)
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll stops every registered channel. Stop failures are logged so the
// remaining channels still shut down.
func (g *Manager) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Warn("Error stopping channel", "channel", id, "error", err)
		}
	}
}

// SendReply implements api.MessageResponder, routing a result back to the
// channel the session came from.
func (g *Manager) SendReply(session api.SessionContext, result *api.ChatResult) error {
	if g.monitor != nil {
		g.monitor.OnMessage(monitor.MonitorMessage{
			Timestamp:   time.Now(),
			MessageType: "ASSISTANT",
			ChannelID:   session.ChannelID,
			UserID:      session.UserID,
			Content:     result.Text,
		})
	}

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, result)
}

// OnMessage implements api.ChannelContext, receiving messages from channels.
func (g *Manager) OnMessage(channelID string, msg *api.UnifiedMessage) {
	slog.Debug("Gateway received message",
		"channel", channelID, "user", msg.Session.UserID, "debug_id", msg.DebugID)

	if g.monitor != nil {
		g.monitor.OnMessage(monitor.MonitorMessage{
			Timestamp:   time.Now(),
			MessageType: "USER",
			ChannelID:   channelID,
			UserID:      msg.Session.UserID,
			Content:     msg.Content,
		})
	}

	if g.handler != nil {
		g.handler.OnMessage(msg)
	} else {
		slog.Warn("No message handler set, dropping message", "channel", channelID)
	}
}
