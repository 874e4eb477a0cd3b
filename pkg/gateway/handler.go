package gateway

import (
	"context"
	"log/slog"

	"foreman/pkg/api"
)

// ChatHandler bridges incoming gateway messages to the chat service. Each
// message is processed on its own goroutine so one slow conversation never
// stalls the others; ordering within a conversation is the caller's concern.
type ChatHandler struct {
	service   api.ChatService
	responder api.MessageResponder
}

var _ api.GatewayHandler = (*ChatHandler)(nil)

// NewChatHandler wraps a chat service as a gateway handler.
func NewChatHandler(service api.ChatService) *ChatHandler {
	return &ChatHandler{service: service}
}

// SetResponder implements api.ResponderAware.
func (h *ChatHandler) SetResponder(responder api.MessageResponder) {
	h.responder = responder
}

// OnMessage implements api.MessageProcessor.
func (h *ChatHandler) OnMessage(msg *api.UnifiedMessage) {
	go h.process(msg)
}

func (h *ChatHandler) process(msg *api.UnifiedMessage) {
	convKey := msg.Conversation
	if convKey == "" {
		convKey = msg.Session.ChatID
	}

	result, err := h.service.Chat(context.Background(), msg.Session.UserID, convKey, msg.Content, msg.Context)
	if err != nil {
		slog.Error("Chat failed",
			"user", msg.Session.UserID, "conversation", convKey, "debug_id", msg.DebugID, "error", err)
		result = &api.ChatResult{Text: "Something went wrong while processing your request. Please try again."}
	}

	if h.responder == nil {
		slog.Warn("No responder set, dropping reply", "user", msg.Session.UserID)
		return
	}
	if err := h.responder.SendReply(msg.Session, result); err != nil {
		slog.Warn("Failed to deliver reply",
			"channel", msg.Session.ChannelID, "user", msg.Session.UserID, "error", err)
	}
}
