package api

import (
	"context"
)

// ChatService defines the interface for the per-user conversational agent
// layer. Implementations own provisioning (model clients, tool-server
// sessions) and route each message to the right user's engine.
type ChatService interface {
	// Chat runs one full orchestration turn for the given user: it appends the
	// message to the conversation identified by convKey, drives the model/tool
	// loop to completion, and returns the final result. contextText is
	// caller-supplied situational context (e.g., the current project plan)
	// embedded in every turn's user entry, so the model always sees the
	// freshest state.
	Chat(ctx context.Context, userID, convKey, message, contextText string) (*ChatResult, error)

	// Cleanup releases everything held for one user: their engine and any
	// tool-server sessions scoped to them. Shared sessions stay up.
	Cleanup(userID string) error

	// Close shuts the whole service down, including shared sessions.
	Close() error
}

// ChatResult is the outcome of one orchestration turn.
type ChatResult struct {
	// Text is the assistant's final reply.
	Text string `json:"text"`
	// Plan carries the updated execution plan when the model called the plan
	// tool during this turn; nil otherwise.
	Plan *string `json:"plan,omitempty"`
	// Rounds is the number of tool-dispatch rounds the turn consumed.
	Rounds int `json:"rounds"`
}
