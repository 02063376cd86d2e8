// Package llm consumes the conversational chat backend.
package llm

import (
	"context"
	"encoding/json"
)

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant"
	Content string `json:"content"`
}

// Event is a structured (non-streamed) backend response.
type Event struct {
	Type                 string          `json:"type"` // "phase_transition" or "complete"
	NewPhase             string          `json:"newPhase,omitempty"`
	Result               json.RawMessage `json:"result,omitempty"`
	ContinueConversation bool            `json:"continueConversation,omitempty"`
	Text                 string          `json:"text,omitempty"`
}

const (
	EventPhaseTransition = "phase_transition"
	EventComplete        = "complete"
)

// Request carries one conversation turn to the backend: the full message
// log, the current phase and any structured result extracted so far.
type Request struct {
	Messages []Message       `json:"messages"`
	Phase    string          `json:"phase"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// Reply classifies the backend's response shape. Exactly one of Tokens and
// Event is set: Tokens for an incrementally streamed text reply, Event for a
// structured phase/completion event.
type Reply struct {
	Tokens <-chan string
	Event  *Event
}

// Client defines the interface for the chat backend.
type Client interface {
	// Converse issues one turn request. The returned Reply's token channel,
	// if any, is closed when the stream ends or ctx is cancelled.
	Converse(ctx context.Context, req Request) (*Reply, error)
}
