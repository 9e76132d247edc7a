// Package reasoning defines the Provider interface for the language model
// backends that decide what the agent says next.
//
// A reasoning provider receives the agent's system prompt plus the
// alternating conversation history and returns the assistant's next reply as
// plain text. Tool calling, streaming deltas and token accounting are out of
// scope; the orchestrator speaks whole replies, so the interface stays a
// single blocking call the router can race against a timeout.
package reasoning

import "context"

// Conversation roles as the reasoning backends expect them.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation entry. Role is RoleUser or RoleAssistant;
// the system prompt travels separately on the Request.
type Message struct {
	Role    string
	Content string
}

// Request carries everything a backend needs to produce the next reply.
type Request struct {
	// SystemPrompt frames the agent's persona and constraints. Never empty.
	SystemPrompt string
	// Messages is the conversation so far, oldest first, already trimmed to
	// the orchestrator's history window. The final entry is always the
	// caller's latest transcript.
	Messages []Message
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Generate returns the assistant's next reply for the given request.
	//
	// An empty reply with a nil error counts as a failure at the routing
	// layer. Implementations must honor ctx cancellation.
	Generate(ctx context.Context, req Request) (string, error)
}
