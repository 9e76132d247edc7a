package call

import "time"

// Role identifies which side of the conversation produced a turn.
type Role string

const (
	// RoleCaller marks a transcribed caller utterance.
	RoleCaller Role = "caller"

	// RoleAgent marks an agent reply, scripted or generated.
	RoleAgent Role = "agent"
)

// Turn is one completed conversation turn as recorded in the session
// history.
type Turn struct {
	// Role is who spoke.
	Role Role `json:"role"`

	// Text is the transcript (caller) or reply text (agent).
	Text string `json:"text"`

	// Provider names the provider that produced the text, when one did.
	// Scripted agent lines leave it empty.
	Provider string `json:"provider,omitempty"`

	// Service is the catalogue service the caller's utterance phonetically
	// matched, if any. Empty for agent turns.
	Service string `json:"service,omitempty"`

	// StartedAt is when the turn began: first speech frame for the caller,
	// pipeline start for the agent.
	StartedAt time.Time `json:"started_at"`

	// EndedAt is when the turn's text became final.
	EndedAt time.Time `json:"ended_at"`
}
