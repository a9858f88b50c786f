package core

import "github.com/google/uuid"

// Conversational roles used throughout the message log. The set mirrors the
// roles inference engines accept; anything else is treated as "user" by the
// engine adapters.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// NewID generates a new unique identifier for tool-call records and other
// correlation handles.
//
// Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }

// Broadcaster is the UI-facing side-channel seam. Render-category tools hand
// their envelope to an injected Broadcaster instead of a local handler or the
// process transport. Implementations must be safe for concurrent use.
type Broadcaster interface {
	// Broadcast delivers the value (JSON-serializable) to every connected
	// client. Delivery is best effort; slow clients may be skipped.
	Broadcast(v any) error
}
