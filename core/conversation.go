package core

import (
	"sync"
	"time"
)

// Message is a single entry in a conversation's ordered log. After append it
// should be treated as immutable. It captures:
//
//   - Sequencing (ID, strictly increasing across the owning store)
//   - Conversational content (Role + Content text)
//   - Provenance (Model for assistant messages, ToolName for tool results)
//   - High precision UTC timestamp (RFC3339 on the wire)
//
// ID and Timestamp are assigned by the ConversationStore on append; callers
// populate Role, Content and the optional provenance fields only.
type Message struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolCallRecord captures one executed tool invocation in a conversation's
// tool-call log, including the uniform result envelope fields.
type ToolCallRecord struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Source     string         `json:"source,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewToolCallRecord constructs a record with a fresh ID and UTC timestamp.
func NewToolCallRecord(tool string, args map[string]any) ToolCallRecord {
	return ToolCallRecord{
		ID:        NewID(),
		Tool:      tool,
		Args:      args,
		Timestamp: time.Now().UTC(),
	}
}

// Conversation is an append-only container for one chat session: an ordered
// message log, an ordered tool-call log and a small metadata map. It is safe
// for concurrent access.
//
// Contract:
//   - Message and tool-call logs are append-only; no entry is edited or
//     removed in place
//   - Appends update the Updated timestamp (the eviction clock)
//   - Messages/ToolCalls/History return defensive copies
//   - Clone performs deep copies of maps/slices for safe divergence.
type Conversation struct {
	ID        string            `json:"id"`
	Messages  []Message         `json:"messages"`
	ToolCalls []ToolCallRecord  `json:"tool_calls"`
	Metadata  map[string]string `json:"metadata"`
	Created   time.Time         `json:"created"`
	Updated   time.Time         `json:"updated"`
	mu        sync.RWMutex
}

// NewConversation creates an empty conversation with the given ID.
func NewConversation(id string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{ID: id, Messages: []Message{}, ToolCalls: []ToolCallRecord{}, Metadata: map[string]string{}, Created: now, Updated: now}
}

// AddMessage appends a message to the log updating the Updated timestamp.
// Sequencing is the store's responsibility; this method stores the message
// exactly as given.
func (c *Conversation) AddMessage(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = append(c.Messages, m)
	c.Updated = time.Now().UTC()
}

// AddToolCall appends a tool-call record updating the Updated timestamp.
func (c *Conversation) AddToolCall(rec ToolCallRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ToolCalls = append(c.ToolCalls, rec)
	c.Updated = time.Now().UTC()
}

// GetMessages returns a defensive copy of the full message log.
func (c *Conversation) GetMessages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	return msgs
}

// GetToolCalls returns a defensive copy of the tool-call log.
func (c *Conversation) GetToolCalls() []ToolCallRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	recs := make([]ToolCallRecord, len(c.ToolCalls))
	copy(recs, c.ToolCalls)
	return recs
}

// History returns the last window messages (the whole log when window <= 0 or
// exceeds the log length). This is the bounded context handed to inference
// engines each loop iteration.
func (c *Conversation) History(window int) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	start := 0
	if window > 0 && len(c.Messages) > window {
		start = len(c.Messages) - window
	}
	msgs := make([]Message, len(c.Messages)-start)
	copy(msgs, c.Messages[start:])
	return msgs
}

// SetMetadata sets a metadata key/value pair updating the Updated timestamp.
func (c *Conversation) SetMetadata(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Metadata[key] = value
	c.Updated = time.Now().UTC()
}

// GetMetadata returns the value and existence flag for a metadata key.
func (c *Conversation) GetMetadata(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.Metadata[key]
	return v, ok
}

// LastUpdated returns the Updated timestamp under the read lock.
func (c *Conversation) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Updated
}

// Clone returns a deep copy of the conversation safe for independent mutation.
func (c *Conversation) Clone() *Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := &Conversation{ID: c.ID, Messages: make([]Message, len(c.Messages)), ToolCalls: make([]ToolCallRecord, len(c.ToolCalls)), Metadata: make(map[string]string, len(c.Metadata)), Created: c.Created, Updated: c.Updated}
	copy(clone.Messages, c.Messages)
	copy(clone.ToolCalls, c.ToolCalls)
	for k, v := range c.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}

// SearchMatch is one hit from a conversation log search.
type SearchMatch struct {
	ConversationID string `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
}

// ConversationStore persists conversations and their append-only logs.
//
// Implementations assign message IDs from a store-wide strictly increasing
// sequence and stamp appends with UTC timestamps. Eviction (TTL and/or LRU)
// is an implementation concern; evicted conversations simply disappear from
// Get and List.
type ConversationStore interface {
	// Create adds a new empty conversation, replacing any existing one with
	// the same ID.
	Create(id string) (*Conversation, error)
	// Get returns a clone of the conversation or nil when absent.
	Get(id string) (*Conversation, error)
	// GetOrCreate returns a clone of the existing conversation, creating it
	// first when absent. The second return reports whether it was created.
	GetOrCreate(id string) (*Conversation, bool, error)
	// List returns clones ordered by most recent activity, capped at limit
	// (uncapped when limit <= 0).
	List(limit int) []*Conversation
	// Delete removes the conversation, reporting whether it existed.
	Delete(id string) bool
	// AppendMessage assigns the next sequence ID and a UTC timestamp to msg
	// and appends it to the conversation's message log.
	AppendMessage(conversationID string, msg Message) (Message, error)
	// AppendToolCall appends a record to the conversation's tool-call log.
	AppendToolCall(conversationID string, rec ToolCallRecord) error
	// SetMetadata sets a metadata key on the conversation, creating the
	// conversation when absent.
	SetMetadata(conversationID, key, value string) error
	// Search scans message logs for a substring, newest conversations first.
	Search(query string, limit int) []SearchMatch
}
