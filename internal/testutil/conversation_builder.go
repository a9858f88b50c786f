package testutil

import (
	"testing"

	"github.com/hupe1980/toolmesh/core"
)

// ConversationBuilder helps seed conversation stores with fluent chaining
// for tests. Message IDs and timestamps are assigned by the store on Seed,
// so the builder only carries roles and content.
// Example:
//
//	testutil.NewConversationBuilder("conv-1").
//	    Metadata("user", "ada").
//	    User("hello").
//	    Assistant("hi there").
//	    Seed(t, store)
type ConversationBuilder struct {
	id       string
	metadata map[string]string
	messages []core.Message
	records  []core.ToolCallRecord
}

// NewConversationBuilder creates a new builder for a conversation with the
// given id. Use chainable methods (Metadata, User, Assistant, Tool, Record)
// then call Seed.
func NewConversationBuilder(id string) *ConversationBuilder {
	return &ConversationBuilder{id: id, metadata: map[string]string{}}
}

// Metadata sets a metadata key/value pair on the conversation (chainable).
func (b *ConversationBuilder) Metadata(key, value string) *ConversationBuilder {
	b.metadata[key] = value
	return b
}

// User appends a user message (chainable).
func (b *ConversationBuilder) User(text string) *ConversationBuilder {
	b.messages = append(b.messages, core.Message{Role: core.RoleUser, Content: text})
	return b
}

// Assistant appends an assistant message (chainable).
func (b *ConversationBuilder) Assistant(text string) *ConversationBuilder {
	b.messages = append(b.messages, core.Message{Role: core.RoleAssistant, Content: text})
	return b
}

// Tool appends a tool-result message carrying the tool's name (chainable).
func (b *ConversationBuilder) Tool(name, content string) *ConversationBuilder {
	b.messages = append(b.messages, core.Message{Role: core.RoleTool, Content: content, ToolName: name})
	return b
}

// Record appends a tool-call record to the conversation's tool-call log
// (chainable).
func (b *ConversationBuilder) Record(rec core.ToolCallRecord) *ConversationBuilder {
	b.records = append(b.records, rec)
	return b
}

// Seed writes the built conversation into the store, failing the test on any
// store error. Appends happen in the order the builder recorded them.
func (b *ConversationBuilder) Seed(tb testing.TB, store core.ConversationStore) {
	tb.Helper()

	if _, _, err := store.GetOrCreate(b.id); err != nil {
		tb.Fatalf("create conversation %s: %v", b.id, err)
	}
	for key, value := range b.metadata {
		if err := store.SetMetadata(b.id, key, value); err != nil {
			tb.Fatalf("set metadata %s on %s: %v", key, b.id, err)
		}
	}
	for _, msg := range b.messages {
		if _, err := store.AppendMessage(b.id, msg); err != nil {
			tb.Fatalf("append message to %s: %v", b.id, err)
		}
	}
	for _, rec := range b.records {
		if err := store.AppendToolCall(b.id, rec); err != nil {
			tb.Fatalf("append tool call to %s: %v", b.id, err)
		}
	}
}
