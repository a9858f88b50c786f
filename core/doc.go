// Package core provides the foundational domain types and interfaces used by
// ToolMesh. It defines the core abstractions for:
//
//   - Conversations (append-only message and tool-call logs with metadata)
//   - Messages (immutable, sequenced, timestamped conversational records)
//   - ConversationStore (pluggable storage with eviction-aware contracts)
//   - Broadcaster (the UI-facing side-channel seam)
//   - ModelLimiter (per-turn model call budget enforcement)
//
// The package intentionally keeps implementation concerns (storage backends,
// process supervision, transport framing, orchestration) out of scope,
// exposing small interfaces to enable custom backends and extensions.
package core
