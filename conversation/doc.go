// Package conversation provides storage for chat conversations and their
// append-only message and tool-call logs.
//
// The in-memory store is the reference implementation: a process local map
// with a store-wide message sequence, TTL expiry for idle conversations and
// an LRU cap on the total count. Persistent implementations can satisfy
// core.ConversationStore with the same semantics.
package conversation
