// Package tool implements the tool catalog and the executor that dispatches
// tool calls to their implementations.
//
// A Catalog is an immutable, load-time list of descriptors (name, category,
// parameter schema, handler key) exportable in the function-calling shape
// inference engines consume. The Executor resolves each call against the
// catalog and routes it to one of three backends: a typed capability
// provider registered for the descriptor's category (local), the JSON-RPC
// transport to a server process (remote), or the broadcast channel for
// render/UI commands. Results always come back in the same envelope,
// whatever the backend, and failures never escape as panics.
package tool
