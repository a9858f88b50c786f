// Package transport implements the JSON-RPC 2.0 stdio connection to one
// external server process. It owns process spawning, newline-delimited
// framing, request/response correlation by monotonic id, per-request
// timeouts and active rejection of pending requests on disconnect.
//
// The dialect is intentionally partial: no batching, no notifications, one
// transport per process. Responses may arrive in any order; correlation is
// strictly by id, never by arrival order.
package transport
