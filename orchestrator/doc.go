// Package orchestrator runs the bounded chat loop that ties the pieces
// together: route the task to an engine, request a completion over the
// bounded history window, execute any tool invocation it contains, feed the
// result back, repeat until the engine answers in plain text or the
// iteration budget runs out.
//
// Every dependency is injected explicitly (store, engine pool, executor,
// router); the orchestrator holds no global state. Lifecycle callbacks in
// CallbackManager expose message appends, tool calls, model selection and
// loop exhaustion to callers without coupling the loop to any surface.
package orchestrator
