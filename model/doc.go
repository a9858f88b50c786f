// Package model defines the provider-agnostic abstractions for driving
// inference engines inside ToolMesh.
//
// Core goals:
//   - One non-streaming Complete call per loop iteration, vendor neutral
//   - Normalized tool / function call representation (tool.Definition in,
//     ToolCall out)
//   - A named Pool whose registered engines double as the router's
//     availability list
//   - Lightweight mocking for tests (MockEngine)
//
// Providers (e.g. OpenAI, Anthropic) implement the Engine interface from
// this package so the orchestrator stays decoupled from vendor SDKs.
package model
