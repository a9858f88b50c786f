// Package logging provides a minimal logging interface and adapters for ToolMesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the registry, transport, executor and orchestrator use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - MeshLogger with conversation/server scoping and domain helpers
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mesh := toolmesh.New(func(o *toolmesh.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
