// Package registry owns the lifecycle of external tool server processes.
// Servers are declared as descriptors (name, launch command, args, env),
// loaded from code or a YAML manifest, and driven through a small state
// machine: stopped → starting → {running | stopped | error}. The registry
// talks to the OS process API directly; it supervises processes but does not
// speak any protocol to them (that is the transport package's job).
//
// Each started process gets a watcher goroutine that observes its exit and
// flips the state back to stopped, so externally dying servers are reflected
// without polling.
package registry
