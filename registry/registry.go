package registry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/logging"
)

// ErrUnknownServer is returned when an operation names a server that was
// never loaded.
var ErrUnknownServer = errors.New("unknown server")

// DefaultGracePeriod is how long Start waits after spawning before it
// declares the process alive.
const DefaultGracePeriod = 500 * time.Millisecond

// ServerStatus is the lifecycle state of one managed server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusError    ServerStatus = "error"
)

// ServerDescriptor declares a launchable server. Name is the unique key;
// Env entries are added on top of the parent environment.
type ServerDescriptor struct {
	Name    string            `yaml:"name" json:"name"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// ServerView is a read-only snapshot of one server's state.
type ServerView struct {
	Name      string       `json:"name"`
	Status    ServerStatus `json:"status"`
	StartedAt time.Time    `json:"started_at"`
	LastError string       `json:"last_error,omitempty"`
	PID       int          `json:"pid,omitempty"`
}

// Stats counts servers by status. Total always equals the sum of the
// per-status counts.
type Stats struct {
	Total    int `json:"total"`
	Running  int `json:"running"`
	Starting int `json:"starting"`
	Stopped  int `json:"stopped"`
	Error    int `json:"error"`
}

// serverState is the registry's mutable record for one descriptor. The
// generation counter ties a watcher goroutine to the process incarnation it
// observes; a stale watcher must not touch state owned by a later start.
type serverState struct {
	desc       ServerDescriptor
	status     ServerStatus
	startedAt  time.Time
	lastError  string
	cmd        *exec.Cmd
	generation uint64
}

// Options configure a Registry.
type Options struct {
	// GracePeriod is the liveness window between spawn and the
	// starting → running transition.
	GracePeriod time.Duration
	// Logger receives lifecycle events and child process output.
	Logger logging.Logger
}

// Registry tracks declared servers and supervises their processes.
//
// Contract:
//   - Exactly one status per server at any time.
//   - Transitions follow the state machine only; a process that exits on its
//     own moves to stopped via its watcher, never silently.
//   - Start and Stop report failure as values; they never panic on bad input.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*serverState

	grace  time.Duration
	logger logging.Logger
}

// New constructs an empty registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{
		GracePeriod: DefaultGracePeriod,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		servers: make(map[string]*serverState),
		grace:   opts.GracePeriod,
		logger:  opts.Logger,
	}
}

// Load registers descriptors, all initially stopped. Descriptors must carry
// a name and a command, and names must be unique across all loads.
func (r *Registry) Load(descriptors []ServerDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range descriptors {
		if d.Name == "" {
			return errors.New("server descriptor without name")
		}
		if d.Command == "" {
			return fmt.Errorf("server %s: descriptor without command", d.Name)
		}
		if _, exists := r.servers[d.Name]; exists {
			return fmt.Errorf("server %s: duplicate name", d.Name)
		}
		r.servers[d.Name] = &serverState{desc: d, status: StatusStopped}
	}
	return nil
}

// Start launches the named server and waits one grace period for it to stay
// alive. Starting an already running server is a no-op success. A spawn
// error moves the server to error; an exit within the grace window leaves it
// stopped, and Start reports the failure either way.
func (r *Registry) Start(name string) error {
	r.mu.Lock()
	st, ok := r.servers[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	switch st.status {
	case StatusRunning:
		r.mu.Unlock()
		return nil
	case StatusStarting:
		r.mu.Unlock()
		return fmt.Errorf("server %s is already starting", name)
	}

	st.status = StatusStarting
	st.lastError = ""

	cmd := exec.Command(st.desc.Command, st.desc.Args...)
	cmd.Env = append(os.Environ(), envPairs(st.desc.Env)...)

	stdin, stdout, stderr, err := pipeStdio(cmd)
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		st.status = StatusError
		st.lastError = err.Error()
		r.mu.Unlock()
		r.logger.Error("server.spawn_failed", "server", name, "command", st.desc.Command, "error", err.Error())
		return fmt.Errorf("spawn server %s: %w", name, err)
	}

	st.cmd = cmd
	st.generation++
	gen := st.generation
	r.mu.Unlock()

	r.logger.Info("server.starting", "server", name, "command", st.desc.Command, "pid", cmd.Process.Pid)

	var drained sync.WaitGroup
	drained.Add(2)
	go r.drain(name, "stdout", stdout, &drained)
	go r.drain(name, "stderr", stderr, &drained)
	go r.watch(name, gen, cmd, stdin, &drained)

	return r.awaitGrace(name, gen)
}

// pipeStdio attaches stdin/stdout/stderr pipes before the process starts.
func pipeStdio(cmd *exec.Cmd) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}
	return stdin, stdout, stderr, nil
}

// awaitGrace sleeps out the grace window and settles the starting state.
func (r *Registry) awaitGrace(name string, gen uint64) error {
	time.Sleep(r.grace)

	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.servers[name]
	if !ok || st.generation != gen {
		return fmt.Errorf("server %s was stopped during startup", name)
	}
	switch st.status {
	case StatusStarting:
		st.status = StatusRunning
		st.startedAt = time.Now().UTC()
		r.logger.Info("server.running", "server", name, "pid", st.cmd.Process.Pid)
		return nil
	case StatusRunning:
		return nil
	case StatusError:
		return fmt.Errorf("server %s failed to start: %s", name, st.lastError)
	default:
		if st.lastError != "" {
			return fmt.Errorf("server %s exited during startup: %s", name, st.lastError)
		}
		return fmt.Errorf("server %s exited during startup", name)
	}
}

// Stop kills the named server's process and marks it stopped. It returns
// false when the server is unknown or has no live process.
func (r *Registry) Stop(name string) bool {
	r.mu.Lock()
	st, ok := r.servers[name]
	if !ok || st.cmd == nil || (st.status != StatusRunning && st.status != StatusStarting) {
		r.mu.Unlock()
		return false
	}
	from := st.status
	cmd := st.cmd
	st.cmd = nil
	st.status = StatusStopped
	st.startedAt = time.Time{}
	st.generation++
	r.mu.Unlock()

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	r.logger.Info("server.stopped", "server", name, "from", string(from))
	return true
}

// StopAll stops every server with a live process and returns how many were
// stopped.
func (r *Registry) StopAll() int {
	r.mu.RLock()
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	stopped := 0
	for _, name := range names {
		if r.Stop(name) {
			stopped++
		}
	}
	return stopped
}

// Status returns the current status of the named server.
func (r *Registry) Status(name string) (ServerStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.servers[name]
	if !ok {
		return "", false
	}
	return st.status, true
}

// Stats counts servers by status.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Stats{Total: len(r.servers)}
	for _, st := range r.servers {
		switch st.status {
		case StatusRunning:
			stats.Running++
		case StatusStarting:
			stats.Starting++
		case StatusError:
			stats.Error++
		default:
			stats.Stopped++
		}
	}
	return stats
}

// Snapshot returns a view of every server, sorted by name.
func (r *Registry) Snapshot() []ServerView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]ServerView, 0, len(r.servers))
	for name, st := range r.servers {
		v := ServerView{
			Name:      name,
			Status:    st.status,
			StartedAt: st.startedAt,
			LastError: st.lastError,
		}
		if st.cmd != nil && st.cmd.Process != nil {
			v.PID = st.cmd.Process.Pid
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

// watch reaps the process and records its exit. The drain goroutines must
// finish before Wait so the stdio pipes are fully consumed.
func (r *Registry) watch(name string, gen uint64, cmd *exec.Cmd, stdin io.Closer, drained *sync.WaitGroup) {
	drained.Wait()
	err := cmd.Wait()
	_ = stdin.Close()

	r.mu.Lock()
	st, ok := r.servers[name]
	if !ok || st.generation != gen {
		// A later start or an explicit stop owns this entry now.
		r.mu.Unlock()
		return
	}
	from := st.status
	st.status = StatusStopped
	st.cmd = nil
	st.startedAt = time.Time{}
	if err != nil {
		st.lastError = err.Error()
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("server.exited", "server", name, "from", string(from), "error", err.Error())
		return
	}
	r.logger.Info("server.exited", "server", name, "from", string(from))
}

// drain forwards one child output stream to the logger line by line.
func (r *Registry) drain(name, stream string, pipe io.Reader, drained *sync.WaitGroup) {
	defer drained.Done()
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		r.logger.Debug("server.output", "server", name, "stream", stream, "line", scanner.Text())
	}
}

// envPairs renders an env map as KEY=VALUE strings in sorted key order.
func envPairs(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return pairs
}
