package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/logging"
)

// Sentinel errors surfaced by the transport. Callers branch on these with
// errors.Is; everything else wraps an underlying cause.
var (
	// ErrNotConnected is returned when a request is issued before Connect
	// completed the initialize handshake.
	ErrNotConnected = errors.New("transport not connected")
	// ErrClosed is returned to pending and subsequent requests once the
	// transport has been disconnected or the process has exited.
	ErrClosed = errors.New("transport closed")
	// ErrTimeout is returned when no matching response arrived within the
	// request timeout.
	ErrTimeout = errors.New("request timed out")
)

// DefaultTimeout is the per-request timeout applied when none is configured.
const DefaultTimeout = 30 * time.Second

// Options configure a StdioTransport.
type Options struct {
	// Timeout bounds every request; a request with no matching response is
	// rejected and its pending slot freed once this elapses.
	Timeout time.Duration
	// ClientInfo is sent in the initialize handshake.
	ClientInfo ClientInfo
	// Logger receives framing diagnostics and lifecycle events.
	Logger logging.Logger
}

// outcome is the terminal state of one pending request.
type outcome struct {
	result json.RawMessage
	err    error
}

// StdioTransport is the JSON-RPC connection to one spawned server process.
//
// Lifecycle: New → Connect (spawn + initialize) → Request/ListTools/CallTool
// → Disconnect. A transport is single-use; after Disconnect it cannot be
// reconnected.
//
// Concurrency: any number of goroutines may issue requests concurrently.
// Each request owns a pending slot keyed by a monotonic id; one reader
// goroutine correlates responses to slots strictly by id. Disconnect (or an
// unexpected process exit) actively rejects every pending request with
// ErrClosed, so no caller is left hanging on a dead process.
type StdioTransport struct {
	command    string
	args       []string
	timeout    time.Duration
	clientInfo ClientInfo
	logger     logging.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu        sync.Mutex
	nextID    int64
	pending   map[int64]chan outcome
	connected bool
	closed    chan struct{}

	serverInfo *ServerInfo
}

// New creates an unconnected transport for the given launch command.
func New(command string, args []string, optFns ...func(o *Options)) *StdioTransport {
	opts := Options{
		Timeout:    DefaultTimeout,
		ClientInfo: ClientInfo{Name: "toolmesh", Version: "1.0.0"},
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &StdioTransport{
		command:    command,
		args:       args,
		timeout:    opts.Timeout,
		clientInfo: opts.ClientInfo,
		logger:     opts.Logger,
		pending:    make(map[int64]chan outcome),
		closed:     make(chan struct{}),
	}
}

// Connect spawns the process with piped stdio, starts the reader, and
// performs the initialize handshake. The transport is unusable until Connect
// returns nil.
func (t *StdioTransport) Connect(ctx context.Context) error {
	cmd := exec.Command(t.command, t.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", t.command, err)
	}

	t.cmd = cmd
	t.begin(stdin, stdout)
	go t.drainStderr(stderr)
	go func() {
		if werr := cmd.Wait(); werr != nil {
			t.shutdown(fmt.Errorf("%w: process exited: %v", ErrClosed, werr))
			return
		}
		t.shutdown(ErrClosed)
	}()

	info, err := t.initialize(ctx)
	if err != nil {
		_ = t.Disconnect()
		return fmt.Errorf("initialize handshake: %w", err)
	}

	t.mu.Lock()
	t.serverInfo = &info.ServerInfo
	t.mu.Unlock()

	t.logger.Info("transport.connected", "command", t.command, "server_name", info.ServerInfo.Name, "server_version", info.ServerInfo.Version)

	return nil
}

// begin wires the transport onto an already-open stdin/stdout pair and starts
// the reader. Split out from Connect so correlation and framing can be
// exercised over in-process pipes.
func (t *StdioTransport) begin(stdin io.WriteCloser, stdout io.Reader) {
	t.mu.Lock()
	t.stdin = stdin
	t.connected = true
	t.mu.Unlock()
	go t.readLoop(stdout)
}

func (t *StdioTransport) initialize(ctx context.Context) (*InitializeResult, error) {
	raw, err := t.Request(ctx, "initialize", initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      t.clientInfo,
	})
	if err != nil {
		return nil, err
	}
	var res InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode initialize result: %w", err)
	}
	return &res, nil
}

// Request sends a JSON-RPC request and blocks until the matching response,
// the timeout, ctx cancellation, or disconnect. The returned raw message is
// the response's result member.
func (t *StdioTransport) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		select {
		case <-t.closed:
			return nil, ErrClosed
		default:
			return nil, ErrNotConnected
		}
	}
	t.nextID++
	id := t.nextID
	ch := make(chan outcome, 1)
	t.pending[id] = ch
	stdin := t.stdin
	t.mu.Unlock()

	req := Request{JSONRPC: Version, ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		t.abandon(id)
		return nil, fmt.Errorf("encode request: %w", err)
	}
	data = append(data, '\n')

	t.logger.Debug("transport.request", "method", method, "id", id)

	if _, err := stdin.Write(data); err != nil {
		t.abandon(id)
		return nil, fmt.Errorf("write request: %w", err)
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-timer.C:
		if out, settled := t.cancel(id, ch); settled {
			return out.result, out.err
		}
		return nil, fmt.Errorf("%s (id %d): %w after %s", method, id, ErrTimeout, t.timeout)
	case <-ctx.Done():
		if out, settled := t.cancel(id, ch); settled {
			return out.result, out.err
		}
		return nil, ctx.Err()
	}
}

// abandon frees a pending slot that never made it onto the wire.
func (t *StdioTransport) abandon(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// cancel removes the pending slot for id. When the reader settled the slot
// first, the buffered outcome is returned instead so a response racing the
// timeout still reaches its caller.
func (t *StdioTransport) cancel(id int64, ch chan outcome) (outcome, bool) {
	t.mu.Lock()
	_, waiting := t.pending[id]
	if waiting {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if waiting {
		return outcome{}, false
	}
	return <-ch, true
}

// ListTools asks the server for its tool inventory via tools/list.
func (t *StdioTransport) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := t.Request(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var res listToolsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return res.Tools, nil
}

// CallTool invokes a named tool on the server via tools/call.
func (t *StdioTransport) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	return t.Request(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
}

// ServerInfo returns the server identification captured during the
// initialize handshake, or nil before Connect.
func (t *StdioTransport) ServerInfo() *ServerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.serverInfo
}

// Pending returns the number of requests currently awaiting a response.
func (t *StdioTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Connected reports whether the transport is usable.
func (t *StdioTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Disconnect kills the process and rejects every pending request with
// ErrClosed. Safe to call multiple times.
func (t *StdioTransport) Disconnect() error {
	t.shutdown(ErrClosed)

	t.mu.Lock()
	stdin := t.stdin
	cmd := t.cmd
	t.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return nil
}

// shutdown marks the transport closed and settles every pending request with
// err. Subsequent calls are no-ops.
func (t *StdioTransport) shutdown(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return
	}
	t.connected = false
	close(t.closed)
	rejected := len(t.pending)
	for id, ch := range t.pending {
		delete(t.pending, id)
		ch <- outcome{err: err}
	}
	t.logger.Debug("transport.closed", "command", t.command, "rejected_pending", rejected)
}

// readLoop splits stdout into newline-delimited frames and dispatches each
// complete line. A trailing partial line is retained by the scanner until
// the rest of it arrives. The loop exits on EOF or read error; the process
// watcher handles the resulting shutdown.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.handleLine(line)
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("transport.read_loop_ended", "command", t.command, "error", err.Error())
	}
}

// handleLine parses one frame. Lines that are not well-formed responses are
// treated as diagnostic output from the server: logged and discarded, never
// fatal.
func (t *StdioTransport) handleLine(line []byte) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil || resp.JSONRPC != Version || resp.ID == 0 {
		t.logger.Debug("transport.stdout", "command", t.command, "line", string(line))
		return
	}

	var out outcome
	if resp.Error != nil {
		out.err = resp.Error
	} else {
		out.result = resp.Result
	}

	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
		ch <- out
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("transport.unmatched_response", "command", t.command, "id", resp.ID)
	}
}

func (t *StdioTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug("transport.stderr", "command", t.command, "line", scanner.Text())
	}
}
