package orchestrator

import (
	"context"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/router"
	"github.com/hupe1980/toolmesh/tool"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks hook into the chat loop without modifying it: surfaces like the
// serve command use them to forward activity to the websocket hub, tests use
// them to observe loop behavior. They run synchronously; a callback
// returning an error terminates the turn.
type CallbackType string

const (
	// CallbackOnMessage fires after any message is appended to a
	// conversation log (user, assistant or tool result).
	CallbackOnMessage CallbackType = "on_message"

	// CallbackOnToolCall fires after a tool call settles, with its result
	// envelope.
	CallbackOnToolCall CallbackType = "on_tool_call"

	// CallbackOnModelSelect fires after an engine has been chosen for an
	// iteration.
	CallbackOnModelSelect CallbackType = "on_model_select"

	// CallbackOnLoopExhausted fires when a turn ends because the iteration
	// budget ran out rather than because the engine produced a final answer.
	CallbackOnLoopExhausted CallbackType = "on_loop_exhausted"
)

// CallbackContext carries the loop state relevant to a callback execution.
// Fields not applicable to the callback type are zero-valued.
type CallbackContext struct {
	// ConversationID identifies the conversation the turn runs in.
	ConversationID string

	// TaskType is the detected (or overridden) task for the turn.
	TaskType router.TaskType

	// Model is the engine name chosen for the current iteration.
	Model string

	// Iteration is the 1-based loop iteration, 0 before the loop starts.
	Iteration int

	// Message is the appended message for CallbackOnMessage.
	Message *core.Message

	// ToolResult is the settled envelope for CallbackOnToolCall.
	ToolResult *tool.Result
}

// Callback is a lifecycle hook. Implementations should be fast (they run
// synchronously inside the loop) and must not panic.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic. Returning an error terminates
	// the turn.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a plain function as a Callback.
//
// Example:
//
//	cb := NewFunctionCallback(CallbackOnToolCall,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("tool %s success=%v", cc.ToolResult.Tool, cc.ToolResult.Success)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a function-based callback for the given type.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager is a registry of callbacks keyed by type. Registration is
// not thread-safe; register everything before starting chat turns. Execution
// is safe for concurrent use once registration is complete.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// Register adds a callback. Multiple callbacks per type run in registration
// order.
func (cm *CallbackManager) Register(callback Callback) {
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// Execute runs every callback registered for the type in order. The first
// error stops execution and is returned.
func (cm *CallbackManager) Execute(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	for _, callback := range cm.callbacks[callbackType] {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}
