// Package dispatch resolves a completion's function-call intent to a
// registered callback. Dispatchers only resolve and bind; executing the
// callback is the caller's responsibility.
package dispatch

import (
	"context"
	"fmt"

	"github.com/srnnkls/lalia/pkg/llm"
	"github.com/srnnkls/lalia/pkg/messages"
	"github.com/srnnkls/lalia/pkg/parser"
	"github.com/srnnkls/lalia/pkg/schema"
)

// Callback pairs a declared parameter schema with the function to run.
// Schemas are registered up front; nothing is introspected at call time.
type Callback struct {
	Name        string
	Description string
	Parameters  *schema.Schema
	Fn          func(ctx context.Context, args map[string]any) (string, error)
}

// Def renders the callback as a function definition for completion
// requests.
func (c *Callback) Def() llm.FunctionDef {
	return llm.FunctionDef{
		Name:        c.Name,
		Description: c.Description,
		Parameters:  c.Parameters,
	}
}

// UnknownCallbackError is returned when a completion names a callback that
// was never registered. This is a caller configuration error, not a model
// error, and is terminal.
type UnknownCallbackError struct {
	Name string
}

func (e *UnknownCallbackError) Error() string {
	return fmt.Sprintf("unknown callback %q", e.Name)
}

// Registry holds the callbacks a session offers to the model.
type Registry struct {
	callbacks map[string]*Callback
	order     []string
	version   uint64
}

// NewRegistry creates a registry with the given callbacks.
func NewRegistry(callbacks ...*Callback) *Registry {
	r := &Registry{callbacks: make(map[string]*Callback)}
	for _, cb := range callbacks {
		r.Register(cb)
	}
	return r
}

// Register adds or replaces a callback.
func (r *Registry) Register(cb *Callback) {
	if _, exists := r.callbacks[cb.Name]; !exists {
		r.order = append(r.order, cb.Name)
	}
	r.callbacks[cb.Name] = cb
	r.version++
}

// Version changes whenever the registered set does; cached resolutions are
// valid only for the version they were made under.
func (r *Registry) Version() uint64 {
	return r.version
}

// Resolve looks up a callback by name.
func (r *Registry) Resolve(name string) (*Callback, error) {
	cb, ok := r.callbacks[name]
	if !ok {
		return nil, &UnknownCallbackError{Name: name}
	}
	return cb, nil
}

// Defs returns function definitions for every registered callback, in
// registration order.
func (r *Registry) Defs() []llm.FunctionDef {
	defs := make([]llm.FunctionDef, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.callbacks[name].Def())
	}
	return defs
}

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	return len(r.callbacks)
}

// Session is the narrow view a dispatcher needs of a session.
type Session interface {
	// LastCompletion returns the completion produced by the most recent
	// model invocation.
	LastCompletion() *llm.CompletionResponse

	// Buffer returns the session's message buffer.
	Buffer() *messages.MessageBuffer

	// Callbacks returns the session's callback registry.
	Callbacks() *Registry

	// ArgumentParser returns the parser used to repair malformed call
	// arguments.
	ArgumentParser() *parser.Parser
}

// DispatchCall bundles a resolved callback, the buffer at dispatch time,
// the bound parameters, and the finish reason that triggered the dispatch.
// The callback has not been executed.
type DispatchCall struct {
	Callback     *Callback
	Buffer       *messages.MessageBuffer
	Params       map[string]any
	Aux          []messages.Message
	FinishReason llm.FinishReason
}

// Dispatcher decides from a completion whether a callback should run.
type Dispatcher interface {
	Dispatch(ctx context.Context, session Session) (*DispatchCall, error)
	Reset()
}

// FunctionsDispatcher resolves function-call completions against the
// session's registry, validating arguments through the parser's correction
// loop. Resolutions are cached until Reset or until the registry changes.
type FunctionsDispatcher struct {
	cache   map[string]*Callback
	version uint64
}

// NewFunctionsDispatcher creates an empty dispatcher.
func NewFunctionsDispatcher() *FunctionsDispatcher {
	return &FunctionsDispatcher{cache: make(map[string]*Callback)}
}

// Dispatch inspects the latest completion's finish reason. When it carries
// a function call, the named callback is resolved and its arguments bound;
// otherwise Dispatch returns (nil, nil). Malformed arguments are repaired
// via the parser, and the corrective messages travel on the DispatchCall.
func (d *FunctionsDispatcher) Dispatch(ctx context.Context, session Session) (*DispatchCall, error) {
	completion := session.LastCompletion()
	choice, ok := completion.First()
	if !ok {
		return nil, nil
	}
	call := choice.Message.FunctionCall
	if choice.FinishReason != llm.FinishReasonFunctionCall || call == nil {
		return nil, nil
	}

	registry := session.Callbacks()
	if v := registry.Version(); v != d.version {
		d.cache = make(map[string]*Callback)
		d.version = v
	}
	cb, cached := d.cache[call.Name]
	if !cached {
		var err error
		cb, err = registry.Resolve(call.Name)
		if err != nil {
			return nil, err
		}
		d.cache[call.Name] = cb
	}

	// A callback without a declared schema takes no arguments; there is
	// nothing to bind or repair.
	if cb.Parameters == nil {
		return &DispatchCall{
			Callback:     cb,
			Buffer:       session.Buffer(),
			FinishReason: choice.FinishReason,
		}, nil
	}

	params, aux, err := session.ArgumentParser().Parse(ctx, call.Arguments, cb.Parameters, session.Buffer().Working())
	if err != nil {
		return nil, fmt.Errorf("bind arguments for %q: %w", call.Name, err)
	}

	return &DispatchCall{
		Callback:     cb,
		Buffer:       session.Buffer(),
		Params:       params,
		Aux:          aux,
		FinishReason: choice.FinishReason,
	}, nil
}

// Reset clears the call-resolution cache.
func (d *FunctionsDispatcher) Reset() {
	d.cache = make(map[string]*Callback)
}
