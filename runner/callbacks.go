package runner

import (
	"context"
	"fmt"
)

// CallbackType defines the specific lifecycle points where callbacks can be
// executed.
//
// Callbacks provide a flexible mechanism for hooking estimator accumulation,
// trace recording or reporting into the driver loop without modifying core
// logic. Each type represents a specific point in a run where custom logic
// can be injected.
//
// Available callback types:
//   - BeforeStep/AfterStep: Around one imaginary-time step of all walkers
//   - AfterStabilize: After a reorthogonalization sweep
//   - AfterPopControl: After a population-control epoch
//   - AfterCheckpoint: After walkers were written to the checkpoint store
//
// Callbacks are executed synchronously and can influence execution flow by
// returning errors that terminate the run.
type CallbackType string

const (
	// CallbackBeforeStep is triggered before the walkers are propagated.
	// Use for setup or instrumentation.
	CallbackBeforeStep CallbackType = "before_step"

	// CallbackAfterStep is triggered after all local walkers advanced one
	// step. Use for estimator accumulation or trace recording.
	CallbackAfterStep CallbackType = "after_step"

	// CallbackAfterStabilize is triggered after a reorthogonalization
	// sweep.
	CallbackAfterStabilize CallbackType = "after_stabilize"

	// CallbackAfterPopControl is triggered after a population-control
	// epoch. Use to observe rescaling and branching outcomes.
	CallbackAfterPopControl CallbackType = "after_pop_control"

	// CallbackAfterCheckpoint is triggered after walkers were persisted.
	CallbackAfterCheckpoint CallbackType = "after_checkpoint"
)

// CallbackContext provides context information for callback execution.
//
// The context is populated by the runner and passed to each callback,
// allowing callbacks to inspect the run state at the lifecycle point.
type CallbackContext struct {
	// RunID identifies the run.
	RunID string

	// Rank is the worker rank executing the callback.
	Rank int

	// Step is the one-based imaginary-time step number.
	Step int

	// TotalWeight is the most recent global total weight estimate.
	TotalWeight float64

	// EnergyShift is the current hybrid-energy shift.
	EnergyShift complex128

	// HybridEnergy is the weighted local average hybrid energy after the
	// step. Zero for callback types that fire before propagation.
	HybridEnergy complex128

	// CallbackType indicates which lifecycle point triggered this
	// execution, so shared callback implementations can branch on it.
	CallbackType CallbackType
}

// Callback defines the interface for driver lifecycle hooks.
//
// Implementations should be fast (callbacks run synchronously inside the
// step loop), safe (no panics) and stateless where possible. A callback
// returning an error terminates the run.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	trace := runner.NewFunctionCallback(
//	    runner.CallbackAfterStep,
//	    func(ctx context.Context, cc *runner.CallbackContext) error {
//	        energies = append(energies, cc.HybridEnergy)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback for the given
// lifecycle point.
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

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager orchestrates callback execution throughout the run
// lifecycle. Callbacks are executed in registration order; any callback
// returning an error terminates the run and prevents subsequent callbacks
// from running.
//
// Registration is not thread-safe; register all callbacks before starting
// the run. Execution after registration is safe for concurrent runs only if
// the callbacks themselves are.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// Register adds a callback for its declared lifecycle point.
func (m *CallbackManager) Register(cb Callback) {
	m.callbacks[cb.Type()] = append(m.callbacks[cb.Type()], cb)
}

// RegisterFunc adds a function callback for the given lifecycle point.
func (m *CallbackManager) RegisterFunc(t CallbackType, fn func(ctx context.Context, callbackCtx *CallbackContext) error) {
	m.Register(NewFunctionCallback(t, fn))
}

// Execute runs all callbacks registered for the given type in order.
func (m *CallbackManager) Execute(ctx context.Context, t CallbackType, callbackCtx *CallbackContext) error {
	callbackCtx.CallbackType = t
	for i, cb := range m.callbacks[t] {
		if err := cb.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("runner: callback %d for %s: %w", i, t, err)
		}
	}
	return nil
}
