package observe

// Executor runs notification callbacks in the owner's execution context.
type Executor interface {
	Dispatch(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

// Dispatch calls f(fn).
func (f ExecutorFunc) Dispatch(fn func()) { f(fn) }

// Inline runs every callback immediately on the calling goroutine.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })
