package tactile

import "context"

// Executor runs commands. The structural validator depends on this interface
// so tests can substitute a scripted executor.
type Executor interface {
	// Execute runs a command. An error is returned only for an invalid command;
	// process failures are reported through the result.
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd Command) (*ExecutionResult, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	return f(ctx, cmd)
}
