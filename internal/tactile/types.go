// Package tactile runs external processes for mapgen: the structural parser that
// validates candidate artifacts and any CLI-backed generator. It captures
// stdout and stderr with size caps and enforces a hard wall-clock timeout.
package tactile

import (
	"strings"
	"time"
)

// Command describes one process invocation.
type Command struct {
	// Binary is the executable to run.
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// WorkingDirectory is the directory to execute in.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment variables to set (KEY=VALUE), added to the allowed pass-through set.
	Environment []string `json:"environment,omitempty"`

	// Stdin provides input to the command's standard input.
	Stdin string `json:"stdin,omitempty"`

	// Timeout bounds wall-clock execution. Zero means the executor default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// CommandString returns the full command as a string (for display/logging).
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ExecutionResult is the outcome of one invocation.
type ExecutionResult struct {
	// Success is false only when the process could not be run at all.
	// A process that exits non-zero or is killed on timeout has Success=true.
	Success bool `json:"success"`

	// ExitCode is the process exit code (-1 if not available).
	ExitCode int `json:"exit_code"`

	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Combined string `json:"combined"`

	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	// Killed indicates the process was terminated on timeout or cancellation.
	Killed     bool   `json:"killed"`
	KillReason string `json:"kill_reason,omitempty"`

	// Truncated indicates output was cut at the size cap.
	Truncated      bool  `json:"truncated"`
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`

	// Error carries an infrastructure failure (binary missing, not executable).
	Error string `json:"error,omitempty"`
}

// IsError returns true if the process could not be run.
func (r *ExecutionResult) IsError() bool {
	return !r.Success || r.Error != ""
}

// IsNonZeroExit returns true if the process ran but did not exit cleanly.
func (r *ExecutionResult) IsNonZeroExit() bool {
	return r.Success && r.ExitCode != 0
}

// Output returns stdout and stderr joined.
func (r *ExecutionResult) Output() string {
	if r.Combined != "" {
		return r.Combined
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// ExecutorConfig configures a DirectExecutor.
type ExecutorConfig struct {
	// DefaultTimeout is used when Command.Timeout is zero.
	DefaultTimeout time.Duration `json:"default_timeout"`

	// MaxTimeout caps all timeout values.
	MaxTimeout time.Duration `json:"max_timeout"`

	// AllowedEnvironment lists environment variables passed through from the host.
	AllowedEnvironment []string `json:"allowed_environment"`

	// MaxOutputBytes caps stdout and stderr capture each.
	MaxOutputBytes int64 `json:"max_output_bytes"`
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultTimeout:     60 * time.Second,
		MaxTimeout:         10 * time.Minute,
		MaxOutputBytes:     1 << 20,
		AllowedEnvironment: []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "NODE_PATH"},
	}
}

// timeoutFor resolves the effective timeout for cmd.
func (c ExecutorConfig) timeoutFor(cmd Command) time.Duration {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = c.DefaultTimeout
	}
	if c.MaxTimeout > 0 && timeout > c.MaxTimeout {
		timeout = c.MaxTimeout
	}
	return timeout
}
