package tactile

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
}

func TestDirectExecutor_Execute(t *testing.T) {
	skipWithoutSh(t)
	exec := NewDirectExecutor(nil)
	dir := t.TempDir()

	tests := []struct {
		name     string
		cmd      Command
		exitCode int
		stdout   string
		stderr   string
	}{
		{
			name:   "stdout",
			cmd:    Command{Binary: "sh", Arguments: []string{"-c", "echo hello"}},
			stdout: "hello\n",
		},
		{
			name:     "non-zero exit with stderr",
			cmd:      Command{Binary: "sh", Arguments: []string{"-c", "echo oops >&2; exit 3"}},
			exitCode: 3,
			stderr:   "oops\n",
		},
		{
			name:   "stdin",
			cmd:    Command{Binary: "sh", Arguments: []string{"-c", "cat"}, Stdin: "piped"},
			stdout: "piped",
		},
		{
			name:   "working directory",
			cmd:    Command{Binary: "sh", Arguments: []string{"-c", "pwd"}, WorkingDirectory: dir},
			stdout: dir + "\n",
		},
		{
			name:   "extra environment",
			cmd:    Command{Binary: "sh", Arguments: []string{"-c", "printf %s \"$MAPGEN_TEST\""}, Environment: []string{"MAPGEN_TEST=yes"}},
			stdout: "yes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := exec.Execute(context.Background(), tt.cmd)
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, tt.exitCode, res.ExitCode)
			assert.Equal(t, tt.exitCode != 0, res.IsNonZeroExit())
			assert.Equal(t, tt.stdout, res.Stdout)
			assert.Equal(t, tt.stderr, res.Stderr)
			assert.False(t, res.Killed)
		})
	}
}

func TestDirectExecutor_Timeout(t *testing.T) {
	skipWithoutSh(t)
	exec := NewDirectExecutor(nil)

	start := time.Now()
	res, err := exec.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "exec sleep 5"},
		Timeout:   100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.True(t, res.Success)
	assert.True(t, res.Killed)
	assert.Contains(t, res.KillReason, "timeout")
	assert.Equal(t, -1, res.ExitCode)
}

func TestDirectExecutor_EnvironmentFiltered(t *testing.T) {
	skipWithoutSh(t)
	t.Setenv("MAPGEN_SECRET", "hidden")
	exec := NewDirectExecutor(nil)

	res, err := exec.Execute(context.Background(), Command{Binary: "sh", Arguments: []string{"-c", "printf %s \"$MAPGEN_SECRET\""}})
	require.NoError(t, err)
	assert.Empty(t, res.Stdout)
}

func TestDirectExecutor_MissingBinary(t *testing.T) {
	exec := NewDirectExecutor(nil)

	res, err := exec.Execute(context.Background(), Command{Binary: "/definitely/not/here"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.IsError())
	assert.NotEmpty(t, res.Error)

	_, err = exec.Execute(context.Background(), Command{})
	assert.Error(t, err)
}

func TestDirectExecutor_OutputTruncated(t *testing.T) {
	skipWithoutSh(t)
	cfg := DefaultExecutorConfig()
	cfg.MaxOutputBytes = 10
	exec := NewDirectExecutorWithConfig(cfg, nil)

	res, err := exec.Execute(context.Background(), Command{Binary: "sh", Arguments: []string{"-c", "printf 0123456789abcdef"}})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, "0123456789", res.Stdout)
	assert.Equal(t, int64(6), res.TruncatedBytes)
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 5}

	n, err := lw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = lw.Write([]byte("defg"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = lw.Write([]byte("xyz"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, "abcde", buf.String())
	assert.True(t, lw.truncated)
	assert.Equal(t, int64(5), lw.discarded)
}

func TestExecutionResult_Output(t *testing.T) {
	assert.Equal(t, "a\nb", (&ExecutionResult{Stdout: "a", Stderr: "b"}).Output())
	assert.Equal(t, "b", (&ExecutionResult{Stderr: "b"}).Output())
	assert.Equal(t, "c", (&ExecutionResult{Stdout: "a", Combined: "c"}).Output())
}

func TestExecutorConfig_TimeoutFor(t *testing.T) {
	cfg := ExecutorConfig{DefaultTimeout: time.Second, MaxTimeout: 5 * time.Second}
	assert.Equal(t, time.Second, cfg.timeoutFor(Command{}))
	assert.Equal(t, 2*time.Second, cfg.timeoutFor(Command{Timeout: 2 * time.Second}))
	assert.Equal(t, 5*time.Second, cfg.timeoutFor(Command{Timeout: time.Minute}))
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "figma connect parse", Command{Binary: "figma", Arguments: strings.Fields("connect parse")}.CommandString())
	assert.Equal(t, "figma", Command{Binary: "figma"}.CommandString())
}
