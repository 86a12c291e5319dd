package feedback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrToolUnavailable is matched by every error reporting that the structural
// parser could not be located. It is a configuration failure, not a verdict.
var ErrToolUnavailable = errors.New("structural parser unavailable")

// ToolUnavailableError lists where the resolver looked.
type ToolUnavailableError struct {
	Tried []string
}

func (e *ToolUnavailableError) Error() string {
	if len(e.Tried) == 0 {
		return ErrToolUnavailable.Error()
	}
	return fmt.Sprintf("%s (tried %s)", ErrToolUnavailable, strings.Join(e.Tried, ", "))
}

// Is makes errors.Is(err, ErrToolUnavailable) hold.
func (e *ToolUnavailableError) Is(target error) bool {
	return target == ErrToolUnavailable
}

// ToolSource says how a tool handle was found.
type ToolSource string

const (
	SourceOverride ToolSource = "override"
	SourceProject  ToolSource = "project"
	SourcePath     ToolSource = "path"
)

// ToolHandle is a resolved, runnable structural parser.
type ToolHandle struct {
	Path   string
	Source ToolSource
}

// ToolResolver locates the structural parser.
type ToolResolver interface {
	Resolve(ctx context.Context) (ToolHandle, error)
}

// ChainResolver tries an explicit override, then a project-local install,
// then the executable search path.
type ChainResolver struct {
	Override    string // explicit binary path or name
	ProjectRoot string // directory holding node_modules
	BinaryName  string // name looked up on PATH, default "figma"
}

// NewChainResolver creates a resolver with the default binary name.
func NewChainResolver(override, projectRoot string) *ChainResolver {
	return &ChainResolver{
		Override:    override,
		ProjectRoot: projectRoot,
		BinaryName:  "figma",
	}
}

// Resolve returns the first usable candidate or a *ToolUnavailableError.
func (r *ChainResolver) Resolve(ctx context.Context) (ToolHandle, error) {
	if err := ctx.Err(); err != nil {
		return ToolHandle{}, err
	}

	name := r.BinaryName
	if name == "" {
		name = "figma"
	}
	var tried []string

	if r.Override != "" {
		tried = append(tried, r.Override)
		if p, ok := lookup(r.Override); ok {
			return ToolHandle{Path: p, Source: SourceOverride}, nil
		}
	}

	if r.ProjectRoot != "" {
		local := filepath.Join(r.ProjectRoot, "node_modules", ".bin", name)
		if runtime.GOOS == "windows" {
			local += ".cmd"
		}
		tried = append(tried, local)
		if isExecutable(local) {
			return ToolHandle{Path: local, Source: SourceProject}, nil
		}
	}

	tried = append(tried, name+" on PATH")
	if p, err := exec.LookPath(name); err == nil {
		return ToolHandle{Path: p, Source: SourcePath}, nil
	}

	return ToolHandle{}, &ToolUnavailableError{Tried: tried}
}

// lookup resolves a path or a bare name.
func lookup(bin string) (string, bool) {
	if strings.ContainsRune(bin, os.PathSeparator) || strings.Contains(bin, "/") {
		return bin, isExecutable(bin)
	}
	p, err := exec.LookPath(bin)
	return p, err == nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

// StaticResolver always returns the same handle or error.
type StaticResolver struct {
	Handle ToolHandle
	Err    error
}

// Resolve returns the fixed handle.
func (r StaticResolver) Resolve(context.Context) (ToolHandle, error) {
	return r.Handle, r.Err
}
