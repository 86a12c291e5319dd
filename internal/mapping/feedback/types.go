// Package feedback runs the generation-validation-repair loop for component
// mapping artifacts. A candidate produced by a Generator is checked by a cheap
// key-set scan (tier 1) and, only when that is clean, by the external Code
// Connect parser (tier 2). Failures are turned into a repair instruction and
// retried within an attempt budget.
package feedback

import (
	"context"
	"fmt"
	"time"
)

// ValidationResult is the verdict of one validation tier.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Ok returns a passing result.
func Ok() ValidationResult {
	return ValidationResult{Valid: true}
}

// Fail returns a failing result carrying errs.
func Fail(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// State is a position in the per-component state machine.
type State int

const (
	StateDrafting State = iota
	StateValidatingTier1
	StateValidatingTier2
	StateRepairing
	StateAccepted  // terminal: a candidate passed both tiers
	StateExhausted // terminal: budget spent without acceptance
	StateFailed    // terminal: tooling unavailable or scratch failure
	StateCancelled // terminal: context done before an attempt started
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateDrafting:
		return "drafting"
	case StateValidatingTier1:
		return "validating_tier1"
	case StateValidatingTier2:
		return "validating_tier2"
	case StateRepairing:
		return "repairing"
	case StateAccepted:
		return "accepted"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the loop stops in this state.
func (s State) IsTerminal() bool {
	return s >= StateAccepted
}

// FailureKind tags why an attempt did not produce an accepted artifact.
type FailureKind int

const (
	FailureNone      FailureKind = iota
	FailureContent               // tier 1 or tier 2 rejected the candidate
	FailureGenerator             // the generator call itself failed
	FailureTooling               // the structural checker could not run
)

// String returns a human-readable name for the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureContent:
		return "content"
	case FailureGenerator:
		return "generator"
	case FailureTooling:
		return "tooling"
	default:
		return "unknown"
	}
}

// Usage is the resource consumption reported by a generator for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u *Usage) Total() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens
}

// Completion is one generator response.
type Completion struct {
	Text  string
	Usage *Usage
}

// Generator produces candidate artifact text from an instruction. Calls are
// independent; a generator keeps no memory of earlier instructions.
type Generator interface {
	Generate(ctx context.Context, instruction string) (Completion, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, instruction string) (Completion, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, instruction string) (Completion, error) {
	return f(ctx, instruction)
}

// StructuralChecker is the tier 2 contract. An error return means the checker
// could not produce a verdict (tool unavailable, scratch failure); an invalid
// candidate is reported through the result.
type StructuralChecker interface {
	Run(ctx context.Context, text string, profile TargetProfile) (ValidationResult, error)
}

// AttemptRecord is the audit entry for one loop iteration.
type AttemptRecord struct {
	Number   int           `json:"number"`
	Usage    *Usage        `json:"usage,omitempty"`
	Valid    bool          `json:"valid"`
	Errors   []string      `json:"errors,omitempty"`
	Failure  FailureKind   `json:"failure"`
	Tier     int           `json:"tier"` // last tier reached: 0 none, 1 or 2
	Duration time.Duration `json:"duration"`
}

// Outcome is the terminal result for one component.
type Outcome struct {
	ComponentID   string          `json:"component_id"`
	ComponentName string          `json:"component_name"`
	State         State           `json:"state"`
	Accepted      bool            `json:"accepted"`
	FinalArtifact string          `json:"final_artifact"`
	Errors        []string        `json:"errors,omitempty"`
	Attempts      []AttemptRecord `json:"attempts"`
	Fatal         error           `json:"-"`
}

// Stats summarizes the attempt history of an outcome.
type Stats struct {
	Attempts          int
	AttemptsToSuccess int // 0 unless accepted
	GeneratorFailures int
	ContentFailures   int
	ToolingFailures   int
	InputTokens       int
	OutputTokens      int
}

// Stats computes aggregate counters from the attempt records.
func (o *Outcome) Stats() Stats {
	s := Stats{Attempts: len(o.Attempts)}
	for _, a := range o.Attempts {
		switch a.Failure {
		case FailureGenerator:
			s.GeneratorFailures++
		case FailureContent:
			s.ContentFailures++
		case FailureTooling:
			s.ToolingFailures++
		}
		if a.Usage != nil {
			s.InputTokens += a.Usage.InputTokens
			s.OutputTokens += a.Usage.OutputTokens
		}
	}
	if o.Accepted {
		s.AttemptsToSuccess = len(o.Attempts)
	}
	return s
}

// Summary returns a one-line description of the outcome.
func (o *Outcome) Summary() string {
	name := o.ComponentName
	if name == "" {
		name = o.ComponentID
	}
	switch o.State {
	case StateAccepted:
		return fmt.Sprintf("%s: accepted after %d attempt(s)", name, len(o.Attempts))
	case StateFailed:
		return fmt.Sprintf("%s: failed: %v", name, o.Fatal)
	case StateCancelled:
		return fmt.Sprintf("%s: cancelled after %d attempt(s)", name, len(o.Attempts))
	default:
		return fmt.Sprintf("%s: %s after %d attempt(s), %d error(s)", name, o.State, len(o.Attempts), len(o.Errors))
	}
}
