package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mapgen/internal/evidence"
	"mapgen/internal/logging"
)

// Loop drives the generation-validation-repair cycle for one component at a
// time. A Loop holds no per-component state and may be shared by concurrent
// RunComponent calls.
type Loop struct {
	profile    TargetProfile
	pre        *PreValidator
	structural StructuralChecker
	prompts    *PromptBuilder
	observe    func(componentID string, s State)
	logger     *zap.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPromptBuilder replaces the default prompt builder.
func WithPromptBuilder(pb *PromptBuilder) LoopOption {
	return func(l *Loop) { l.prompts = pb }
}

// WithPreValidator replaces the default tier 1 validator.
func WithPreValidator(pv *PreValidator) LoopOption {
	return func(l *Loop) { l.pre = pv }
}

// WithStateObserver registers fn to be called on every state transition.
// fn is called from the goroutine running RunComponent.
func WithStateObserver(fn func(componentID string, s State)) LoopOption {
	return func(l *Loop) { l.observe = fn }
}

// NewLoop creates a loop for profile. A nil structural checker runs tier 1 only.
func NewLoop(profile TargetProfile, structural StructuralChecker, logger *zap.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		profile:    profile,
		pre:        NewPreValidator(logger),
		structural: structural,
		prompts:    NewPromptBuilder(),
		logger:     logging.For(logger, logging.CategoryLoop),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Profile returns the target profile candidates are validated against.
func (l *Loop) Profile() TargetProfile {
	return l.profile
}

// Prompts returns the loop's prompt builder.
func (l *Loop) Prompts() *PromptBuilder {
	return l.prompts
}

// RunComponent generates and validates a mapping for ev, retrying up to budget
// additional times. It always returns a terminal Outcome; tooling failures end
// the loop with StateFailed instead of propagating.
//
// Cancellation is checked before each attempt only. An in-flight generator or
// parser call is not interrupted by the loop itself.
func (l *Loop) RunComponent(ctx context.Context, ev *evidence.Evidence, initialInstruction string, gen Generator, budget int) Outcome {
	if budget < 0 {
		budget = 0
	}
	maxAttempts := budget + 1
	ks := BuildKeySets(ev)

	out := Outcome{State: StateDrafting}
	if ev != nil {
		out.ComponentID = ev.ComponentID
		out.ComponentName = ev.ComponentName
	}
	log := l.logger.With(zap.String("component", out.ComponentName), zap.String("component_id", out.ComponentID))

	var (
		lastCandidate string
		lastErrors    []string
		haveCandidate bool
	)

	finish := func(state State) Outcome {
		l.setState(&out, state)
		out.FinalArtifact = lastCandidate
		if haveCandidate {
			out.Errors = lastErrors
		} else if n := len(out.Attempts); n > 0 {
			out.Errors = out.Attempts[n-1].Errors
		}
		if state == StateAccepted {
			out.Accepted = true
			out.Errors = nil
		}
		log.Info("component finished",
			zap.String("state", state.String()),
			zap.Int("attempts", len(out.Attempts)),
			zap.Int("errors", len(out.Errors)))
		return out
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			log.Warn("loop cancelled", zap.Int("attempt", attempt), zap.Error(err))
			return finish(StateCancelled)
		}

		instruction := initialInstruction
		if attempt > 1 && haveCandidate {
			l.setState(&out, StateRepairing)
			instruction = l.prompts.BuildRepairInstruction(RepairContext{
				InitialInstruction: initialInstruction,
				PreviousCandidate:  lastCandidate,
				Errors:             lastErrors,
				Attempt:            attempt,
				MaxAttempts:        maxAttempts,
				KeySets:            ks,
			})
		}

		l.setState(&out, StateDrafting)
		log.Debug("attempt started", zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts))
		start := time.Now()
		record := AttemptRecord{Number: attempt}

		completion, err := gen.Generate(ctx, instruction)
		if err != nil {
			record.Failure = FailureGenerator
			record.Errors = []string{fmt.Sprintf("generator failure: %v", err)}
			record.Duration = time.Since(start)
			out.Attempts = append(out.Attempts, record)
			log.Warn("generator failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		record.Usage = completion.Usage

		candidate := ExtractArtifact(completion.Text)
		result, fatal := l.validate(ctx, &out, &record, candidate, ks)
		record.Valid = result.Valid
		record.Errors = result.Errors
		record.Duration = time.Since(start)

		if fatal != nil {
			record.Failure = FailureTooling
			record.Errors = []string{fatal.Error()}
			out.Attempts = append(out.Attempts, record)
			lastCandidate, lastErrors, haveCandidate = candidate, record.Errors, true
			if errors.Is(fatal, context.Canceled) || errors.Is(fatal, context.DeadlineExceeded) {
				return finish(StateCancelled)
			}
			out.Fatal = fatal
			log.Error("structural checker unavailable", zap.Error(fatal))
			return finish(StateFailed)
		}

		if !result.Valid {
			record.Failure = FailureContent
		}
		out.Attempts = append(out.Attempts, record)
		lastCandidate, lastErrors, haveCandidate = candidate, result.Errors, true

		if result.Valid {
			return finish(StateAccepted)
		}
		log.Debug("attempt rejected",
			zap.Int("attempt", attempt),
			zap.Int("tier", record.Tier),
			zap.Strings("errors", result.Errors))
	}

	return finish(StateExhausted)
}

func (l *Loop) setState(out *Outcome, s State) {
	out.State = s
	if l.observe != nil {
		l.observe(out.ComponentID, s)
	}
}

// validate runs tier 1 and, if it is clean, tier 2. A non-nil error means the
// structural checker could not produce a verdict.
func (l *Loop) validate(ctx context.Context, out *Outcome, record *AttemptRecord, candidate string, ks *KeySets) (ValidationResult, error) {
	if candidate == "" {
		return Fail("generator returned an empty artifact"), nil
	}

	l.setState(out, StateValidatingTier1)
	record.Tier = 1
	tier1 := l.pre.Validate(candidate, ks)
	if !tier1.Valid || l.structural == nil {
		return tier1, nil
	}

	l.setState(out, StateValidatingTier2)
	record.Tier = 2
	return l.structural.Run(ctx, candidate, l.profile)
}

// Report is the result of validating one artifact outside the loop.
type Report struct {
	Tier1 ValidationResult  `json:"tier1"`
	Tier2 *ValidationResult `json:"tier2,omitempty"` // nil when tier 2 did not run
}

// Valid reports whether every tier that ran passed.
func (r Report) Valid() bool {
	return r.Tier1.Valid && (r.Tier2 == nil || r.Tier2.Valid)
}

// Errors returns the errors of every tier that ran.
func (r Report) Errors() []string {
	errs := append([]string(nil), r.Tier1.Errors...)
	if r.Tier2 != nil {
		errs = append(errs, r.Tier2.Errors...)
	}
	return errs
}

// ValidateArtifact runs the same tiers as one loop attempt against existing
// text. Tier 2 is skipped when tier1Only is set, tier 1 fails, or the loop has
// no structural checker.
func (l *Loop) ValidateArtifact(ctx context.Context, ev *evidence.Evidence, text string, tier1Only bool) (Report, error) {
	candidate := ExtractArtifact(text)
	report := Report{Tier1: l.pre.Validate(candidate, BuildKeySets(ev))}
	if !report.Tier1.Valid || tier1Only || l.structural == nil {
		return report, nil
	}
	tier2, err := l.structural.Run(ctx, candidate, l.profile)
	if err != nil {
		return report, err
	}
	report.Tier2 = &tier2
	return report, nil
}
