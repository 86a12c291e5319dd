package feedback

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapgen/internal/evidence"
)

// fakeGenerator replays scripted responses and records every instruction.
type fakeGenerator struct {
	responses    []fakeResponse
	instructions []string
	onCall       func(n int)
}

type fakeResponse struct {
	text string
	err  error
}

func (g *fakeGenerator) Generate(_ context.Context, instruction string) (Completion, error) {
	g.instructions = append(g.instructions, instruction)
	n := len(g.instructions)
	if g.onCall != nil {
		g.onCall(n)
	}
	r := g.responses[len(g.responses)-1]
	if n <= len(g.responses) {
		r = g.responses[n-1]
	}
	if r.err != nil {
		return Completion{}, r.err
	}
	return Completion{Text: r.text, Usage: &Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

// countingChecker is a tier 2 stand-in that counts calls.
type countingChecker struct {
	calls   int
	results []ValidationResult
	err     error
}

func (c *countingChecker) Run(_ context.Context, _ string, _ TargetProfile) (ValidationResult, error) {
	c.calls++
	if c.err != nil {
		return ValidationResult{}, c.err
	}
	if len(c.results) == 0 {
		return Ok(), nil
	}
	r := c.results[len(c.results)-1]
	if c.calls <= len(c.results) {
		r = c.results[c.calls-1]
	}
	return r, nil
}

func sizeEvidence() *evidence.Evidence {
	return &evidence.Evidence{
		ComponentID:   "1:2",
		ComponentName: "Button",
		VariantAxes:   []evidence.VariantAxis{{Name: "Size", Values: []string{"Small", "Large"}}},
	}
}

const (
	goodCandidate = "figma.connect(Button, \"u\", {\n  props: { size: figma.enum(\"Size\", {}) },\n})\n"
	badCandidate  = "figma.connect(Button, \"u\", {\n  props: { size: figma.boolean(\"Size\") },\n})\n"
)

func TestRunComponent_AcceptedFirstAttempt(t *testing.T) {
	checker := &countingChecker{}
	var states []State
	loop := NewLoop(ProfileReact, checker, nil, WithStateObserver(func(_ string, s State) {
		states = append(states, s)
	}))
	gen := &fakeGenerator{responses: []fakeResponse{{text: goodCandidate}}}

	out := loop.RunComponent(context.Background(), sizeEvidence(), "initial", gen, 3)

	assert.True(t, out.Accepted)
	assert.Equal(t, StateAccepted, out.State)
	assert.Equal(t, goodCandidate, out.FinalArtifact)
	assert.Empty(t, out.Errors)
	require.Len(t, out.Attempts, 1)
	assert.True(t, out.Attempts[0].Valid)
	assert.Equal(t, 2, out.Attempts[0].Tier)
	assert.Equal(t, FailureNone, out.Attempts[0].Failure)
	assert.Equal(t, 15, out.Attempts[0].Usage.Total())
	assert.Equal(t, 1, checker.calls)
	assert.Equal(t, []string{"initial"}, gen.instructions)
	assert.Equal(t, []State{StateDrafting, StateValidatingTier1, StateValidatingTier2, StateAccepted}, states)
}

func TestRunComponent_ShortCircuitAndExhaustion(t *testing.T) {
	for _, budget := range []int{0, 1, 3} {
		checker := &countingChecker{}
		loop := NewLoop(ProfileReact, checker, nil)
		gen := &fakeGenerator{responses: []fakeResponse{{text: badCandidate}}}

		out := loop.RunComponent(context.Background(), sizeEvidence(), "initial", gen, budget)

		assert.False(t, out.Accepted)
		assert.Equal(t, StateExhausted, out.State)
		assert.Len(t, out.Attempts, budget+1)
		assert.Zero(t, checker.calls, "tier 2 must not run when tier 1 fails")
		assert.Equal(t, badCandidate, out.FinalArtifact)
		require.Len(t, out.Errors, 1)
		assert.Contains(t, out.Errors[0], "asBoolean")
		for i, a := range out.Attempts {
			assert.Equal(t, i+1, a.Number)
			assert.Equal(t, FailureContent, a.Failure)
			assert.Equal(t, 1, a.Tier)
		}
	}
}

func TestRunComponent_RepairInstructionNamesRejectedKeys(t *testing.T) {
	checker := &countingChecker{}
	loop := NewLoop(ProfileReact, checker, nil)
	gen := &fakeGenerator{responses: []fakeResponse{
		{text: "Here you go:\n```tsx\n" + badCandidate + "```"},
		{text: goodCandidate},
	}}

	out := loop.RunComponent(context.Background(), sizeEvidence(), "Map the Button component.", gen, 3)

	require.True(t, out.Accepted)
	require.Len(t, out.Attempts, 2)
	require.Len(t, out.Attempts[0].Errors, 1)
	assert.LessOrEqual(t, len(out.Attempts), 4)
	assert.True(t, out.Attempts[len(out.Attempts)-1].Valid)

	require.Len(t, gen.instructions, 2)
	repair := gen.instructions[1]
	assert.True(t, strings.HasPrefix(repair, "Map the Button component."))
	assert.Contains(t, repair, strings.TrimRight(badCandidate, "\n"))
	assert.Contains(t, repair, out.Attempts[0].Errors[0])
	assert.Contains(t, repair, `figma.enum (asEnum): "Size"`)
	assert.Equal(t, 1, checker.calls)
}

func TestRunComponent_Tier2FailureFeedsRepair(t *testing.T) {
	checker := &countingChecker{results: []ValidationResult{
		Fail("line 2, column 7: Unexpected token"),
		Ok(),
	}}
	loop := NewLoop(ProfileReact, checker, nil)
	gen := &fakeGenerator{responses: []fakeResponse{{text: goodCandidate}}}

	out := loop.RunComponent(context.Background(), sizeEvidence(), "initial", gen, 2)

	require.True(t, out.Accepted)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, 2, out.Attempts[0].Tier)
	assert.Equal(t, FailureContent, out.Attempts[0].Failure)
	assert.Contains(t, gen.instructions[1], "line 2, column 7: Unexpected token")
	assert.Equal(t, 2, checker.calls)
}

func TestRunComponent_GeneratorFailure(t *testing.T) {
	loop := NewLoop(ProfileReact, &countingChecker{}, nil)
	gen := &fakeGenerator{responses: []fakeResponse{
		{err: errors.New("connection refused")},
		{text: goodCandidate},
	}}

	out := loop.RunComponent(context.Background(), sizeEvidence(), "initial", gen, 2)

	require.True(t, out.Accepted)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, FailureGenerator, out.Attempts[0].Failure)
	assert.Equal(t, []string{"generator failure: connection refused"}, out.Attempts[0].Errors)
	assert.Nil(t, out.Attempts[0].Usage)
	assert.Equal(t, []string{"initial", "initial"}, gen.instructions, "no repair without a candidate")

	stats := out.Stats()
	assert.Equal(t, 1, stats.GeneratorFailures)
	assert.Equal(t, 0, stats.ContentFailures)
	assert.Equal(t, 2, stats.AttemptsToSuccess)
}

func TestRunComponent_GeneratorFailureKeepsLastCandidate(t *testing.T) {
	loop := NewLoop(ProfileReact, &countingChecker{}, nil)
	gen := &fakeGenerator{responses: []fakeResponse{
		{text: badCandidate},
		{err: errors.New("rate limited")},
		{text: badCandidate},
		{err: errors.New("rate limited")},
	}}

	out := loop.RunComponent(context.Background(), sizeEvidence(), "initial", gen, 3)

	assert.Equal(t, StateExhausted, out.State)
	require.Len(t, out.Attempts, 4)
	assert.Contains(t, gen.instructions[2], strings.TrimRight(badCandidate, "\n"))
	assert.Equal(t, badCandidate, out.FinalArtifact)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "asBoolean")

	stats := out.Stats()
	assert.Equal(t, 2, stats.GeneratorFailures)
	assert.Equal(t, 2, stats.ContentFailures)
	assert.Zero(t, stats.AttemptsToSuccess)
}

func TestRunComponent_AllGeneratorFailures(t *testing.T) {
	loop := NewLoop(ProfileReact, nil, nil)
	gen := &fakeGenerator{responses: []fakeResponse{{err: errors.New("down")}}}

	out := loop.RunComponent(context.Background(), sizeEvidence(), "initial", gen, 1)

	assert.Equal(t, StateExhausted, out.State)
	assert.Len(t, out.Attempts, 2)
	assert.Empty(t, out.FinalArtifact)
	assert.Equal(t, []string{"generator failure: down"}, out.Errors)
}

func TestRunComponent_ToolingUnavailableIsFatal(t *testing.T) {
	checker := &countingChecker{err: &ToolUnavailableError{Tried: []string{"figma on PATH"}}}
	loop := NewLoop(ProfileReact, checker, nil)
	gen := &fakeGenerator{responses: []fakeResponse{{text: goodCandidate}}}

	out := loop.RunComponent(context.Background(), sizeEvidence(), "initial", gen, 3)

	assert.Equal(t, StateFailed, out.State)
	assert.False(t, out.Accepted)
	assert.ErrorIs(t, out.Fatal, ErrToolUnavailable)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, FailureTooling, out.Attempts[0].Failure)
	assert.Len(t, gen.instructions, 1, "tooling failures are not retried")
	assert.Equal(t, 1, out.Stats().ToolingFailures)
}

func TestRunComponent_Cancellation(t *testing.T) {
	t.Run("before first attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		gen := &fakeGenerator{responses: []fakeResponse{{text: goodCandidate}}}

		out := NewLoop(ProfileReact, nil, nil).RunComponent(ctx, sizeEvidence(), "initial", gen, 3)

		assert.Equal(t, StateCancelled, out.State)
		assert.Empty(t, out.Attempts)
		assert.Empty(t, gen.instructions)
	})

	t.Run("between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		gen := &fakeGenerator{
			responses: []fakeResponse{{text: badCandidate}},
			onCall:    func(int) { cancel() },
		}

		out := NewLoop(ProfileReact, nil, nil).RunComponent(ctx, sizeEvidence(), "initial", gen, 3)

		assert.Equal(t, StateCancelled, out.State)
		require.Len(t, out.Attempts, 1, "the in-flight attempt completes")
		assert.Equal(t, badCandidate, out.FinalArtifact)
	})
}

func TestRunComponent_EmptyArtifact(t *testing.T) {
	checker := &countingChecker{}
	gen := &fakeGenerator{responses: []fakeResponse{{text: "```tsx\n```"}, {text: goodCandidate}}}

	out := NewLoop(ProfileReact, checker, nil).RunComponent(context.Background(), sizeEvidence(), "initial", gen, 1)

	require.True(t, out.Accepted)
	assert.Equal(t, []string{"generator returned an empty artifact"}, out.Attempts[0].Errors)
	assert.Equal(t, 0, out.Attempts[0].Tier)
	assert.Equal(t, 1, checker.calls)
}

func TestRunComponent_NegativeBudget(t *testing.T) {
	gen := &fakeGenerator{responses: []fakeResponse{{text: badCandidate}}}
	out := NewLoop(ProfileReact, nil, nil).RunComponent(context.Background(), sizeEvidence(), "initial", gen, -2)
	assert.Len(t, out.Attempts, 1)
}

func TestValidateArtifact(t *testing.T) {
	checker := &countingChecker{results: []ValidationResult{Fail("line 1, column 1: nope")}}
	loop := NewLoop(ProfileReact, checker, nil)
	ctx := context.Background()

	report, err := loop.ValidateArtifact(ctx, sizeEvidence(), badCandidate, false)
	require.NoError(t, err)
	assert.False(t, report.Valid())
	assert.Nil(t, report.Tier2)
	assert.Zero(t, checker.calls)

	report, err = loop.ValidateArtifact(ctx, sizeEvidence(), goodCandidate, true)
	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Nil(t, report.Tier2)

	report, err = loop.ValidateArtifact(ctx, sizeEvidence(), goodCandidate, false)
	require.NoError(t, err)
	require.NotNil(t, report.Tier2)
	assert.False(t, report.Valid())
	assert.Equal(t, []string{"line 1, column 1: nope"}, report.Errors())
}

func TestOutcomeSummary(t *testing.T) {
	o := Outcome{ComponentName: "Button", State: StateAccepted, Attempts: make([]AttemptRecord, 2)}
	assert.Equal(t, "Button: accepted after 2 attempt(s)", o.Summary())

	o = Outcome{ComponentID: "1:2", State: StateExhausted, Attempts: make([]AttemptRecord, 4), Errors: []string{"a"}}
	assert.Equal(t, "1:2: exhausted after 4 attempt(s), 1 error(s)", o.Summary())
}

func TestState(t *testing.T) {
	assert.False(t, StateRepairing.IsTerminal())
	assert.True(t, StateExhausted.IsTerminal())
	assert.Equal(t, "validating_tier2", StateValidatingTier2.String())
	assert.Equal(t, "generator", FailureGenerator.String())
}
