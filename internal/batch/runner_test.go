package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mapgen/internal/evidence"
	"mapgen/internal/mapping/feedback"
	"mapgen/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func job(name string) Job {
	return Job{Evidence: &evidence.Evidence{
		ComponentID:   name + "-id",
		ComponentName: name,
		VariantAxes:   []evidence.VariantAxis{{Name: "Size", Values: []string{"Small", "Large"}}},
	}}
}

// nameGenerator returns a valid mapping unless the instruction names a
// component starting with "Bad".
func nameGenerator(active, peak *int32, delay time.Duration) feedback.Generator {
	return feedback.GeneratorFunc(func(_ context.Context, instruction string) (feedback.Completion, error) {
		n := atomic.AddInt32(active, 1)
		defer atomic.AddInt32(active, -1)
		for {
			p := atomic.LoadInt32(peak)
			if n <= p || atomic.CompareAndSwapInt32(peak, p, n) {
				break
			}
		}
		time.Sleep(delay)
		if strings.Contains(instruction, `"Bad`) {
			return feedback.Completion{Text: `figma.boolean("Size")`}, nil
		}
		return feedback.Completion{Text: `figma.enum("Size", {})`}, nil
	})
}

type memRecorder struct {
	mu   sync.Mutex
	seen map[string]feedback.State
	fail string
}

func (r *memRecorder) RecordOutcome(_ context.Context, runID string, out feedback.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if out.ComponentName == r.fail {
		return errors.New("disk full")
	}
	r.seen[runID+"/"+out.ComponentName] = out.State
	return nil
}

type fatalChecker struct{}

func (fatalChecker) Run(context.Context, string, feedback.TargetProfile) (feedback.ValidationResult, error) {
	return feedback.ValidationResult{}, &feedback.ToolUnavailableError{}
}

func TestRunner_OrderAndConcurrency(t *testing.T) {
	var active, peak int32
	loop := feedback.NewLoop(feedback.ProfileReact, nil, nil)
	rec := &memRecorder{seen: map[string]feedback.State{}}

	var jobs []Job
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("Comp%02d", i)
		if i%4 == 0 {
			name = fmt.Sprintf("Bad%02d", i)
		}
		jobs = append(jobs, job(name))
	}

	var order []int
	r := NewRunner(loop, nameGenerator(&active, &peak, 10*time.Millisecond), Options{
		Workers:   3,
		Budget:    1,
		RunID:     "run-1",
		Recorder:  rec,
		OnOutcome: func(i int, _ feedback.Outcome) { order = append(order, i) },
	}, nil)

	outcomes, err := r.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, outcomes, len(jobs))

	for i, out := range outcomes {
		assert.Equal(t, jobs[i].Evidence.ComponentName, out.ComponentName)
		if i%4 == 0 {
			assert.Equal(t, feedback.StateExhausted, out.State)
			assert.Len(t, out.Attempts, 2)
		} else {
			assert.Equal(t, feedback.StateAccepted, out.State)
		}
		assert.Equal(t, out.State, rec.seen["run-1/"+out.ComponentName])
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Len(t, order, len(jobs))

	s := Summarize(outcomes)
	assert.Equal(t, Summary{Total: 12, Accepted: 9, Exhausted: 3, MeanAttempts: 1}, s)
}

func TestRunner_FatalDoesNotBlockOthers(t *testing.T) {
	var active, peak int32
	loop := feedback.NewLoop(feedback.ProfileReact, fatalChecker{}, nil)
	r := NewRunner(loop, nameGenerator(&active, &peak, 0), Options{Workers: 2}, nil)

	outcomes, err := r.Run(context.Background(), []Job{job("A"), job("B"), {}})
	require.NoError(t, err)
	for _, out := range outcomes {
		assert.Equal(t, feedback.StateFailed, out.State)
		assert.Error(t, out.Fatal)
	}
	assert.ErrorIs(t, outcomes[0].Fatal, feedback.ErrToolUnavailable)
}

func TestRunner_RecorderErrorsJoined(t *testing.T) {
	var active, peak int32
	rec := &memRecorder{seen: map[string]feedback.State{}, fail: "B"}
	r := NewRunner(feedback.NewLoop(feedback.ProfileReact, nil, nil), nameGenerator(&active, &peak, 0),
		Options{Workers: 4, Recorder: rec}, nil)

	outcomes, err := r.Run(context.Background(), []Job{job("A"), job("B"), job("C")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record B: disk full")
	assert.Len(t, outcomes, 3)
	assert.Len(t, rec.seen, 2)
}

func TestRunner_Cancelled(t *testing.T) {
	var active, peak int32
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(feedback.NewLoop(feedback.ProfileReact, nil, nil), nameGenerator(&active, &peak, 0), Options{Workers: 0}, nil)

	outcomes, err := r.Run(ctx, []Job{job("A"), job("B")})
	require.NoError(t, err)
	for _, out := range outcomes {
		assert.Equal(t, feedback.StateCancelled, out.State)
		assert.Empty(t, out.Attempts)
	}
	assert.Equal(t, 2, Summarize(outcomes).Cancelled)
}

func TestRunner_CancelledRunStillRecorded(t *testing.T) {
	ledger, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	defer ledger.Close()

	run, err := ledger.BeginRun(context.Background(), store.Run{Profile: "react", Budget: 1, Workers: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := feedback.GeneratorFunc(func(context.Context, string) (feedback.Completion, error) {
		cancel()
		return feedback.Completion{Text: `figma.enum("Size", {})`}, nil
	})

	r := NewRunner(feedback.NewLoop(feedback.ProfileReact, nil, nil), gen, Options{Workers: 1, Budget: 1, RunID: run.ID, Recorder: ledger}, nil)
	outcomes, err := r.Run(ctx, []Job{job("Button")})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	rows, err := ledger.Outcomes(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Button", rows[0].ComponentName)
}
