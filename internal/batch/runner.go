// Package batch runs the generation-validation-repair loop over many
// components with bounded concurrency.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mapgen/internal/evidence"
	"mapgen/internal/logging"
	"mapgen/internal/mapping/feedback"
)

// Job is one component to map.
type Job struct {
	Evidence *evidence.Evidence
	Hint     feedback.ImplementationHint
	// Instruction overrides the default initial instruction when set.
	Instruction string
}

// Recorder persists finished outcomes. It is called concurrently.
type Recorder interface {
	RecordOutcome(ctx context.Context, runID string, out feedback.Outcome) error
}

// Options configures a Runner.
type Options struct {
	Workers  int // concurrent components, at least 1
	Budget   int // retries per component beyond the first attempt
	RunID    string
	Recorder Recorder
	// OnOutcome is called once per finished component, never concurrently.
	OnOutcome func(index int, out feedback.Outcome)
}

// recordTimeout bounds one outcome write. Writes are detached from the batch
// context so a cancelled run still lands in the ledger.
const recordTimeout = 30 * time.Second

// Runner fans jobs out to a shared Loop.
type Runner struct {
	loop   *feedback.Loop
	gen    feedback.Generator
	opts   Options
	logger *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(loop *feedback.Loop, gen feedback.Generator, opts Options, logger *zap.Logger) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Runner{
		loop:   loop,
		gen:    gen,
		opts:   opts,
		logger: logging.For(logger, logging.CategoryBatch),
	}
}

// Run processes every job and returns outcomes in input order. One
// component's failure never stops the others. The error return joins recorder
// failures only; the outcomes are complete regardless.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]feedback.Outcome, error) {
	outcomes := make([]feedback.Outcome, len(jobs))

	var (
		mu         sync.Mutex
		recordErrs []error
	)

	timer := logging.StartTimer(r.logger, "batch")
	defer timer.Stop()
	r.logger.Info("batch started",
		zap.Int("components", len(jobs)),
		zap.Int("workers", r.opts.Workers),
		zap.Int("budget", r.opts.Budget))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for i, job := range jobs {
		g.Go(func() error {
			out := r.runOne(gctx, job)
			outcomes[i] = out

			var recErr error
			if r.opts.Recorder != nil {
				if err := r.record(gctx, out); err != nil {
					recErr = fmt.Errorf("record %s: %w", out.ComponentName, err)
					r.logger.Warn("failed to record outcome", zap.String("component", out.ComponentName), zap.Error(err))
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if recErr != nil {
				recordErrs = append(recordErrs, recErr)
			}
			if r.opts.OnOutcome != nil {
				r.opts.OnOutcome(i, out)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("batch finished", zap.Any("summary", Summarize(outcomes)))
	return outcomes, errors.Join(recordErrs...)
}

func (r *Runner) record(ctx context.Context, out feedback.Outcome) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	return r.opts.Recorder.RecordOutcome(ctx, r.opts.RunID, out)
}

func (r *Runner) runOne(ctx context.Context, job Job) feedback.Outcome {
	if job.Evidence == nil {
		return feedback.Outcome{State: feedback.StateFailed, Fatal: errors.New("job has no evidence")}
	}
	instruction := job.Instruction
	if instruction == "" {
		instruction = r.loop.Prompts().BuildInitialInstruction(job.Evidence, job.Hint, r.loop.Profile())
	}
	return r.loop.RunComponent(ctx, job.Evidence, instruction, r.gen, r.opts.Budget)
}

// Summary counts outcomes by terminal state.
type Summary struct {
	Total             int     `json:"total"`
	Accepted          int     `json:"accepted"`
	Exhausted         int     `json:"exhausted"`
	Failed            int     `json:"failed"`
	Cancelled         int     `json:"cancelled"`
	GeneratorFailures int     `json:"generator_failures"`
	MeanAttempts      float64 `json:"mean_attempts_to_success"`
}

// Summarize aggregates outcomes.
func Summarize(outcomes []feedback.Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	successAttempts := 0
	for i := range outcomes {
		o := &outcomes[i]
		switch o.State {
		case feedback.StateAccepted:
			s.Accepted++
			successAttempts += len(o.Attempts)
		case feedback.StateExhausted:
			s.Exhausted++
		case feedback.StateFailed:
			s.Failed++
		case feedback.StateCancelled:
			s.Cancelled++
		}
		s.GeneratorFailures += o.Stats().GeneratorFailures
	}
	if s.Accepted > 0 {
		s.MeanAttempts = float64(successAttempts) / float64(s.Accepted)
	}
	return s
}
