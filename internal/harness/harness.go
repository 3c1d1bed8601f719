package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/domino/internal/compiler"
	"github.com/roach88/domino/internal/engine"
	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/program"
	"github.com/roach88/domino/internal/store"
	"github.com/roach88/domino/internal/testutil"
)

// ErrNoProgram is returned by RunFile for a scenario without a program path.
var ErrNoProgram = errors.New("scenario has no program")

// Harness is the test execution engine for one scenario.
// It runs the program with a fake scheduler and a fixed flow token.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	clock   *testutil.FakeScheduler
	flowGen *testutil.FixedFlowGenerator
	logger  *slog.Logger
	runID   string
}

type config struct {
	logOutput io.Writer
}

// Option configures Run.
type Option func(*config)

// WithLogOutput writes every engine log record as text to w.
// By default logs are discarded; failures are still recorded.
func WithLogOutput(w io.Writer) Option {
	return func(c *config) {
		c.logOutput = w
	}
}

// CompileProgram compiles the program directory and rejects programs with
// validation errors.
func CompileProgram(dir string) (*ir.Program, error) {
	res, err := compiler.CompileDir(dir)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", dir, err)
	}
	if !res.OK() {
		return nil, fmt.Errorf("compile %s: %d validation error(s), first: %w", dir, len(res.Errors), res.Errors[0])
	}
	return res.Program, nil
}

// RunFile compiles the scenario's own program and runs the scenario.
func RunFile(scenario *Scenario, opts ...Option) (*Result, error) {
	if scenario.Program == "" {
		return nil, fmt.Errorf("%s: %w", scenario.Name, ErrNoProgram)
	}
	p, err := CompileProgram(scenario.Program)
	if err != nil {
		return nil, err
	}
	return Run(scenario, p, opts...)
}

// Run executes a test scenario against p and returns the result.
//
// Each scenario runs in a fresh engine journaling into an in-memory SQLite
// store. Execution flow:
//  1. Install the program and dispatch its init events (unless skip_init)
//  2. Execute steps, draining the queue after each one
//  3. Read the handled events back from the journal
//  4. Evaluate assertions against the trace, app-db and subscriptions
//
// A returned error means the scenario could not run; failed assertions are
// reported in Result.
func Run(scenario *Scenario, p *ir.Program, opts ...Option) (*Result, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	hash, err := ir.ProgramHash(p)
	if err != nil {
		return nil, fmt.Errorf("hash program: %w", err)
	}
	run, err := st.CreateRun(ctx, store.Run{
		ID:          "scenario:" + scenario.Name,
		Program:     p.Name,
		ProgramHash: hash,
		StartedAt:   testutil.FakeEpoch,
	})
	if err != nil {
		return nil, err
	}

	recorder := newFailureRecorder(cfg.logOutput)
	h := &Harness{
		store:   st,
		clock:   testutil.NewFakeScheduler(),
		flowGen: testutil.NewFixedFlowGenerator(scenario.FlowToken),
		logger:  slog.New(recorder),
		runID:   run.ID,
	}

	initialDB := ir.IRValue(p.DB)
	if scenario.DB != nil {
		if initialDB, err = ir.FromAny(scenario.DB); err != nil {
			return nil, fmt.Errorf("scenario db: %w", err)
		}
	}

	engOpts := []engine.Option{
		engine.WithScheduler(h.clock),
		engine.WithFlowGenerator(h.flowGen),
		engine.WithLogger(h.logger),
		engine.WithJournal(st.Journal(run.ID)),
		engine.WithInitialDB(initialDB),
	}
	if scenario.MaxSteps > 0 {
		engOpts = append(engOpts, engine.WithMaxSteps(scenario.MaxSteps))
	}
	if h.engine, err = engine.New(engOpts...); err != nil {
		return nil, err
	}
	defer h.engine.Stop()

	installed, err := program.Install(h.engine, p, program.WithLogger(h.logger))
	if err != nil {
		return nil, err
	}
	defer installed.Close()

	if !scenario.SkipInit {
		if err := program.DispatchInit(h.engine, p); err != nil {
			return nil, err
		}
		h.engine.Flush()
	}

	if err := h.executeSteps(scenario.Steps); err != nil {
		return nil, err
	}

	result := NewResult()
	journal, err := st.ReadJournal(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	for _, e := range journal {
		result.AddTrace(e.Seq, e.FlowToken, e.Event, e.Nested)
	}
	result.State = h.engine.ReadState()
	result.Failures = recorder.Failures()

	actx := &AssertionContext{Engine: h.engine}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	if err := st.FinishRun(ctx, run.ID, runStatus(result), h.clock.Now()); err != nil {
		return nil, err
	}
	return result, nil
}

func runStatus(r *Result) string {
	if r.Pass {
		return store.StatusCompleted
	}
	return store.StatusFailed
}

// executeSteps runs every step and drains the queue after each.
func (h *Harness) executeSteps(steps []Step) error {
	for i, step := range steps {
		if step.Advance != "" {
			d, err := step.Duration()
			if err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			n := 0
			fired := h.clock.AdvanceWith(d, func() { n += h.engine.Flush() })
			n += h.engine.Flush()
			h.logger.Debug("advanced clock", "step", i, "by", d, "timers", fired, "events", n)
			continue
		}

		ev, err := step.Event()
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if step.Sync {
			// Handler failures are logged and recorded; only a stopped
			// engine aborts the scenario.
			if err := h.engine.DispatchSync(ev); errors.Is(err, engine.ErrStopped) {
				return fmt.Errorf("step %d: %w", i, err)
			}
		} else if err := h.engine.Dispatch(ev); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		n := h.engine.Flush()
		h.logger.Debug("step completed", "step", i, "event", ev.ID, "sync", step.Sync, "events", n)
	}
	return nil
}
