package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/domino/internal/compiler"
	"github.com/roach88/domino/internal/devtools"
	"github.com/roach88/domino/internal/engine"
	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/program"
	"github.com/roach88/domino/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Trace    bool
	Dispatch []string      // JSON event vectors
	For      time.Duration // keep the loop running this long; 0 drains and exits
	Devtools string        // listen address for the devtools websocket
	MaxSteps int
	SkipInit bool

	// FlowGenerator allows overriding the flow token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	FlowGenerator engine.FlowTokenGenerator
}

// RunOutput is the result of a finished run.
type RunOutput struct {
	RunID     string     `json:"run_id,omitempty"`
	Program   string     `json:"program"`
	Seq       int64      `json:"seq"`
	StateHash string     `json:"state_hash"`
	DB        ir.IRValue `json:"db"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <program-dir>",
		Short: "Run a program",
		Long: `Compile a program, dispatch its init events and any --dispatch events,
and print the final app-db.

Without --for or --devtools the queue is drained once and the command exits.
With --for the event loop runs for that long, so dispatch-later effects fire.
With --devtools the loop runs until interrupted (or --for elapses) and trace
batches are streamed to websocket clients at ws://<addr>/ws.

With --db every handled event is journaled into a new run, the final app-db
is snapshotted, and --trace also stores trace records.

Example:
  domino run ./counter --dispatch '["add", 5]'
  domino run --db ./domino.db --trace ./counter --for 5s
  domino run ./counter --devtools localhost:7070`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "record trace spans")
	cmd.Flags().StringArrayVarP(&opts.Dispatch, "dispatch", "d", nil, "event to dispatch as a JSON array (repeatable)")
	cmd.Flags().DurationVar(&opts.For, "for", 0, "run the event loop for this long")
	cmd.Flags().StringVar(&opts.Devtools, "devtools", "", "serve devtools websocket on this address")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", engine.DefaultMaxSteps, "maximum events per flow")
	cmd.Flags().BoolVar(&opts.SkipInit, "skip-init", false, "do not dispatch the program's init events")

	return cmd
}

func runProgram(opts *RunOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := formatter.Logger()

	events, err := parseDispatches(opts.Dispatch)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadFlag, "invalid --dispatch", err)
	}

	res, err := compiler.CompileDir(dir)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	if !res.OK() {
		return outputValidationErrors(formatter, res)
	}
	p := res.Program
	logger.Debug("program compiled", "program", p.Name, "hash", res.Hash)

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithTracing(opts.Trace || opts.Devtools != ""),
		engine.WithMaxSteps(opts.MaxSteps),
		engine.WithInitialDB(p.DB),
	}
	if opts.FlowGenerator != nil {
		engOpts = append(engOpts, engine.WithFlowGenerator(opts.FlowGenerator))
	}

	ctx := commandContext(cmd)

	var (
		st  *store.Store
		run store.Run
	)
	if opts.Database != "" {
		st, err = store.Open(opts.Database, store.WithLogger(logger))
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		run, err = st.CreateRun(ctx, store.Run{Program: p.Name, ProgramHash: res.Hash})
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to create run", err)
		}
		engOpts = append(engOpts, engine.WithJournal(st.Journal(run.ID)))
		logger.Info("run started", "run", run.ID, "db", opts.Database)
	}

	e, err := engine.New(engOpts...)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeEngine, "failed to create engine", err)
	}
	if st != nil && opts.Trace {
		e.RegisterTraceCallback("store", st.TraceCallback(run.ID))
	}

	installed, err := program.Install(e, p, program.WithLogger(logger))
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeEngine, "failed to install program", err)
	}
	defer installed.Close()

	if !opts.SkipInit {
		if err := program.DispatchInit(e, p); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeEngine, "init failed", err)
		}
	}
	for _, ev := range events {
		if err := e.Dispatch(ev); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeEngine, "dispatch failed", err)
		}
	}

	runErr := loop(ctx, opts, e, logger)
	e.Stop()

	out := RunOutput{
		RunID:   run.ID,
		Program: p.Name,
		Seq:     e.Clock().Current(),
		DB:      e.ReadState(),
	}
	out.StateHash = ir.StateHash(out.DB)

	if st != nil {
		status := store.StatusCompleted
		if runErr != nil {
			status = store.StatusFailed
		}
		if _, err := st.WriteSnapshot(ctx, run.ID, out.Seq, out.DB); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to write snapshot", err)
		}
		if err := st.FinishRun(ctx, run.ID, status, time.Now()); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to finish run", err)
		}
	}
	if runErr != nil {
		return formatter.Fail(ExitFailure, ErrCodeEngine, "engine error", runErr)
	}

	return outputRunResult(formatter, out)
}

// loop drains the queue, or runs the event loop when --for or --devtools
// asks for a long-lived engine.
func loop(ctx context.Context, opts *RunOptions, e *engine.Engine, logger *slog.Logger) error {
	if opts.For <= 0 && opts.Devtools == "" {
		n := e.Flush()
		logger.Debug("queue drained", "events", n)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.For > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.For)
		defer cancel()
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	if opts.Devtools != "" {
		hub := devtools.New(devtools.WithLogger(logger), devtools.WithDispatcher(e))
		e.RegisterTraceCallback("devtools", hub.TraceCallback())
		go func() {
			if err := hub.ListenAndServe(ctx, opts.Devtools); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	err := e.Run(ctx)
	select {
	case serveErr := <-errCh:
		return serveErr
	default:
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Info("engine stopped gracefully")
	return nil
}

// parseDispatches parses --dispatch values as event vectors.
func parseDispatches(raw []string) ([]ir.Event, error) {
	events := make([]ir.Event, 0, len(raw))
	for _, s := range raw {
		ev, err := ir.ParseEventJSON(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func outputRunResult(formatter *OutputFormatter, out RunOutput) error {
	if formatter.JSON() {
		return formatter.Respond(CLIResponse{Status: "ok", Data: out, RunID: out.RunID})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s: %d event(s)\n", out.Program, out.Seq)
	if out.RunID != "" {
		fmt.Fprintf(w, "  run:  %s\n", out.RunID)
	}
	fmt.Fprintf(w, "  hash: %s\n", out.StateHash)
	fmt.Fprintf(w, "  db:   %s\n", ir.MustMarshalCanonical(out.DB))
	return nil
}
