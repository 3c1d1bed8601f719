package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/domino/internal/compiler"
	"github.com/roach88/domino/internal/engine"
	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/program"
	"github.com/roach88/domino/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - defaults to the newest run
	Force    bool   // replay even when the program hash changed
}

// ReplayResult holds the replay outcome of one run.
type ReplayResult struct {
	RunID         string `json:"run_id"`
	Program       string `json:"program"`
	Entries       int    `json:"entries"`
	Replayed      int    `json:"replayed"`
	Failures      int    `json:"failures"`
	StateHash     string `json:"state_hash"`
	SnapshotHash  string `json:"snapshot_hash"`
	SnapshotSeq   int64  `json:"snapshot_seq"`
	Deterministic bool   `json:"deterministic"`
	Match         bool   `json:"match"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <program-dir>",
		Short: "Replay a recorded run and verify its final state",
		Long: `Replay the journal of a recorded run against the program and compare the
resulting app-db with the run's final snapshot.

Only the db effect executes during replay. The journal is replayed twice to
verify that handlers are deterministic.

Exit codes:
  0 - Replayed state matches the snapshot
  1 - State mismatch, nondeterminism, or the program changed since the run
  2 - Command error (database or run not found, no snapshot, etc.)

Examples:
  domino replay --db ./domino.db ./counter
  domino replay --db ./domino.db --run 0190c8a2-... ./counter
  domino replay --db ./domino.db ./counter --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to replay (default: newest)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "replay even if the program hash differs")

	return cmd
}

func runReplay(opts *ReplayOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := formatter.Logger()
	ctx := commandContext(cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	run, err := resolveRun(ctx, st, opts.RunID)
	if err != nil {
		return runErrorExit(formatter, err)
	}

	res, err := compiler.CompileDir(dir)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	if !res.OK() {
		return outputValidationErrors(formatter, res)
	}
	if res.Hash != run.ProgramHash {
		if !opts.Force {
			return formatter.Fail(ExitFailure, ErrCodeProgramChanged,
				fmt.Sprintf("program hash %s does not match run %s (%s)", short(res.Hash), run.ID, short(run.ProgramHash)), nil)
		}
		logger.Warn("program changed since run", "run", run.ID, "run_hash", run.ProgramHash, "hash", res.Hash)
	}

	snap, err := st.LatestSnapshot(ctx, run.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return formatter.Fail(ExitCommandError, ErrCodeNoSnapshot, "run has no snapshot", err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read snapshot", err)
	}

	journal, err := st.ReadJournal(ctx, run.ID)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read journal", err)
	}
	entries := make([]engine.Entry, 0, len(journal))
	for _, j := range journal {
		if j.Seq > snap.Seq {
			break
		}
		entries = append(entries, engine.Entry{Seq: j.Seq, FlowToken: j.FlowToken, Event: j.Event, Nested: j.Nested})
	}
	formatter.VerboseLog("Replaying %d journal entries of run %s", len(entries), run.ID)

	first, err := replayOnce(res.Program, entries, logger)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeEngine, "replay failed", err)
	}
	second, err := replayOnce(res.Program, entries, logger)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeEngine, "replay failed", err)
	}

	result := ReplayResult{
		RunID:         run.ID,
		Program:       res.Program.Name,
		Entries:       len(entries),
		Replayed:      first.replayed,
		Failures:      first.failures,
		StateHash:     first.hash,
		SnapshotHash:  snap.StateHash,
		SnapshotSeq:   snap.Seq,
		Deterministic: first.hash == second.hash,
	}
	result.Match = result.Deterministic && first.hash == snap.StateHash

	return outputReplayResult(formatter, result)
}

type replayOutcome struct {
	replayed int
	failures int
	hash     string
}

// replayOnce replays entries on a fresh engine running only the db effect.
// Handler failures are counted, not fatal: the original run logged them too.
func replayOnce(p *ir.Program, entries []engine.Entry, logger *slog.Logger) (replayOutcome, error) {
	e, err := engine.New(
		engine.WithLogger(logger),
		engine.WithInitialDB(p.DB),
		engine.WithEffectFilter(engine.DBOnly),
	)
	if err != nil {
		return replayOutcome{}, err
	}
	defer e.Stop()

	installed, err := program.Install(e, p, program.WithLogger(logger))
	if err != nil {
		return replayOutcome{}, err
	}
	defer installed.Close()

	var out replayOutcome
	out.replayed, err = e.Replay(entries)
	if err != nil {
		var re *engine.ReplayError
		if !errors.As(err, &re) {
			return replayOutcome{}, err
		}
		out.failures = re.Failed
		logger.Warn("replay handler failed", "failures", re.Failed, "error", re.First)
	}
	out.hash = ir.StateHash(e.ReadState())
	return out, nil
}

func outputReplayResult(formatter *OutputFormatter, result ReplayResult) error {
	exitErr := replayExitError(result)

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result, RunID: result.RunID}
		if exitErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeReplayMismatch, Message: exitErr.Message}
		}
		if err := formatter.Respond(resp); err != nil {
			return err
		}
		if exitErr != nil {
			return exitErr
		}
		return nil
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Run %s (%s)\n", result.RunID, result.Program)
	fmt.Fprintf(w, "  entries:  %d (%d replayed, %d failed)\n", result.Entries, result.Replayed, result.Failures)
	fmt.Fprintf(w, "  snapshot: seq %d %s\n", result.SnapshotSeq, short(result.SnapshotHash))
	fmt.Fprintf(w, "  replayed: %s\n", short(result.StateHash))
	if exitErr != nil {
		fmt.Fprintf(w, "✗ %s\n", exitErr.Message)
		return exitErr
	}
	fmt.Fprintln(w, "✓ Replay matches snapshot")
	return nil
}

func replayExitError(result ReplayResult) *ExitError {
	switch {
	case !result.Deterministic:
		return NewExitError(ExitFailure, "replay is not deterministic")
	case !result.Match:
		return NewExitError(ExitFailure, "replayed state does not match snapshot")
	default:
		return nil
	}
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
