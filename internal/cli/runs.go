package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/domino/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// RunSummary describes one stored run.
type RunSummary struct {
	ID          string     `json:"id"`
	Program     string     `json:"program"`
	ProgramHash string     `json:"program_hash"`
	Status      string     `json:"status"`
	Events      int64      `json:"events"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Long: `List the runs recorded in a database, newest first.

Examples:
  domino runs --db ./domino.db
  domino runs --db ./domino.db --limit 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list (0 for all)")

	return cmd
}

func runListRuns(opts *RunsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(commandContext(cmd), opts.Limit)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list runs", err)
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, summarizeRun(r))
	}

	if formatter.JSON() {
		return formatter.Success(summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs found.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROGRAM\tSTATUS\tEVENTS\tSTARTED")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Program, s.Status, s.Events, s.StartedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func summarizeRun(r store.Run) RunSummary {
	s := RunSummary{
		ID:          r.ID,
		Program:     r.Program,
		ProgramHash: r.ProgramHash,
		Status:      r.Status,
		Events:      r.Events,
		StartedAt:   r.StartedAt,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		s.FinishedAt = &finished
	}
	return s
}

// openExistingStore opens a database that must already exist.
// store.Open would create a missing file.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	return store.Open(path)
}

// resolveRun reads the run with id, or the newest run when id is empty.
func resolveRun(ctx context.Context, st *store.Store, id string) (store.Run, error) {
	if id != "" {
		return st.ReadRun(ctx, id)
	}
	runs, err := st.ListRuns(ctx, 1)
	if err != nil {
		return store.Run{}, err
	}
	if len(runs) == 0 {
		return store.Run{}, fmt.Errorf("no runs recorded: %w", store.ErrNotFound)
	}
	return runs[0], nil
}

// runErrorExit maps a run lookup error to an exit.
func runErrorExit(formatter *OutputFormatter, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return formatter.Fail(ExitCommandError, ErrCodeRunNotFound, "run not found", err)
	}
	return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read run", err)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
