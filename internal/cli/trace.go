package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/domino/internal/ir"
	"github.com/roach88/domino/internal/store"
	"github.com/roach88/domino/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database    string
	RunID       string // optional - defaults to the newest run
	FlowToken   string // optional - filter the timeline to one flow
	OpType      string
	Operation   string
	MinDuration time.Duration
	Limit       int
}

// TimelineEntry is one journaled event.
type TimelineEntry struct {
	Seq       int64    `json:"seq"`
	FlowToken string   `json:"flow_token"`
	Event     ir.Event `json:"event"`
	Nested    bool     `json:"nested,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID    string          `json:"run_id"`
	Program  string          `json:"program"`
	Timeline []TimelineEntry `json:"timeline"`
	Spans    []trace.Record  `json:"spans"`
	Stats    TraceStats      `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Events  int            `json:"events"`
	Flows   int            `json:"flows"`
	Spans   int            `json:"spans"`
	ByOp    map[string]int `json:"by_op_type,omitempty"`
	Slowest time.Duration  `json:"slowest"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journal and trace spans of a run",
		Long: `Show what a recorded run did.

The output includes:
- Timeline: journaled events in seq order, with their flow tokens
- Spans: trace records stored with run --trace, filtered by the flags
- Stats: summary statistics for the run

Examples:
  domino trace --db ./domino.db
  domino trace --db ./domino.db --run 0190c8a2-... --op-type event/handler
  domino trace --db ./domino.db --min-duration 1ms --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to show (default: newest)")
	cmd.Flags().StringVar(&opts.FlowToken, "flow", "", "only show events of this flow")
	cmd.Flags().StringVar(&opts.OpType, "op-type", "", "only show spans of this op type")
	cmd.Flags().StringVar(&opts.Operation, "operation", "", "only show spans of this operation")
	cmd.Flags().DurationVar(&opts.MinDuration, "min-duration", 0, "only show spans at least this long")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum spans to show (0 for all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
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

	journal, err := st.ReadJournal(ctx, run.ID)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read journal", err)
	}
	spans, err := st.QueryTraces(ctx, store.TraceFilter{
		RunID:       run.ID,
		OpType:      opts.OpType,
		Operation:   opts.Operation,
		MinDuration: opts.MinDuration,
		Limit:       opts.Limit,
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to query traces", err)
	}

	result := buildTraceResult(run, journal, spans, opts.FlowToken)
	if formatter.JSON() {
		return formatter.Respond(CLIResponse{Status: "ok", Data: result, RunID: run.ID})
	}
	return outputTraceText(formatter, result)
}

func buildTraceResult(run store.Run, journal []store.JournalEntry, spans []trace.Record, flow string) TraceResult {
	result := TraceResult{
		RunID:    run.ID,
		Program:  run.Program,
		Timeline: []TimelineEntry{},
		Spans:    spans,
		Stats:    TraceStats{Spans: len(spans), ByOp: map[string]int{}},
	}

	flows := map[string]struct{}{}
	for _, j := range journal {
		if flow != "" && j.FlowToken != flow {
			continue
		}
		flows[j.FlowToken] = struct{}{}
		result.Timeline = append(result.Timeline, TimelineEntry{
			Seq:       j.Seq,
			FlowToken: j.FlowToken,
			Event:     j.Event,
			Nested:    j.Nested,
		})
	}
	result.Stats.Events = len(result.Timeline)
	result.Stats.Flows = len(flows)

	for _, r := range spans {
		result.Stats.ByOp[r.OpType]++
		if r.Duration > result.Stats.Slowest {
			result.Stats.Slowest = r.Duration
		}
	}
	return result
}

func outputTraceText(formatter *OutputFormatter, result TraceResult) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Run %s (%s)\n\n", result.RunID, result.Program)

	fmt.Fprintln(w, "Timeline:")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, e := range result.Timeline {
		nested := ""
		if e.Nested {
			nested = " (sync)"
		}
		fmt.Fprintf(w, "  [%d] %s %s%s\n", e.Seq, shortFlow(e.FlowToken), e.Event, nested)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Spans:")
	if len(result.Spans) == 0 {
		fmt.Fprintln(w, "  (no spans recorded)")
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tPARENT\tOP TYPE\tOPERATION\tDURATION")
		for _, r := range result.Spans {
			parent := "-"
			if r.ChildOf != 0 {
				parent = fmt.Sprint(r.ChildOf)
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n", r.ID, parent, r.OpType, r.Operation, r.Duration)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d event(s) in %d flow(s), %d span(s)", result.Stats.Events, result.Stats.Flows, result.Stats.Spans)
	if result.Stats.Spans > 0 {
		fmt.Fprintf(w, ", slowest %s", result.Stats.Slowest)
	}
	fmt.Fprintln(w)
	if formatter.Verbose && len(result.Stats.ByOp) > 0 {
		ops := make([]string, 0, len(result.Stats.ByOp))
		for op := range result.Stats.ByOp {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		parts := make([]string, len(ops))
		for i, op := range ops {
			parts[i] = fmt.Sprintf("%s=%d", op, result.Stats.ByOp[op])
		}
		fmt.Fprintf(w, "  %s\n", strings.Join(parts, " "))
	}
	return nil
}

// shortFlow abbreviates UUID flow tokens for the timeline.
func shortFlow(token string) string {
	if len(token) > 13 {
		return token[:8] + "…"
	}
	return token
}
