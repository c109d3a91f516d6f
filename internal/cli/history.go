package cli

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flowsim/internal/config"
	"github.com/roach88/flowsim/internal/history"
	"github.com/roach88/flowsim/internal/predicate"
	"github.com/roach88/flowsim/internal/value"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Run   int64
	Type  string
	ID    string
	At    string
	Where []string
}

// HistoryRow is one entity version in command output.
type HistoryRow struct {
	Type      string       `json:"type"`
	ID        string       `json:"id"`
	Seq       int          `json:"seq"`
	ValidFrom time.Time    `json:"valid_from"`
	ValidTo   *time.Time   `json:"valid_to,omitempty"`
	FlowID    string       `json:"flow_id,omitempty"`
	Fields    value.Object `json:"fields"`
}

// HistoryRunInfo describes an export in command output.
type HistoryRunInfo struct {
	ID    int64     `json:"id"`
	Seed  uint64    `json:"seed"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Types []string  `json:"types,omitempty"`
}

// endOfTime selects current versions when no --at is given.
var endOfTime = time.Unix(0, math.MaxInt64).UTC()

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <db>",
		Short: "Query exported entity history",
		Long: `Query the entity history a run exported to SQLite (history.path).

Without --type, lists the exported runs and their entity types. With
--type, prints the versions valid at --at (default: the current ones)
that satisfy every --where. With --type and --id, prints every version
of one entity.

--at takes an RFC 3339 time or an offset from the run start (90m, 1d).
--where takes field=op:value, where op is one of is, is_not, >, <, in
and value is JSON or a bare string. field=value means is.

Examples:
  flowsim history history.db
  flowsim history history.db --type Account --where 'balance=<:500'
  flowsim history history.db --type Account --at 30m --where owner=ann
  flowsim history history.db --type Account --id a1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Run, "run", 0, "run id (default: latest)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "entity type")
	cmd.Flags().StringVar(&opts.ID, "id", "", "entity id (requires --type)")
	cmd.Flags().StringVar(&opts.At, "at", "", "time or offset from the run start")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "condition field=op:value (repeatable)")

	return cmd
}

func runHistory(opts *HistoryOptions, dbPath string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.ID != "" && opts.Type == "" {
		return f.fail(ExitCommandError, ErrCodeQuery, "--id requires --type", nil)
	}
	pred, err := parseWhere(opts.Where)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeQuery, err.Error(), nil)
	}

	// history.Open creates missing files; a typo must not leave one behind.
	if _, err := os.Stat(dbPath); err != nil {
		return f.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("history database not found: %s", dbPath), nil)
	}
	hs, err := history.Open(dbPath)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeHistory, err.Error(), nil)
	}
	defer hs.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Type == "" {
		runs, err := listRuns(ctx, hs)
		if err != nil {
			return f.fail(ExitCommandError, ErrCodeHistory, err.Error(), nil)
		}
		return outputRuns(f, runs)
	}

	run, err := hs.GetRun(ctx, opts.Run)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeHistory, err.Error(), nil)
	}

	var rows []history.Row
	if opts.ID != "" {
		rows, err = hs.History(ctx, run.ID, opts.Type, opts.ID)
	} else {
		var at time.Time
		at, err = resolveAt(opts.At, run.Start)
		if err != nil {
			return f.fail(ExitCommandError, ErrCodeQuery, err.Error(), nil)
		}
		rows, err = hs.At(ctx, run.ID, opts.Type, at, pred)
	}
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeQuery, err.Error(), nil)
	}
	return outputRows(f, rows)
}

func listRuns(ctx context.Context, hs *history.Store) ([]HistoryRunInfo, error) {
	runs, err := hs.Runs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryRunInfo, 0, len(runs))
	for _, r := range runs {
		types, err := hs.Types(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, HistoryRunInfo{ID: r.ID, Seed: r.Seed, Start: r.Start, End: r.End, Types: types})
	}
	return out, nil
}

// parseWhere turns field=op:value conditions into one conjunction.
func parseWhere(conds []string) (predicate.Predicate, error) {
	preds := make([]predicate.Predicate, 0, len(conds))
	for _, c := range conds {
		field, rest, ok := strings.Cut(c, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid --where %q: want field=op:value", c)
		}
		op, raw, ok := strings.Cut(rest, ":")
		if !ok {
			op, raw = "is", rest
		}
		p, err := predicate.Parse(field, op, parseOperand(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid --where %q: %w", c, err)
		}
		preds = append(preds, p)
	}
	return predicate.All(preds...), nil
}

// parseOperand reads JSON (numbers, booleans, null, lists) and falls back to
// the raw text as a string.
func parseOperand(raw string) value.Value {
	if v, err := value.Parse([]byte(raw)); err == nil {
		return v
	}
	return value.String(raw)
}

func resolveAt(s string, start time.Time) (time.Time, error) {
	if s == "" {
		return endOfTime, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	d, err := config.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at %q: not a time or offset", s)
	}
	return start.Add(d), nil
}

func outputRuns(f *OutputFormatter, runs []HistoryRunInfo) error {
	if f.JSON() {
		return f.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(f.Writer, "No exported runs.")
		return nil
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSEED\tSTART\tEND\tTYPES")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", r.ID, r.Seed,
			r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339), strings.Join(r.Types, ","))
	}
	return tw.Flush()
}

func outputRows(f *OutputFormatter, rows []history.Row) error {
	out := make([]HistoryRow, len(rows))
	for i, r := range rows {
		out[i] = HistoryRow{
			Type:      r.Type,
			ID:        r.ID,
			Seq:       r.Seq,
			ValidFrom: r.ValidFrom,
			ValidTo:   r.ValidTo,
			FlowID:    r.FlowID,
			Fields:    r.Fields,
		}
	}
	if f.JSON() {
		return f.Success(out)
	}
	if len(out) == 0 {
		fmt.Fprintln(f.Writer, "No matching versions.")
		return nil
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSEQ\tVALID FROM\tVALID TO\tFLOW\tFIELDS")
	for _, r := range out {
		to := "-"
		if r.ValidTo != nil {
			to = r.ValidTo.Format(time.RFC3339)
		}
		flowID := r.FlowID
		if flowID == "" {
			flowID = "-"
		}
		fields, err := value.Marshal(r.Fields)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.Seq, r.ValidFrom.Format(time.RFC3339), to, flowID, fields)
	}
	return tw.Flush()
}
