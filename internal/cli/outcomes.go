package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
	"github.com/UniQw/adaptq-go/journal"
	"github.com/spf13/cobra"
)

var (
	listState string
	listQueue string
	listKind  string
)

var outcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Inspect recorded job outcomes",
}

var outcomesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outcomes in a terminal state",
	RunE: withJournal(func(ctx context.Context, j journal.Journal, queue string, args []string) error {
		state, err := adaptq.ParseJobState(listState)
		if err != nil {
			return err
		}
		var filter journal.Filter
		if listKind != "" {
			kind := adaptq.Kind(listKind)
			filter = func(r *journal.Record) bool { return r.Kind == kind }
		}
		recs, err := j.List(ctx, queue, state, filter)
		if err != nil {
			return err
		}
		printRecords(os.Stdout, recs)
		return nil
	}),
}

var outcomesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one outcome",
	Args:  cobra.ExactArgs(1),
	RunE: withJournal(func(ctx context.Context, j journal.Journal, queue string, args []string) error {
		rec, err := j.Get(ctx, queue, args[0])
		if err != nil {
			return err
		}
		printRecord(os.Stdout, rec)
		return nil
	}),
}

var outcomesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one outcome",
	Args:  cobra.ExactArgs(1),
	RunE: withJournal(func(ctx context.Context, j journal.Journal, queue string, args []string) error {
		if err := j.Delete(ctx, queue, args[0]); err != nil {
			return err
		}
		slog.Info("Outcome deleted", "id", args[0])
		return nil
	}),
}

var outcomesQueuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "List queues with recorded outcomes",
	RunE: withJournal(func(ctx context.Context, j journal.Journal, _ string, _ []string) error {
		queues, err := j.Queues(ctx)
		if err != nil {
			return err
		}
		for _, q := range queues {
			fmt.Println(q)
		}
		return nil
	}),
}

var outcomesPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired outcomes",
	RunE: withJournal(func(ctx context.Context, j journal.Journal, _ string, _ []string) error {
		n, err := j.Purge(ctx)
		if err != nil {
			return err
		}
		slog.Info("Purged expired outcomes", "count", n)
		return nil
	}),
}

func init() {
	outcomesCmd.PersistentFlags().StringVar(&listQueue, "queue", "", "queue name (default from config)")
	outcomesListCmd.Flags().StringVar(&listState, "state", string(adaptq.StateFailed), "succeeded, failed or cancelled")
	outcomesListCmd.Flags().StringVar(&listKind, "kind", "", "only show failures of this kind")
	outcomesCmd.AddCommand(outcomesListCmd, outcomesGetCmd, outcomesDeleteCmd, outcomesQueuesCmd, outcomesPurgeCmd)
	rootCmd.AddCommand(outcomesCmd)
}

type journalFunc func(ctx context.Context, j journal.Journal, queue string, args []string) error

// withJournal opens the configured journal around fn.
func withJournal(fn journalFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			slog.Error("Failed to load config", "error", err)
			return err
		}
		j, closeJournal, err := openJournal(cfg.Journal, log)
		if err != nil {
			slog.Error("Failed to open journal", "error", err)
			return err
		}
		defer closeJournal()
		if j == nil {
			return errNoJournal
		}

		queue := listQueue
		if queue == "" {
			queue = cfg.Queue.Name
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return fn(ctx, j, queue, args)
	}
}

func printRecords(w io.Writer, recs []*journal.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tSTATE\tATTEMPT\tKIND\tCOMPLETED\tERROR")
	for _, r := range recs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			r.ID, r.Type, r.State, r.Attempt+1, r.MaxAttempts+1, r.Kind,
			formatMillis(r.CompletedAt), truncate(r.Error, 60))
	}
	_ = tw.Flush()
}

func printRecord(w io.Writer, r *journal.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k string, v any) { _, _ = fmt.Fprintf(tw, "%s:\t%v\n", k, v) }
	row("ID", r.ID)
	row("Type", r.Type)
	row("Queue", r.Queue)
	row("State", r.State)
	row("Priority", r.Priority)
	row("Attempts", fmt.Sprintf("%d/%d", r.Attempt+1, r.MaxAttempts+1))
	row("Progress", fmt.Sprintf("%d%%", r.Progress))
	row("Enqueued", formatMillis(r.EnqueuedAt))
	row("Started", formatMillis(r.StartedAt))
	row("Completed", formatMillis(r.CompletedAt))
	if r.Kind != "" {
		row("Kind", r.Kind)
	}
	if r.Error != "" {
		row("Error", r.Error)
	}
	if len(r.Payload) > 0 {
		row("Payload", string(r.Payload))
	}
	if len(r.Result) > 0 {
		row("Result", string(r.Result))
	}
	_ = tw.Flush()
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
