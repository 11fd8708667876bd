// Command jobsctl inspects and retries background jobs in the Postgres queue.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"audiobrand-backend/internal/jobs"
	"audiobrand-backend/internal/shared/config"
	"audiobrand-backend/internal/shared/storage/db"
)

// opener returns a queue and a function releasing its resources.
type opener func(ctx context.Context) (*jobs.Queue, func() error, error)

func main() {
	if err := newRootCmd(openPostgres, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openPostgres(ctx context.Context) (*jobs.Queue, func() error, error) {
	cfg := config.Load()
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		return nil, nil, err
	}
	return jobs.New(&jobs.PGStore{DB: sqlDB}, nil), sqlDB.Close, nil
}

type rootOptions struct {
	jsonOutput bool
	queue      string
}

func newRootCmd(open opener, out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "jobsctl",
		Short:         "Inspect and retry analysis and finalize jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of a table")
	root.PersistentFlags().StringVar(&opts.queue, "queue", "", "queue name (analysis or finalize); inferred from the job id when empty")

	root.AddCommand(
		statusCmd(open, opts),
		listCmd(open, opts),
		retryCmd(open, opts),
	)
	return root
}

func withQueue(cmd *cobra.Command, open opener, fn func(ctx context.Context, q *jobs.Queue) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	q, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, q)
}

func resolveQueue(opts *rootOptions, id string) (string, error) {
	if opts.queue != "" {
		if opts.queue != jobs.QueueAnalysis && opts.queue != jobs.QueueFinalize {
			return "", fmt.Errorf("unknown queue %q", opts.queue)
		}
		return opts.queue, nil
	}
	if q, ok := jobs.QueueOf(id); ok {
		return q, nil
	}
	return "", fmt.Errorf("cannot infer queue for %q; pass --queue", id)
}

func statusCmd(open opener, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueName, err := resolveQueue(opts, args[0])
			if err != nil {
				return err
			}
			return withQueue(cmd, open, func(ctx context.Context, q *jobs.Queue) error {
				st, err := q.GetStatus(ctx, queueName, args[0])
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), st)
				}
				tw := newTable(cmd.OutOrStdout())
				tw.AppendRows([]table.Row{
					{"ID", st.ID},
					{"Queue", st.Queue},
					{"Name", st.Name},
					{"State", st.State},
					{"Progress", fmt.Sprintf("%d%%", st.Progress)},
					{"Attempts", fmt.Sprintf("%d/%d", st.Attempts, st.MaxAttempts)},
					{"Created", formatTime(&st.CreatedAt)},
					{"Processed", formatTime(st.ProcessedAt)},
					{"Finished", formatTime(st.FinishedAt)},
				})
				if st.FailedReason != "" {
					tw.AppendRow(table.Row{"Failed reason", st.FailedReason})
				}
				if len(st.Result) > 0 {
					tw.AppendRow(table.Row{"Result", string(st.Result)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func listCmd(open opener, opts *rootOptions) *cobra.Command {
	var (
		state string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs on a queue, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.queue == "" {
				return fmt.Errorf("--queue is required")
			}
			queueName, err := resolveQueue(opts, "")
			if err != nil {
				return err
			}
			st := jobs.State(state)
			if state != "" && !st.Valid() {
				return fmt.Errorf("unknown state %q", state)
			}
			return withQueue(cmd, open, func(ctx context.Context, q *jobs.Queue) error {
				items, err := q.List(ctx, queueName, st, limit)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), items)
				}
				tw := newTable(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Name", "State", "Progress", "Attempts", "Created", "Failed reason"})
				for _, it := range items {
					tw.AppendRow(table.Row{
						it.ID,
						it.Name,
						it.State,
						fmt.Sprintf("%d%%", it.Progress),
						fmt.Sprintf("%d/%d", it.Attempts, it.MaxAttempts),
						formatTime(&it.CreatedAt),
						truncate(it.FailedReason, 60),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state filter (waiting, delayed, active, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func retryCmd(open opener, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a failed job back to waiting with its attempts reset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueName, err := resolveQueue(opts, args[0])
			if err != nil {
				return err
			}
			return withQueue(cmd, open, func(ctx context.Context, q *jobs.Queue) error {
				if err := q.Retry(ctx, queueName, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %s on %s\n", args[0], queueName)
				return nil
			})
		},
	}
}

func newTable(out io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
