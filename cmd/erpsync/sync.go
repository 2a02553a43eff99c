package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/erpsync/internal/domain/model"
)

func pollCmd() *cobra.Command {
	var objectType string

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one incremental poll from the stored cursor",
		Long: `Run one incremental poll and exit.

Without --type every object type is polled in turn.

Examples:
  erpsync poll
  erpsync poll --type invoice`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := contextOrBackground(cmd.Context())
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.requireSync(); err != nil {
				return err
			}

			types := model.ObjectTypes
			if objectType != "" {
				ot, err := model.ParseObjectType(objectType)
				if err != nil {
					return err
				}
				types = []model.ObjectType{ot}
			}

			var failed bool
			for _, ot := range types {
				run, err := a.sync.Poll(ctx, ot)
				printRun(cmd.OutOrStdout(), run)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "poll %s: %v\n", ot, err)
					failed = true
				}
			}
			if failed {
				return fmt.Errorf("one or more polls failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&objectType, "type", "t", "", "object type to poll (order, invoice)")

	return cmd
}

func backfillCmd() *cobra.Command {
	var (
		objectType string
		from, to   string
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-sync every record modified inside a date range",
		Long: `Walk every page of a historical date range and reconcile each record.
The poll cursor is not touched.

Dates are RFC 3339 timestamps or YYYY-MM-DD (UTC midnight).

Examples:
  erpsync backfill --type order --from 2025-01-01 --to 2025-04-01`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ot, err := model.ParseObjectType(objectType)
			if err != nil {
				return err
			}
			window, err := parseCLIWindow(from, to)
			if err != nil {
				return err
			}

			ctx := contextOrBackground(cmd.Context())
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.requireSync(); err != nil {
				return err
			}

			run, err := a.sync.Backfill(ctx, ot, window)
			printRun(cmd.OutOrStdout(), run)
			return err
		},
	}

	cmd.Flags().StringVarP(&objectType, "type", "t", "", "object type to backfill (order, invoice)")
	cmd.Flags().StringVar(&from, "from", "", "start of the range (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "end of the range")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func statusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connection state, cursors, record counts and recent runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := contextOrBackground(cmd.Context())
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			status, err := a.status.Status(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			printStatus(out, status)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")

	return cmd
}

// parseCLIWindow accepts RFC 3339 or a bare date for each bound.
func parseCLIWindow(from, to string) (model.TimeWindow, error) {
	f, err := parseCLITime(from)
	if err != nil {
		return model.TimeWindow{}, fmt.Errorf("--from: %w", err)
	}
	t, err := parseCLITime(to)
	if err != nil {
		return model.TimeWindow{}, fmt.Errorf("--to: %w", err)
	}
	if !f.Before(t) {
		return model.TimeWindow{}, fmt.Errorf("--from (%s) must be before --to (%s)", from, to)
	}
	return model.TimeWindow{From: f, To: t}, nil
}

func parseCLITime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", v)
	}
	return t, nil
}

func printRun(w io.Writer, run model.SyncRun) {
	if run.ID == "" {
		return
	}
	fmt.Fprintf(w, "%-8s %-9s %-9s fetched=%d inserted=%d updated=%d failed=%d duration=%s\n",
		run.ObjectType, run.Trigger, run.Status,
		run.Fetched, run.Inserted, run.Updated, run.Failed,
		run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	)
}

func printStatus(w io.Writer, s model.ConnectionStatus) {
	fmt.Fprintf(w, "Integration: %s\n", s.Integration)
	switch {
	case s.Connected:
		fmt.Fprintf(w, "Connection:  connected (token expires %s)\n", s.ExpiresAt.Local().Format(time.DateTime))
	case s.AuthError != "":
		fmt.Fprintf(w, "Connection:  disconnected (%s)\n", s.AuthError)
	default:
		fmt.Fprintln(w, "Connection:  not authorized")
	}
	if r := s.Requests; r != nil {
		if r.DailyLimit > 0 {
			fmt.Fprintf(w, "Requests:    %d of %d today\n", r.UsedToday, r.DailyLimit)
		} else {
			fmt.Fprintf(w, "Requests:    %d today\n", r.UsedToday)
		}
	}

	fmt.Fprintln(w, "\nCursors:")
	if len(s.Cursors) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, c := range s.Cursors {
		fmt.Fprintf(w, "  %-8s %s\n", c.ObjectType, c.LastSyncedAt.Local().Format(time.DateTime))
	}

	fmt.Fprintln(w, "\nRecords:")
	for _, ot := range model.ObjectTypes {
		fmt.Fprintf(w, "  %-8s %d\n", ot, s.RecordCounts[ot])
	}

	fmt.Fprintln(w, "\nRecent runs:")
	if len(s.RecentRuns) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, run := range s.RecentRuns {
		fmt.Fprint(w, "  ")
		printRun(w, run)
	}
}
