package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/identity-cli/internal/db"
	"github.com/sells-group/identity-cli/internal/monitoring"
	"github.com/sells-group/identity-cli/internal/reconcile"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect reconciliation run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent reconciliation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := reconcile.NewRunLog(pool).List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			_, _ = fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var runsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate recent run health once and send any alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("monitor"); err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		alerts, err := newChecker(pool).Check(ctx)
		if err != nil {
			return eris.Wrap(err, "runs check")
		}
		if len(alerts) == 0 {
			_, _ = fmt.Fprintln(os.Stderr, "No alerts.")
			return nil
		}
		formatAlerts(os.Stdout, alerts)
		return nil
	},
}

var runsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check run health periodically until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("monitor"); err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		newChecker(pool).Run(ctx)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsCheckCmd)
	runsCmd.AddCommand(runsWatchCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []reconcile.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tLINKED\tCREATED\tMERGED\tFAILURES\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t--------\t------\t-------\t------\t--------\t-----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		var linked, created, merged, failures string
		if r.Summary != nil {
			t := r.Summary.Totals()
			linked = fmt.Sprint(t.Linked)
			created = fmt.Sprint(t.Created)
			merged = fmt.Sprint(t.Merged)
			failures = fmt.Sprint(t.Failures)
		}

		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			linked, created, merged, failures,
			errMsg,
		)
	}
	_ = w.Flush()
}

func newChecker(pool db.Querier) *monitoring.Checker {
	return monitoring.NewChecker(
		monitoring.NewCollector(reconcile.NewRunLog(pool)),
		monitoring.NewAlerter(cfg.Monitoring),
		cfg.Monitoring,
	)
}

// formatAlerts writes triggered alerts as a table to w.
func formatAlerts(out io.Writer, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tSEVERITY\tMESSAGE")
	_, _ = fmt.Fprintln(w, "----\t--------\t-------")
	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", a.Type, a.Severity, a.Message)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
