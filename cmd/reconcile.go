package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/identity-cli/internal/config"
	"github.com/sells-group/identity-cli/internal/db"
	"github.com/sells-group/identity-cli/internal/identity"
	"github.com/sells-group/identity-cli/internal/merge"
	"github.com/sells-group/identity-cli/internal/phone"
	"github.com/sells-group/identity-cli/internal/reconcile"
	"github.com/sells-group/identity-cli/internal/resilience"
	"github.com/sells-group/identity-cli/internal/schema"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Link records to identities and merge duplicates",
	Long:  "Ensures the identity schema, links every unlinked account, customer and promoter to an identity, syncs legacy pointers, merges duplicate records and reports totals.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		output, _ := cmd.Flags().GetString("output")
		if !reconcile.ValidFormat(output) {
			return eris.Errorf("reconcile: unknown --output %q (table, json, yaml)", output)
		}
		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		summary, err := newEngine(pool, cfg).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "reconcile")
		}
		return summary.Render(os.Stdout, output)
	},
}

var reconcileGroupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List current duplicate groups without merging",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("schema"); err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		grouper := merge.NewGrouper(pool)
		var all []merge.Group
		for _, e := range merge.Entities {
			groups, err := grouper.Groups(ctx, e)
			if err != nil {
				return err
			}
			all = append(all, groups...)
		}

		if len(all) == 0 {
			_, _ = fmt.Fprintln(os.Stderr, "No duplicate groups found.")
			return nil
		}
		formatGroups(os.Stdout, all)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().StringP("output", "o", reconcile.FormatTable, "summary format (table, json, yaml)")

	reconcileCmd.AddCommand(reconcileGroupsCmd)
	rootCmd.AddCommand(reconcileCmd)
}

// newEngine wires the reconciliation components onto pool.
func newEngine(pool db.Pool, c *config.Config) *reconcile.Engine {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = c.Merge.RetryAttempts

	store := identity.NewPostgresStore(pool, c.Linker.TxTimeout)
	reg := merge.DefaultRegistry()

	return reconcile.NewEngine(reconcile.Components{
		Ensurer:  schema.NewEnsurer(pool),
		Verifier: schema.NewVerifier(pool),
		Linker: identity.NewLinker(store, identity.Options{
			MatchPriority: identity.MatchPriority(c.Linker.MatchPriority),
			Phone:         phone.New(c.Phone.DefaultCountryCode),
			Retry:         retry,
		}),
		Legacy:  identity.NewLegacySync(pool, c.Merge.TxTimeout),
		Grouper: merge.NewGrouper(pool),
		Merger: merge.NewExecutor(pool, reg, merge.Options{
			Concurrency: c.Merge.Concurrency,
			TxTimeout:   c.Merge.TxTimeout,
			RatePerSec:  c.Merge.RatePerSec,
			Retry:       retry,
		}),
		Counter:  store,
		Runs:     reconcile.NewRunLog(pool),
		Registry: reg,
	}, c.Run.StaleAfter)
}

// formatGroups writes one line per duplicate group to w.
func formatGroups(out io.Writer, groups []merge.Group) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENTITY\tIDENTITY\tTENANT\tSURVIVOR\tDUPLICATES")
	_, _ = fmt.Fprintln(w, "------\t--------\t------\t--------\t----------")
	for _, g := range groups {
		tenant := "-"
		if g.TenantID != nil {
			tenant = *g.TenantID
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			g.Entity, truncateID(g.IdentityID), tenant, g.Survivor(), len(g.Duplicates()))
	}
	_ = w.Flush()
}
