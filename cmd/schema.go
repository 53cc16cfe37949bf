package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/identity-cli/internal/merge"
	"github.com/sells-group/identity-cli/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the identity schema",
}

var schemaEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create missing identity tables, columns and indexes, then verify structure",
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

		report, err := schema.NewEnsurer(pool).Ensure(ctx)
		if err != nil {
			return err
		}
		for _, name := range report.Created {
			_, _ = fmt.Fprintf(os.Stdout, "created %s\n", name)
		}

		if err := schema.NewVerifier(pool).Verify(ctx, merge.DefaultRegistry().Columns()...); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(os.Stdout, "schema ok")
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaEnsureCmd)
	rootCmd.AddCommand(schemaCmd)
}
