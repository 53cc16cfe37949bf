package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/identity-cli/internal/phone"
)

var phoneCmd = &cobra.Command{
	Use:   "phone",
	Short: "Phone number utilities",
}

var phoneNormalizeCmd = &cobra.Command{
	Use:   "normalize <raw>...",
	Short: "Print the canonical E.164-like form of each phone number",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, _ := cmd.Flags().GetString("country")
		if cc == "" && cfg != nil {
			cc = cfg.Phone.DefaultCountryCode
		}
		n := phone.New(cc)

		out := cmd.OutOrStdout()
		for _, raw := range args {
			norm := n.Normalize(raw)
			if norm == "" {
				norm = "-"
			}
			_, _ = fmt.Fprintf(out, "%s\t%s\n", raw, norm)
		}
		return nil
	},
}

func init() {
	phoneNormalizeCmd.Flags().String("country", "", "default country calling code (overrides phone.default_country_code)")

	phoneCmd.AddCommand(phoneNormalizeCmd)
	rootCmd.AddCommand(phoneCmd)
}
