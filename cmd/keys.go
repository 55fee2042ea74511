package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/qaforge/internal/keypool"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List configured API keys per provider (masked)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pool, err := keypool.FromConfig(cfg)
		if err != nil {
			return err
		}
		if len(pool.Providers()) == 0 {
			fmt.Fprintln(os.Stderr, "No API keys configured.")
			return nil
		}
		formatKeys(os.Stdout, pool, cfg.Providers.Primary, cfg.Providers.Secondary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
}

// formatKeys writes each provider's keys in priority order, never the raw key.
func formatKeys(out io.Writer, pool *keypool.Pool, primary, secondary string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tROLE\tPRIORITY\tKEY")
	for _, name := range pool.Providers() {
		role := ""
		switch name {
		case primary:
			role = "primary"
		case secondary:
			role = "secondary"
		}
		for _, c := range pool.Credentials(name) {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, role, c.Index+1, c.Fingerprint())
		}
	}
	_ = w.Flush()
}
