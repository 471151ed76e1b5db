package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lherron/couchmig/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "couchmig",
	Short: "Bulk-migrate prefix-scoped CouchDB databases",
	Long: `couchmig replicates, copies the security context of, and removes every
CouchDB database whose name starts with a prefix. Databases are processed
one at a time in name order; a failure on one database is reported and the
run moves on.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running
// operation after the current request.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("host", "r", config.DefaultHost, "CouchDB server that runs replications and removals (overrides COUCHMIG_HOST)")
	flags.StringP("prefix", "p", "", "Database name prefix selecting the scope (overrides COUCHMIG_PREFIX)")
	flags.String("newprefix", "", "Prefix for target database names (defaults to --prefix)")
	flags.String("journal", "", "Path to the run journal (overrides COUCHMIG_JOURNAL)")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	flags.StringP("output", "o", "table", "Output format: table, json, yaml, tsv")
	flags.Bool("json", false, "Output JSON (same as --output json)")
	flags.Bool("porcelain", false, "Machine-readable output: tab-separated tables, compact JSON")
}
