package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/lherron/couchmig/internal/cli/appctx"
	"github.com/lherron/couchmig/internal/migrate"
	"github.com/lherron/couchmig/internal/scope"
)

var rmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Delete every database in scope",
	Long: `Deletes each database whose name starts with --prefix on the --host
server, in reverse name order.

WARNING: deleted databases CANNOT be restored.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runRm),
}

var (
	rmAfter  string
	rmSkip   []string
	rmYes    bool
	rmDryRun bool
)

func init() {
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().StringVar(&rmAfter, "after", "", "Start strictly after this database")
	rmCmd.Flags().StringSliceVar(&rmSkip, "skip", nil, "Database to leave out (repeatable)")
	rmCmd.Flags().BoolVar(&rmYes, "yes", false, "Skip confirmation prompt")
	rmCmd.Flags().BoolVar(&rmDryRun, "dry-run", false, "Show what would be removed")
}

func runRm(app *appctx.App, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	opts := scope.ListOptions{After: rmAfter, Skip: rmSkip}
	remove := migrate.RemoveOptions{ListOptions: opts}

	if rmDryRun || !rmYes {
		names, err := app.Orchestrator.List(ctx, opts)
		if err != nil {
			return err
		}
		slices.Reverse(names)
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to do: no databases in scope")
			return nil
		}

		if rmDryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "Would remove %d database(s):\n\n", len(names))
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
			}
			return nil
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "\nWARNING: This will permanently delete %d database(s) on %s.\n",
			len(names), scope.ScrubCredentials(app.Config.Host))
		fmt.Fprintf(cmd.ErrOrStderr(), "This action CANNOT be undone.\n\n")
		if !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), "Continue?") {
			return fmt.Errorf("aborted")
		}
		// the scope is listed again; only what was shown gets removed
		remove.Confirmed = names
	}

	result, err := app.Orchestrator.RemoveAll(ctx, remove)
	return finishRun(app, cmd, result, err)
}
