package cli

import (
	"github.com/spf13/cobra"

	"github.com/lherron/couchmig/internal/cli/appctx"
	"github.com/lherron/couchmig/internal/migrate"
	"github.com/lherron/couchmig/internal/scope"
)

var replicateCmd = &cobra.Command{
	Use:   "replicate --src URL --target URL",
	Short: "Replicate every database in scope to another server",
	Long: `Replicates each database whose name starts with --prefix from --src to
--target through the --host server, creating the target databases. With
--newprefix the target names get the new prefix instead.

With --with-users the security document of each database and every user it
names are copied after the database.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runReplicate),
}

var (
	replicateSrc        string
	replicateTarget     string
	replicateWithUsers  bool
	replicateAfter      string
	replicateSkip       []string
	replicateContinuous bool
	replicateResume     bool
)

func init() {
	rootCmd.AddCommand(replicateCmd)
	replicateCmd.Flags().StringVar(&replicateSrc, "src", "", "Source server URL")
	replicateCmd.Flags().StringVar(&replicateTarget, "target", "", "Target server URL")
	replicateCmd.Flags().BoolVar(&replicateWithUsers, "with-users", false, "Copy security documents and users after each database")
	replicateCmd.Flags().StringVar(&replicateAfter, "after", "", "Start strictly after this database")
	replicateCmd.Flags().StringSliceVar(&replicateSkip, "skip", nil, "Database to leave out (repeatable)")
	replicateCmd.Flags().BoolVar(&replicateContinuous, "continuous", false, "Start continuous replications")
	replicateCmd.Flags().Duration("progress-interval", 0, "Poll replication progress at this interval (default from config, 0 disables)")
	replicateCmd.Flags().Bool("sanitize-roles", false, "Strip leading underscores from copied user roles")
	replicateCmd.Flags().BoolVar(&replicateResume, "resume", false, "Resume after the last database of an interrupted run")
	replicateCmd.MarkFlagRequired("src")
	replicateCmd.MarkFlagRequired("target")
	replicateCmd.MarkFlagsMutuallyExclusive("after", "resume")
}

func runReplicate(app *appctx.App, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	after, err := resolveAfter(ctx, app, migrate.OpReplicate, replicateAfter, replicateResume)
	if err != nil {
		return err
	}

	result, err := app.Orchestrator.ReplicateAll(ctx, replicateSrc, replicateTarget, migrate.ReplicateOptions{
		ListOptions:      scope.ListOptions{After: after, Skip: replicateSkip},
		NewPrefix:        app.Config.NewPrefix,
		WithUsers:        replicateWithUsers,
		Continuous:       replicateContinuous,
		ProgressInterval: app.Config.ProgressInterval,
	})
	return finishRun(app, cmd, result, err)
}
