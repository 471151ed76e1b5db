package cli

import (
	"github.com/spf13/cobra"

	"github.com/lherron/couchmig/internal/cli/appctx"
	"github.com/lherron/couchmig/internal/migrate"
	"github.com/lherron/couchmig/internal/scope"
)

var usersCmd = &cobra.Command{
	Use:   "users --src URL --target URL",
	Short: "Copy security documents and users of every database in scope",
	Long: `For each database in scope, copies every user named in its security
document from the --src _users database to the --target one, then copies
the security document itself. Each user is copied at most once per run.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runUsers),
}

var (
	usersSrc    string
	usersTarget string
	usersAfter  string
	usersSkip   []string
	usersResume bool
)

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.Flags().StringVar(&usersSrc, "src", "", "Source server URL")
	usersCmd.Flags().StringVar(&usersTarget, "target", "", "Target server URL")
	usersCmd.Flags().StringVar(&usersAfter, "after", "", "Start strictly after this database")
	usersCmd.Flags().StringSliceVar(&usersSkip, "skip", nil, "Database to leave out (repeatable)")
	usersCmd.Flags().Bool("sanitize-roles", false, "Strip leading underscores from copied user roles")
	usersCmd.Flags().BoolVar(&usersResume, "resume", false, "Resume after the last database of an interrupted run")
	usersCmd.MarkFlagRequired("src")
	usersCmd.MarkFlagRequired("target")
	usersCmd.MarkFlagsMutuallyExclusive("after", "resume")
}

func runUsers(app *appctx.App, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	after, err := resolveAfter(ctx, app, migrate.OpUsers, usersAfter, usersResume)
	if err != nil {
		return err
	}

	result, err := app.Orchestrator.CopyUsers(ctx, usersSrc, usersTarget, migrate.UserOptions{
		ListOptions: scope.ListOptions{After: after, Skip: usersSkip},
		NewPrefix:   app.Config.NewPrefix,
	})
	return finishRun(app, cmd, result, err)
}
