package cli

import (
	"github.com/spf13/cobra"

	"github.com/lherron/couchmig/internal/cli/appctx"
	"github.com/lherron/couchmig/internal/render"
	"github.com/lherron/couchmig/internal/scope"
)

var dbsCmd = &cobra.Command{
	Use:   "dbs",
	Short: "List the databases in scope",
	Args:  cobra.NoArgs,
	RunE:  appctx.WithApp(appctx.ScopeOnly(), runDBs),
}

var (
	dbsAfter string
	dbsSkip  []string
)

func init() {
	rootCmd.AddCommand(dbsCmd)
	dbsCmd.Flags().StringVar(&dbsAfter, "after", "", "Start strictly after this database")
	dbsCmd.Flags().StringSliceVar(&dbsSkip, "skip", nil, "Database to leave out (repeatable)")
}

func runDBs(app *appctx.App, cmd *cobra.Command, args []string) error {
	names, err := app.Orchestrator.List(cmd.Context(), scope.ListOptions{After: dbsAfter, Skip: dbsSkip})
	if err != nil {
		return err
	}

	r := app.Renderer(cmd.OutOrStdout())
	switch app.Format {
	case render.FormatJSON, render.FormatYAML:
		if names == nil {
			names = []string{}
		}
		return r.Render(names, nil, nil)
	default:
		return r.RenderList(names)
	}
}
