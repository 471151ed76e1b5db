package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lherron/couchmig/internal/cli/appctx"
	"github.com/lherron/couchmig/internal/couch"
	"github.com/lherron/couchmig/internal/journal"
	"github.com/lherron/couchmig/internal/report"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the run journal",
	Long:  `Lists the most recent migration runs recorded in the journal, newest first.`,
	Args:  cobra.NoArgs,
	RunE:  appctx.WithApp(appctx.JournalOnly(), runRuns),
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the processed databases of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  appctx.WithApp(appctx.JournalOnly(), runRunsShow),
}

var runsPushCmd = &cobra.Command{
	Use:   "push <db>",
	Short: "Publish the journal to a CouchDB database",
	Long: `Writes one document per recorded run, with its processed databases, to
<db> on --host. The database is created when missing and documents of runs
pushed before are updated.`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.JournalOnly(), runRunsPush),
}

var runsLimit int

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsPushCmd)
	runsCmd.PersistentFlags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs")
}

func runRuns(app *appctx.App, cmd *cobra.Command, args []string) error {
	runs, err := app.Journal.Runs(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []journal.Run{}
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID, r.Op, r.Prefix, r.Status,
			strconv.Itoa(r.Total), strconv.Itoa(r.Succeeded), strconv.Itoa(r.Failed),
			r.StartedAt.Local().Format(time.DateTime),
		})
	}
	headers := []string{"ID", "OP", "PREFIX", "STATUS", "TOTAL", "OK", "FAILED", "STARTED"}
	return app.Renderer(cmd.OutOrStdout()).Render(runs, headers, rows)
}

func runRunsShow(app *appctx.App, cmd *cobra.Command, args []string) error {
	items, err := app.Journal.Items(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if items == nil {
		items = []journal.Item{}
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{strconv.Itoa(it.Seq), it.DB, it.Status, it.Error})
	}
	headers := []string{"SEQ", "DB", "STATUS", "ERROR"}
	return app.Renderer(cmd.OutOrStdout()).Render(items, headers, rows)
}

func runRunsPush(app *appctx.App, cmd *cobra.Command, args []string) error {
	client, err := couch.New(app.Config.Host, couch.WithLogger(app.Logger))
	if err != nil {
		return err
	}

	n, err := report.Push(cmd.Context(), client, app.Journal, args[0], runsLimit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d run(s) to %s\n", n, args[0])
	return nil
}
