package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lherron/couchmig/internal/cli/appctx"
	"github.com/lherron/couchmig/internal/scope"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List active replications from databases in scope",
	Long: `Lists the replications running on --host whose source database is in
scope. Credentials in source and target URLs are masked.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.ScopeOnly(), runTasks),
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}

// taskRow is one listed replication
type taskRow struct {
	ReplicationID string `json:"replication_id" yaml:"replication_id"`
	Source        string `json:"source" yaml:"source"`
	Target        string `json:"target" yaml:"target"`
	Continuous    bool   `json:"continuous" yaml:"continuous"`
	Progress      *int   `json:"progress,omitempty" yaml:"progress,omitempty"`
	UpdatedOn     int64  `json:"updated_on,omitempty" yaml:"updated_on,omitempty"`
}

func runTasks(app *appctx.App, cmd *cobra.Command, args []string) error {
	tasks, err := app.Orchestrator.ReplicationTasks(cmd.Context())
	if err != nil {
		return err
	}

	view := make([]taskRow, 0, len(tasks))
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		row := taskRow{
			ReplicationID: t.ReplicationID,
			Source:        scope.ScrubCredentials(t.Source),
			Target:        scope.ScrubCredentials(t.Target),
			Continuous:    t.Continuous,
			Progress:      t.Progress,
			UpdatedOn:     t.UpdatedOn,
		}
		view = append(view, row)

		progress := "-"
		if row.Progress != nil {
			progress = strconv.Itoa(*row.Progress) + "%"
		}
		updated := "-"
		if row.UpdatedOn > 0 {
			updated = time.Unix(row.UpdatedOn, 0).UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			row.ReplicationID, row.Source, row.Target,
			strconv.FormatBool(row.Continuous), progress, updated,
		})
	}

	headers := []string{"REPLICATION_ID", "SOURCE", "TARGET", "CONTINUOUS", "PROGRESS", "UPDATED_ON"}
	return app.Renderer(cmd.OutOrStdout()).Render(view, headers, rows)
}
