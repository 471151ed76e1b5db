package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lherron/couchmig/internal/bulk"
	"github.com/lherron/couchmig/internal/cli/appctx"
	"github.com/lherron/couchmig/internal/render"
)

// ExitError carries a process exit code
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError returns an error that will cause the CLI to exit with the given code
func exitError(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps an error returned by Execute to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// runOutput is the machine-readable outcome of a migration command
type runOutput struct {
	Total     int               `json:"total" yaml:"total"`
	Succeeded int               `json:"succeeded" yaml:"succeeded"`
	Failed    int               `json:"failed" yaml:"failed"`
	Remaining int               `json:"remaining" yaml:"remaining"`
	Databases []string          `json:"databases" yaml:"databases"`
	Errors    map[string]string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// finishRun prints the outcome of a run and converts a partial or failed
// result into an exit code.
func finishRun(app *appctx.App, cmd *cobra.Command, result *bulk.Result[string], runErr error) error {
	if runErr != nil && result == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if app.Format == render.FormatTable {
		result.PrintSummary(out)
	} else {
		view := runOutput{
			Total:     result.TotalItems,
			Succeeded: result.Succeeded,
			Failed:    result.Failed,
			Remaining: result.Remaining(),
			Databases: []string{},
		}
		for _, v := range result.Values {
			if v != "" {
				view.Databases = append(view.Databases, v)
			}
		}
		if len(result.Errors) > 0 {
			view.Errors = make(map[string]string, len(result.Errors))
			for _, e := range result.Errors {
				view.Errors[e.Item] = e.Error.Error()
			}
		}
		if err := app.Renderer(out).Render(view, nil, nil); err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}
	if code := result.ExitCode(); code != 0 {
		return exitError(code, fmt.Errorf("%d of %d databases failed", result.Failed+result.Remaining(), result.TotalItems))
	}
	return nil
}

// resolveAfter returns the database to resume after. With resume set it
// asks the journal for the last item of the most recent interrupted run of
// op; after is used when there is nothing to resume.
func resolveAfter(ctx context.Context, app *appctx.App, op, after string, resume bool) (string, error) {
	if !resume {
		return after, nil
	}
	if app.Journal == nil {
		return "", fmt.Errorf("--resume requires the run journal")
	}
	last, ok, err := app.Journal.ResumePoint(ctx, op, app.Config.Prefix)
	if err != nil {
		return "", err
	}
	if !ok {
		app.Logger.WithField("op", op).Info("no interrupted run to resume")
		return after, nil
	}
	app.Logger.WithFields(logrus.Fields{"op": op, "after": last}).Info("resuming interrupted run")
	return last, nil
}

// confirm asks for a yes/no answer on in, prompting on w
func confirm(in io.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(in)
	response, _ := reader.ReadString('\n')
	switch strings.TrimSpace(strings.ToLower(response)) {
	case "y", "yes":
		return true
	}
	return false
}
