// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type checkParams struct {
	stdout  io.Writer
	updater Updater
	json    bool
}

func newCheckCommand(app *App, flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare the installed version with the registry's latest release",
		Long: `Query the registry for the package's latest release and report whether it
is newer than the installed version. Nothing is downloaded or modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			updater, _, err := app.prepare(cmd, flags)
			if err != nil {
				return app.report(app.stderr, err, flags.verbose)
			}
			if err := runCheck(cmd.Context(), checkParams{
				stdout:  app.stdout,
				updater: updater,
				json:    asJSON,
			}); err != nil {
				return app.report(app.stderr, err, flags.verbose)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	return cmd
}

func runCheck(ctx context.Context, p checkParams) error {
	res, err := p.updater.Check(ctx)
	if err != nil {
		return err
	}

	if p.json {
		enc := json.NewEncoder(p.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(p.stdout, "%s %s\n", phaseLabelStyle.Render("installed"), res.CurrentVersion)
	fmt.Fprintf(p.stdout, "%s %s\n", phaseLabelStyle.Render("latest"), res.LatestVersion)
	if res.HasUpdate {
		fmt.Fprintln(p.stdout, WarningStyle.Render("update available")+" run "+CmdStyle.Render("upgrader upgrade")+" to install it")
		return nil
	}
	fmt.Fprintln(p.stdout, SuccessStyle.Render("up to date"))
	return nil
}
