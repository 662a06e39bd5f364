// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/neovateai/neovate-code-sub005/internal/selfupdate"
)

type upgradeParams struct {
	stdout  io.Writer
	stderr  io.Writer
	updater Updater
	confirm ConfirmFunc
	name    string
	verbose bool

	yes         bool
	verify      bool
	artifactURL string // Overrides the registry's artifact when set
}

func newUpgradeCommand(app *App, flags *rootFlags) *cobra.Command {
	var (
		yes         bool
		noVerify    bool
		artifactURL string
	)

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Download and install the latest release in place",
		Long: `Check the registry, then download the latest release, unpack it and swap
the managed files into the install directory. If any file cannot be replaced
the original files are restored.

Download and extraction stop on Ctrl-C; the file swap always runs to completion
or rolls back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			updater, cfg, err := app.prepare(cmd, flags)
			if err != nil {
				return app.report(app.stderr, err, flags.verbose)
			}
			return runUpgrade(cmd.Context(), upgradeParams{
				stdout:      app.stdout,
				stderr:      app.stderr,
				updater:     updater,
				confirm:     app.Confirm,
				name:        cfg.Name,
				verbose:     flags.verbose,
				yes:         yes,
				verify:      cfg.VerifyIntegrity && !noVerify,
				artifactURL: artifactURL,
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().StringVar(&artifactURL, "artifact-url", "", "install this artifact instead of the registry's latest")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip integrity verification of the downloaded artifact")

	return cmd
}

// runUpgrade checks for a release and installs it. Errors come back as
// *ExitError values that have already been printed.
func runUpgrade(ctx context.Context, p upgradeParams) error {
	res, err := p.updater.Check(ctx)
	if err != nil {
		return reportUpgradeError(p, err)
	}

	artifactURL := res.ArtifactURL
	if p.artifactURL != "" {
		artifactURL = p.artifactURL
	}
	if !res.HasUpdate && p.artifactURL == "" {
		fmt.Fprintf(p.stdout, "%s %s is up to date (%s)\n",
			SuccessStyle.Render("✓"), p.name, CmdStyle.Render(res.CurrentVersion))
		return nil
	}

	// The published digest only describes the registry's own artifact.
	var integrity string
	if p.verify && artifactURL == res.ArtifactURL {
		integrity = res.Integrity
	}

	if !p.yes {
		target := res.LatestVersion
		if p.artifactURL != "" {
			target = p.artifactURL
		}
		ok, err := p.confirm(
			fmt.Sprintf("Upgrade %s %s → %s?", p.name, res.CurrentVersion, target),
			"Managed files in the install directory will be replaced.",
		)
		if err != nil {
			return reportUpgradeError(p, err)
		}
		if !ok {
			fmt.Fprintln(p.stdout, SubtitleStyle.Render("Upgrade cancelled."))
			return nil
		}
	}

	unsubscribe := p.updater.Subscribe(progressHandler(p.stdout))
	defer unsubscribe()

	if err := p.updater.Upgrade(ctx, selfupdate.UpgradeOptions{
		ArtifactURL: artifactURL,
		Integrity:   integrity,
	}); err != nil {
		return reportUpgradeError(p, err)
	}

	fmt.Fprintf(p.stdout, "%s %s upgraded to %s\n",
		SuccessStyle.Render("✓"), p.name, CmdStyle.Render(res.LatestVersion))
	return nil
}

// progressHandler renders one line per status event.
func progressHandler(w io.Writer) selfupdate.Handler {
	return func(ev selfupdate.Event) error {
		label := phaseLabelStyle.Render(ev.Phase.String())
		switch ev.Phase {
		case selfupdate.PhaseDone:
			_, err := fmt.Fprintln(w, SuccessStyle.Render(label)+" "+ev.Message)
			return err
		case selfupdate.PhaseError:
			// The failure itself is reported once the upgrade returns.
			return nil
		default:
			_, err := fmt.Fprintln(w, label+" "+ev.Message)
			return err
		}
	}
}

// reportUpgradeError prints err and, for an unrecoverable install or in
// verbose mode, the matching remediation guide.
func reportUpgradeError(p upgradeParams, err error) error {
	fmt.Fprintln(p.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, p.verbose))

	var fatal *selfupdate.FatalError
	if errors.As(err, &fatal) || p.verbose {
		if is, ok := issueFor(err); ok {
			var details []string
			if fatal != nil && fatal.BackupDir != "" {
				details = append(details, fmt.Sprintf("Original files were preserved in `%s`.", fatal.BackupDir))
			}
			if rendered, renderErr := is.RenderWithDetails(issueStyle, details...); renderErr == nil {
				fmt.Fprint(p.stderr, rendered)
			}
		}
	}

	return &ExitError{Code: classifyExitCode(err), Err: err, reported: true}
}
