// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neovateai/neovate-code-sub005/internal/config"
)

func newConfigCommand(app *App, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create the configuration file",
		Long: `Inspect and create the upgrader configuration.

Values are merged from built-in defaults, the CUE config file, UPGRADER_*
environment variables and command-line flags, in that order.`,
	}

	cmd.AddCommand(newConfigShowCommand(app, flags))
	cmd.AddCommand(newConfigInitCommand(app, flags))
	cmd.AddCommand(newConfigPathCommand(app, flags))

	return cmd
}

func newConfigShowCommand(app *App, flags *rootFlags) *cobra.Command {
	var format string

	formats := make([]string, 0, len(config.Formats()))
	for _, f := range config.Formats() {
		formats = append(formats, string(f))
	}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.Config.Load(cmd.Context(), flags.loadOptions(cmd))
			if err != nil {
				return app.report(app.stderr, err, flags.verbose)
			}
			out, err := config.Render(cfg, config.Format(format))
			if err != nil {
				return app.report(app.stderr, fmt.Errorf("%w (supported: %s)", err, strings.Join(formats, ", ")), flags.verbose)
			}
			fmt.Fprint(app.stdout, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", string(config.FormatCUE), "output format: "+strings.Join(formats, ", "))
	_ = cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions(formats, cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

func newConfigInitCommand(app *App, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a starter configuration file",
		Long: `Create a starter config.cue at the default location, or at --config when
given. An existing file is never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var (
				path    string
				created bool
				err     error
			)
			if flags.configPath != "" {
				path = flags.configPath
				if _, statErr := os.Stat(path); statErr != nil {
					err = config.Save(path, config.DefaultConfig())
					created = err == nil
				}
			} else {
				path, created, err = config.CreateDefaultConfig()
			}
			if err != nil {
				return app.report(app.stderr, err, flags.verbose)
			}

			if !created {
				fmt.Fprintf(app.stdout, "%s config already exists at %s\n", WarningStyle.Render("!"), CmdStyle.Render(path))
				return nil
			}
			fmt.Fprintf(app.stdout, "%s created %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(path))
			return nil
		},
	}
}

func newConfigPathCommand(app *App, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, path, err := app.Config.Resolve(cmd.Context(), flags.loadOptions(cmd))
			if err != nil {
				return app.report(app.stderr, err, flags.verbose)
			}
			if path != "" {
				fmt.Fprintln(app.stdout, path)
				return nil
			}

			def, err := config.DefaultConfigPath()
			if err != nil {
				return app.report(app.stderr, err, flags.verbose)
			}
			fmt.Fprintf(app.stdout, "%s %s\n", def, SubtitleStyle.Render("(not present)"))
			return nil
		},
	}
}
