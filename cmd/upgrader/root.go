// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/neovateai/neovate-code-sub005/internal/config"
	"github.com/neovateai/neovate-code-sub005/internal/issue"
	"github.com/neovateai/neovate-code-sub005/pkg/types"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// rootFlags holds the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	verbose    bool
	registry   string
	name       string
	version    string
	installDir string
	tempDir    string
	files      []string
}

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "upgrader",
		Short: "Upgrade a registry-installed package in place",
		Long: TitleStyle.Render("upgrader") + SubtitleStyle.Render(" - in-place upgrades from npm-compatible registries") + `

upgrader checks a package registry for a newer release of an installed
package, downloads and unpacks it, and swaps the managed files into the
install directory. If any file cannot be replaced, every file is restored.

` + SubtitleStyle.Render("Examples:") + `
  upgrader check                       Compare installed and latest versions
  upgrader check --json                Same, as JSON
  upgrader upgrade                     Upgrade after confirmation
  upgrader upgrade --yes               Upgrade without asking
  upgrader config init                 Create a starter config file`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default is <config dir>/upgrader/config.cue)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging and full error chains")
	pf.StringVar(&flags.registry, "registry", "", "registry base URL")
	pf.StringVar(&flags.name, "name", "", "package name")
	pf.StringVar(&flags.version, "current-version", "", "installed version")
	pf.StringVar(&flags.installDir, "install-dir", "", "directory holding the managed files")
	pf.StringVar(&flags.tempDir, "temp-dir", "", "directory for download and staging (same filesystem as install-dir)")
	pf.StringArrayVar(&flags.files, "file", nil, "managed path relative to install-dir (repeatable)")

	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.AddCommand(newCheckCommand(app, flags))
	root.AddCommand(newUpgradeCommand(app, flags))
	root.AddCommand(newConfigCommand(app, flags))

	return root
}

// loadOptions turns the persistent flags into config loading options. Only
// flags the user actually set override file and environment values.
func (f *rootFlags) loadOptions(cmd *cobra.Command) config.LoadOptions {
	opts := config.LoadOptions{
		ConfigFilePath: f.configPath,
		Overrides:      map[string]any{},
	}
	set := cmd.Flags().Changed
	if set("registry") {
		opts.Overrides["registry"] = f.registry
	}
	if set("name") {
		opts.Overrides["name"] = f.name
	}
	if set("current-version") {
		opts.Overrides["version"] = f.version
	}
	if set("install-dir") {
		opts.Overrides["install_dir"] = f.installDir
	}
	if set("temp-dir") {
		opts.Overrides["temp_dir"] = f.tempDir
	}
	if set("file") {
		opts.Overrides["files"] = f.files
	}
	return opts
}

// loadInstall loads the configuration and checks it names a complete
// installation.
func (a *App) loadInstall(cmd *cobra.Command, flags *rootFlags) (*config.Config, error) {
	cfg, err := a.Config.Load(cmd.Context(), flags.loadOptions(cmd))
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireInstall(); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithSuggestion("Set the missing keys in config.cue, as UPGRADER_* variables or with flags").
			WithSuggestion("Run 'upgrader config init' to create a starter file").
			Wrap(err).
			BuildError()
	}
	return cfg, nil
}

// prepare loads the installation config and builds an Updater logging to
// stderr.
func (a *App) prepare(cmd *cobra.Command, flags *rootFlags) (Updater, *config.Config, error) {
	cfg, err := a.loadInstall(cmd, flags)
	if err != nil {
		return nil, nil, err
	}
	updater, err := a.NewUpdater(cfg, newLogger(a.stderr, cfg.LogLevel, flags.verbose))
	if err != nil {
		return nil, nil, err
	}
	return updater, cfg, nil
}

// report prints err with remediation and wraps it in an ExitError so fang
// does not print it again.
func (a *App) report(w io.Writer, err error, verbose bool) error {
	fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
	if is, ok := issueFor(err); ok && verbose {
		if rendered, renderErr := is.Render(issueStyle); renderErr == nil {
			fmt.Fprint(w, rendered)
		}
	}
	return &ExitError{Code: classifyExitCode(err), Err: err, reported: true}
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version != "dev" {
		return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev (built from source)"
}

// Execute runs the CLI with os.Args and exits with the command's exit code.
func Execute() {
	os.Exit(int(Main()))
}

// Main runs the CLI with os.Args and returns the exit code.
func Main() types.ExitCode {
	app := NewApp(Dependencies{})
	return execute(context.Background(), NewRootCommand(app), os.Args[1:])
}

func execute(ctx context.Context, root *cobra.Command, args []string) types.ExitCode {
	root.SetArgs(args)
	err := fang.Execute(
		ctx,
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			var exitErr *ExitError
			if errors.As(err, &exitErr) && exitErr.reported {
				return
			}
			fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, false))
		}),
	)
	if err == nil {
		return types.ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return types.ExitUserError
}
