// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"

	"github.com/neovateai/neovate-code-sub005/internal/config"
	"github.com/neovateai/neovate-code-sub005/internal/selfupdate"
)

type (
	// Updater is the engine surface the CLI drives. *selfupdate.Orchestrator
	// implements it.
	Updater interface {
		Check(ctx context.Context) (*selfupdate.CheckResult, error)
		Upgrade(ctx context.Context, opts selfupdate.UpgradeOptions) error
		Subscribe(handler selfupdate.Handler) (unsubscribe func())
	}

	// UpdaterFactory builds an Updater for a loaded configuration.
	UpdaterFactory func(cfg *config.Config, logger *log.Logger) (Updater, error)

	// ConfirmFunc asks the user a yes/no question.
	ConfirmFunc func(title, description string) (bool, error)

	// App wires CLI services and shared dependencies. Every command handler
	// receives an App and goes through it for configuration, the engine and
	// user interaction.
	App struct {
		Config     config.Provider
		NewUpdater UpdaterFactory
		Confirm    ConfirmFunc
		stdout     io.Writer
		stderr     io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil fields
	// are replaced with production defaults by NewApp.
	Dependencies struct {
		Config     config.Provider
		NewUpdater UpdaterFactory
		Confirm    ConfirmFunc
		Stdout     io.Writer
		Stderr     io.Writer
	}
)

// NewApp creates an App, filling unset dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:     deps.Config,
		NewUpdater: deps.NewUpdater,
		Confirm:    deps.Confirm,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.NewUpdater == nil {
		app.NewUpdater = newOrchestrator
	}
	if app.Confirm == nil {
		app.Confirm = confirmPrompt
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// newOrchestrator builds the production engine. Registry lookups and
// downloads share one HTTP client so download_timeout bounds both. temp_dir,
// when set, holds both session work directories and swap backups.
func newOrchestrator(cfg *config.Config, logger *log.Logger) (Updater, error) {
	httpClient := &http.Client{Timeout: cfg.DownloadTimeout}
	userAgent := "upgrader/" + Version

	swapOpts := []selfupdate.SwapperOption{selfupdate.WithSwapLogger(logger)}
	if cfg.TempDir != "" {
		swapOpts = append(swapOpts, selfupdate.WithBackupRoot(cfg.TempDir))
	}

	opts := []selfupdate.Option{
		selfupdate.WithRegistry(selfupdate.NewRegistryClient(
			selfupdate.WithRegistryHTTPClient(httpClient),
			selfupdate.WithRegistryUserAgent(userAgent),
		)),
		selfupdate.WithFetcher(selfupdate.NewDownloader(
			selfupdate.WithDownloadHTTPClient(httpClient),
			selfupdate.WithDownloadUserAgent(userAgent),
			selfupdate.WithDownloadLogger(logger),
		)),
		selfupdate.WithExtractor(selfupdate.NewExtractor(
			selfupdate.WithExtractLogger(logger),
		)),
		selfupdate.WithSwapper(selfupdate.NewFileSwapper(swapOpts...)),
		selfupdate.WithLogger(logger),
	}
	if cfg.TempDir != "" {
		opts = append(opts, selfupdate.WithTempRoot(cfg.TempDir))
	}

	return selfupdate.New(cfg.ToInstallConfig(), opts...)
}

// newLogger creates the CLI logger on w. verbose forces debug level;
// otherwise the configured level applies.
func newLogger(w io.Writer, level config.LogLevel, verbose bool) *log.Logger {
	lvl, err := log.ParseLevel(string(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	if verbose {
		lvl = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		Prefix: "upgrader",
		Level:  lvl,
	})
}
