// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/neovateai/neovate-code-sub005/internal/config"
	"github.com/neovateai/neovate-code-sub005/internal/selfupdate"
	"github.com/neovateai/neovate-code-sub005/internal/testutil"
)

type (
	fakeProvider struct {
		cfg  *config.Config
		path string
		err  error

		mu   sync.Mutex
		opts []config.LoadOptions
	}

	fakeUpdater struct {
		checkRes   *selfupdate.CheckResult
		checkErr   error
		upgradeErr error
		events     []selfupdate.Event

		mu       sync.Mutex
		upgrades []selfupdate.UpgradeOptions
		handlers []selfupdate.Handler
	}
)

func (p *fakeProvider) Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error) {
	cfg, _, err := p.Resolve(ctx, opts)
	return cfg, err
}

func (p *fakeProvider) Resolve(_ context.Context, opts config.LoadOptions) (*config.Config, string, error) {
	p.mu.Lock()
	p.opts = append(p.opts, opts)
	p.mu.Unlock()
	if p.err != nil {
		return nil, "", p.err
	}
	return p.cfg, p.path, nil
}

func (p *fakeProvider) lastOpts(t *testing.T) config.LoadOptions {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.opts) == 0 {
		t.Fatal("provider was never called")
	}
	return p.opts[len(p.opts)-1]
}

func (u *fakeUpdater) Check(context.Context) (*selfupdate.CheckResult, error) {
	if u.checkErr != nil {
		return nil, u.checkErr
	}
	res := *u.checkRes
	return &res, nil
}

func (u *fakeUpdater) Upgrade(_ context.Context, opts selfupdate.UpgradeOptions) error {
	u.mu.Lock()
	u.upgrades = append(u.upgrades, opts)
	handlers := append([]selfupdate.Handler(nil), u.handlers...)
	u.mu.Unlock()
	for _, ev := range u.events {
		for _, h := range handlers {
			_ = h(ev)
		}
	}
	return u.upgradeErr
}

func (u *fakeUpdater) Subscribe(h selfupdate.Handler) func() {
	u.mu.Lock()
	u.handlers = append(u.handlers, h)
	u.mu.Unlock()
	return func() {}
}

func (u *fakeUpdater) upgradeCalls() []selfupdate.UpgradeOptions {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]selfupdate.UpgradeOptions(nil), u.upgrades...)
}

// completeConfig returns a configuration that passes RequireInstall.
func completeConfig(installDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Name = "demo"
	cfg.Version = "1.0.0"
	cfg.InstallDir = installDir
	cfg.Files = []config.ManagedPath{"bin", "lib"}
	return cfg
}

func TestNewAppDefaults(t *testing.T) {
	t.Parallel()

	app := NewApp(Dependencies{})
	if app.Config == nil || app.NewUpdater == nil || app.Confirm == nil {
		t.Fatal("NewApp() left a dependency nil")
	}
	if app.stdout == nil || app.stderr == nil {
		t.Fatal("NewApp() left an output stream nil")
	}
}

func TestNewAppKeepsInjectedDependencies(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	var out bytes.Buffer
	app := NewApp(Dependencies{Config: provider, Stdout: &out})
	if app.Config != provider {
		t.Error("NewApp() replaced the injected provider")
	}
	if app.stdout != &out {
		t.Error("NewApp() replaced the injected stdout")
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   config.LogLevel
		verbose bool
		want    log.Level
	}{
		{"configured level", config.LogLevelWarn, false, log.WarnLevel},
		{"verbose forces debug", config.LogLevelError, true, log.DebugLevel},
		{"unknown level falls back to info", config.LogLevel("loud"), false, log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			if got := newLogger(&buf, tt.level, tt.verbose).GetLevel(); got != tt.want {
				t.Errorf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewOrchestrator(t *testing.T) {
	t.Parallel()

	cfg := completeConfig(t.TempDir())
	cfg.DownloadTimeout = time.Minute
	cfg.TempDir = t.TempDir()

	updater, err := newOrchestrator(cfg, log.New(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("newOrchestrator() error = %v", err)
	}
	orch, ok := updater.(*selfupdate.Orchestrator)
	if !ok {
		t.Fatalf("newOrchestrator() returned %T", updater)
	}
	if got := orch.Config().Name; got != "demo" {
		t.Errorf("Config().Name = %q, want %q", got, "demo")
	}
}

func TestNewOrchestratorRejectsBadInstall(t *testing.T) {
	t.Parallel()

	cfg := completeConfig(t.TempDir())
	cfg.Version = "not-a-version"
	_, err := newOrchestrator(cfg, log.New(&bytes.Buffer{}))
	if !errors.Is(err, selfupdate.ErrInvalidConfig) {
		t.Fatalf("newOrchestrator() error = %v, want ErrInvalidConfig", err)
	}
}

func TestNewOrchestratorKeepsBackupsInTempDir(t *testing.T) {
	t.Parallel()

	reg := testutil.NewRegistry(t)
	artifactURL := reg.Publish("demo", "1.1.0", testutil.TarGz(t, testutil.Package(map[string]string{
		"bin/demo": "new binary\n",
	})...))

	installDir := filepath.Join(t.TempDir(), "demo")
	testutil.WriteTree(t, installDir, map[string]string{"bin/demo": "old binary\n"})

	cfg := completeConfig(installDir)
	cfg.Files = []config.ManagedPath{"bin"}
	cfg.DownloadTimeout = time.Minute
	cfg.TempDir = t.TempDir()

	var logs bytes.Buffer
	updater, err := newOrchestrator(cfg, newLogger(&logs, config.LogLevelDebug, true))
	if err != nil {
		t.Fatalf("newOrchestrator() error = %v", err)
	}
	if err := updater.Upgrade(context.Background(), selfupdate.UpgradeOptions{ArtifactURL: artifactURL}); err != nil {
		t.Fatalf("Upgrade() error = %v", err)
	}

	if got := testutil.MustReadFile(t, filepath.Join(installDir, "bin", "demo")); got != "new binary\n" {
		t.Errorf("bin/demo = %q, want the new binary", got)
	}

	var backupLine string
	for line := range strings.Lines(logs.String()) {
		if strings.Contains(line, "backup directory created") {
			backupLine = line
		}
	}
	if backupLine == "" {
		t.Fatalf("no backup directory logged:\n%s", logs.String())
	}
	if !strings.Contains(backupLine, cfg.TempDir) {
		t.Errorf("backup created outside temp_dir %q: %s", cfg.TempDir, backupLine)
	}
	if siblings := testutil.Names(t, filepath.Dir(installDir)); len(siblings) != 1 {
		t.Errorf("install parent holds %v, want only the install directory", siblings)
	}
}
