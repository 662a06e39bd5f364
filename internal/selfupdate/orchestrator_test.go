// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neovateai/neovate-code-sub005/internal/testutil"
)

var releaseFiles = map[string]string{
	"vendor/lib.js":  "lib v0.9.0",
	"dist/index.js":  "index v0.9.0",
	"dist/chunk.js":  "chunk v0.9.0",
	"package.json":   `{"name":"app","version":"0.9.0"}`,
	"README.md":      "not managed",
	"vendor/new.txt": "added in v0.9.0",
}

// upgradeFixture is an installed app 0.8.0 next to a registry that publishes 0.9.0.
type upgradeFixture struct {
	root        string
	install     string
	reg         *testutil.Registry
	artifactURL string
}

func newUpgradeFixture(t *testing.T) *upgradeFixture {
	t.Helper()
	root := t.TempDir()
	f := &upgradeFixture{
		root:    root,
		install: filepath.Join(root, "app"),
		reg:     testutil.NewRegistry(t),
	}
	testutil.WriteTree(t, f.install, map[string]string{
		"vendor/lib.js":  "lib v0.8.0",
		"dist/index.js":  "index v0.8.0",
		"dist/legacy.js": "legacy v0.8.0",
		"package.json":   `{"name":"app","version":"0.8.0"}`,
		"data/state.db":  "user data",
	})
	f.reg.Publish("app", "0.8.0", testutil.TarGz(t, testutil.Package(map[string]string{"package.json": "{}"})...))
	f.artifactURL = f.reg.Publish("app", "0.9.0", testutil.TarGz(t, testutil.Package(releaseFiles)...))
	return f
}

func (f *upgradeFixture) config() InstallConfig {
	return InstallConfig{
		RegistryBase: f.reg.URL(),
		Name:         "app",
		Version:      "0.8.0",
		InstallDir:   f.install,
		Files:        []string{"vendor", "dist", "package.json"},
	}
}

func (f *upgradeFixture) orchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(f.config(), append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return o
}

// assertClean fails if anything other than the install directory remains in
// the fixture root.
func (f *upgradeFixture) assertClean(t *testing.T) {
	t.Helper()
	if names := testutil.Names(t, f.root); !slices.Equal(names, []string{"app"}) {
		t.Errorf("session leftovers next to install dir: %v", names)
	}
}

// recordPhases subscribes to o and returns a function that reports the
// phases seen so far.
func recordPhases(o *Orchestrator) func() []Phase {
	var mu sync.Mutex
	var phases []Phase
	o.Subscribe(func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, ev.Phase)
		return nil
	})
	return func() []Phase {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(phases)
	}
}

func TestUpgrade_EndToEnd(t *testing.T) {
	t.Parallel()

	f := newUpgradeFixture(t)
	o := f.orchestrator(t)
	phases := recordPhases(o)

	res, err := o.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if !res.HasUpdate || res.CurrentVersion != "0.8.0" || res.LatestVersion != "0.9.0" {
		t.Fatalf("Check() = %+v, want update 0.8.0 -> 0.9.0", res)
	}
	if res.ArtifactURL != f.artifactURL {
		t.Errorf("ArtifactURL = %q, want %q", res.ArtifactURL, f.artifactURL)
	}
	if len(phases()) != 0 {
		t.Errorf("Check() emitted events: %v", phases())
	}

	if err := o.Upgrade(context.Background(), UpgradeOptions{ArtifactURL: res.ArtifactURL, Integrity: res.Integrity}); err != nil {
		t.Fatalf("Upgrade() error: %v", err)
	}

	testutil.AssertTree(t, testutil.Tree{
		"vendor":         "dir",
		"vendor/lib.js":  "file -rw-r--r-- lib v0.9.0",
		"vendor/new.txt": "file -rw-r--r-- added in v0.9.0",
		"dist":           "dir",
		"dist/index.js":  "file -rw-r--r-- index v0.9.0",
		"dist/chunk.js":  "file -rw-r--r-- chunk v0.9.0",
		"package.json":   `file -rw-r--r-- {"name":"app","version":"0.9.0"}`,
		"data":           "dir",
		"data/state.db":  "file -rw-r--r-- user data",
	}, testutil.Snapshot(t, f.install))
	f.assertClean(t)

	want := []Phase{PhaseChecking, PhaseDownloading, PhaseExtracting, PhaseInstalling, PhaseDone}
	if got := phases(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if o.State() != StateIdle {
		t.Errorf("State() = %q after upgrade, want idle", o.State())
	}
}

func TestCheck_NoUpdate(t *testing.T) {
	t.Parallel()

	f := newUpgradeFixture(t)
	cfg := f.config()
	cfg.Version = "0.9.0"
	o, err := New(cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if res.HasUpdate || res.ArtifactURL != "" || res.Integrity != "" {
		t.Errorf("Check() = %+v, want no update and no artifact", res)
	}
}

func TestCheck_NeverTouchesFilesystem(t *testing.T) {
	t.Parallel()

	responses := []struct {
		name  string
		setup func(*testutil.Registry)
	}{
		{"update available", func(*testutil.Registry) {}},
		{"not found", func(r *testutil.Registry) { r.SetStatus("app", http.StatusNotFound) }},
		{"server error", func(r *testutil.Registry) { r.SetStatus("app", http.StatusServiceUnavailable) }},
		{"garbage", func(r *testutil.Registry) { r.SetDocument("app", "{{{") }},
		{"invalid latest version", func(r *testutil.Registry) { r.Tag("app", "latest-and-greatest") }},
	}

	for _, tt := range responses {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newUpgradeFixture(t)
			tt.setup(f.reg)
			o := f.orchestrator(t)
			before := testutil.Snapshot(t, f.root)

			_, err := o.Check(context.Background())
			if err != nil && PhaseOf(err) != PhaseChecking {
				t.Errorf("PhaseOf(%v) = %q, want %q", err, PhaseOf(err), PhaseChecking)
			}
			testutil.AssertTree(t, before, testutil.Snapshot(t, f.root))
		})
	}
}

func TestCheck_Concurrent(t *testing.T) {
	t.Parallel()

	f := newUpgradeFixture(t)
	o := f.orchestrator(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Check(context.Background())
			if err == nil && !res.HasUpdate {
				err = errors.New("expected an update")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Check() error: %v", err)
		}
	}
}

func TestUpgrade_DownloadFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		behavior testutil.ArtifactBehavior
		wantKind error
	}{
		{"not found", testutil.ArtifactBehavior{Status: http.StatusNotFound}, ErrDownload},
		{"truncated", testutil.ArtifactBehavior{Truncate: true}, ErrDownloadIncomplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newUpgradeFixture(t)
			f.reg.SetArtifactBehavior(f.artifactURL, tt.behavior)
			o := f.orchestrator(t)
			phases := recordPhases(o)
			var lastErr error
			o.Subscribe(func(ev Event) error {
				if ev.Phase == PhaseError {
					lastErr = ev.Err
				}
				return nil
			})
			before := testutil.Snapshot(t, f.install)

			err := o.Upgrade(context.Background(), UpgradeOptions{ArtifactURL: f.artifactURL})
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("Upgrade() error = %v, want %v", err, tt.wantKind)
			}
			if PhaseOf(err) != PhaseDownloading {
				t.Errorf("PhaseOf() = %q, want %q", PhaseOf(err), PhaseDownloading)
			}
			if lastErr != err {
				t.Errorf("error event carried %v, want the returned error", lastErr)
			}

			want := []Phase{PhaseChecking, PhaseDownloading, PhaseError}
			if got := phases(); !slices.Equal(got, want) {
				t.Errorf("events = %v, want %v", got, want)
			}
			testutil.AssertTree(t, before, testutil.Snapshot(t, f.install))
			f.assertClean(t)
		})
	}
}

func TestUpgrade_CancelledDuringDownload(t *testing.T) {
	t.Parallel()

	f := newUpgradeFixture(t)
	f.reg.SetArtifactBehavior(f.artifactURL, testutil.ArtifactBehavior{Hold: true})
	o := f.orchestrator(t)
	before := testutil.Snapshot(t, f.install)

	ctx, cancel := context.WithCancel(context.Background())
	o.Subscribe(func(ev Event) error {
		if ev.Phase == PhaseDownloading {
			time.AfterFunc(20*time.Millisecond, cancel)
		}
		return nil
	})

	err := o.Upgrade(ctx, UpgradeOptions{ArtifactURL: f.artifactURL})
	if !errors.Is(err, ErrDownloadCancelled) {
		t.Fatalf("Upgrade() error = %v, want ErrDownloadCancelled", err)
	}
	testutil.AssertTree(t, before, testutil.Snapshot(t, f.install))
	f.assertClean(t)
}

func TestUpgrade_ExtractionFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		artifact func(t *testing.T) []byte
		wantKind error
	}{
		{
			name: "traversal",
			artifact: func(t *testing.T) []byte {
				return testutil.TarGz(t,
					testutil.File("package/package.json", "{}"),
					testutil.File("package/../../../escape.txt", "pwned"),
				)
			},
			wantKind: ErrUnsafeArchiveEntry,
		},
		{
			name:     "corrupt",
			artifact: func(*testing.T) []byte { return []byte("\x1f\x8bnot really gzip") },
			wantKind: ErrExtract,
		},
		{
			name: "no managed paths",
			artifact: func(t *testing.T) []byte {
				return testutil.TarGz(t, testutil.Package(map[string]string{"README.md": "empty release"})...)
			},
			wantKind: ErrExtract,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newUpgradeFixture(t)
			artifactURL := f.reg.Publish("app", "0.9.1", tt.artifact(t))
			o := f.orchestrator(t)
			phases := recordPhases(o)
			before := testutil.Snapshot(t, f.install)

			err := o.Upgrade(context.Background(), UpgradeOptions{ArtifactURL: artifactURL})
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("Upgrade() error = %v, want %v", err, tt.wantKind)
			}
			if PhaseOf(err) != PhaseExtracting {
				t.Errorf("PhaseOf() = %q, want %q", PhaseOf(err), PhaseExtracting)
			}

			want := []Phase{PhaseChecking, PhaseDownloading, PhaseExtracting, PhaseError}
			if got := phases(); !slices.Equal(got, want) {
				t.Errorf("events = %v, want %v", got, want)
			}
			testutil.AssertTree(t, before, testutil.Snapshot(t, f.install))
			f.assertClean(t)
		})
	}
}

func TestUpgrade_SwapFailureRollsBack(t *testing.T) {
	t.Parallel()

	f := newUpgradeFixture(t)
	before := testutil.Snapshot(t, f.install)

	target := filepath.Join(f.install, "dist")
	swapper := NewFileSwapper(WithSwapLogger(quietLogger()))
	swapper.rename = failRename(func(oldpath, newpath string) bool {
		return newpath == target && strings.Contains(oldpath, "staging-")
	})
	o := f.orchestrator(t, WithSwapper(swapper))
	phases := recordPhases(o)

	err := o.Upgrade(context.Background(), UpgradeOptions{ArtifactURL: f.artifactURL})
	if !errors.Is(err, ErrSwap) || IsFatal(err) {
		t.Fatalf("Upgrade() error = %v, want a non-fatal ErrSwap", err)
	}

	want := []Phase{PhaseChecking, PhaseDownloading, PhaseExtracting, PhaseInstalling, PhaseError}
	if got := phases(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	testutil.AssertTree(t, before, testutil.Snapshot(t, f.install))
	f.assertClean(t)
}

func TestUpgrade_FatalKeepsBackup(t *testing.T) {
	t.Parallel()

	f := newUpgradeFixture(t)
	target := filepath.Join(f.install, "dist")
	swapper := NewFileSwapper(WithSwapLogger(quietLogger()))
	swapper.rename = failRename(func(oldpath, newpath string) bool {
		failInstall := newpath == target && strings.Contains(oldpath, "staging-")
		failRestore := strings.Contains(oldpath, ".app.backup-")
		return failInstall || failRestore
	})
	o := f.orchestrator(t, WithSwapper(swapper))

	err := o.Upgrade(context.Background(), UpgradeOptions{ArtifactURL: f.artifactURL})
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Upgrade() error = %v, want *FatalError", err)
	}
	if _, statErr := os.Stat(fatal.BackupDir); statErr != nil {
		t.Errorf("backup directory should be kept for recovery: %v", statErr)
	}
	if len(fatal.RollbackErr) != 3 {
		t.Errorf("RollbackErr = %v, want one failure per backed-up path", fatal.RollbackErr)
	}
	names := testutil.Names(t, f.root)
	if len(names) != 2 || !strings.HasPrefix(names[0], ".app.backup-") || names[1] != "app" {
		t.Errorf("root contents = %v, want the install dir and the kept backup only", names)
	}
}

func TestUpgrade_Concurrent(t *testing.T) {
	t.Parallel()

	f := newUpgradeFixture(t)
	f.reg.SetArtifactBehavior(f.artifactURL, testutil.ArtifactBehavior{Hold: true})
	o := f.orchestrator(t)

	downloading := make(chan struct{})
	var once sync.Once
	phases := recordPhases(o)
	o.Subscribe(func(ev Event) error {
		if ev.Phase == PhaseDownloading {
			once.Do(func() { close(downloading) })
		}
		return nil
	})

	firstErr := make(chan error, 1)
	go func() {
		firstErr <- o.Upgrade(context.Background(), UpgradeOptions{ArtifactURL: f.artifactURL})
	}()
	<-downloading

	if o.State() != StateUpgrading {
		t.Errorf("State() = %q during upgrade, want upgrading", o.State())
	}
	eventsBefore := len(phases())
	rootBefore := testutil.Names(t, f.root)

	err := o.Upgrade(context.Background(), UpgradeOptions{ArtifactURL: f.artifactURL})
	if !errors.Is(err, ErrConcurrentUpgrade) {
		t.Fatalf("second Upgrade() error = %v, want ErrConcurrentUpgrade", err)
	}
	if !IsRetryable(err) {
		t.Errorf("ErrConcurrentUpgrade should be retryable")
	}
	if got := len(phases()); got != eventsBefore {
		t.Errorf("rejected upgrade emitted %d events", got-eventsBefore)
	}
	if got := testutil.Names(t, f.root); !slices.Equal(got, rootBefore) {
		t.Errorf("rejected upgrade touched the filesystem: %v -> %v", rootBefore, got)
	}

	// Check stays available while the upgrade is in flight.
	if _, err := o.Check(context.Background()); err != nil {
		t.Errorf("Check() during upgrade error: %v", err)
	}

	f.reg.Release(f.artifactURL)
	if err := <-firstErr; err != nil {
		t.Fatalf("first Upgrade() error: %v", err)
	}
	want := []Phase{PhaseChecking, PhaseDownloading, PhaseExtracting, PhaseInstalling, PhaseDone}
	if got := phases(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if got := testutil.MustReadFile(t, filepath.Join(f.install, "package.json")); !strings.Contains(got, "0.9.0") {
		t.Errorf("package.json = %q, want 0.9.0", got)
	}
	f.assertClean(t)
}

func TestUpgrade_IntegrityMismatch(t *testing.T) {
	t.Parallel()

	f := newUpgradeFixture(t)
	o := f.orchestrator(t)
	phases := recordPhases(o)
	before := testutil.Snapshot(t, f.install)

	err := o.Upgrade(context.Background(), UpgradeOptions{
		ArtifactURL: f.artifactURL,
		Integrity:   testutil.SRI([]byte("something else")),
	})
	if !errors.Is(err, ErrIntegrityMismatch) {
		t.Fatalf("Upgrade() error = %v, want ErrIntegrityMismatch", err)
	}
	if PhaseOf(err) != PhaseDownloading {
		t.Errorf("PhaseOf() = %q, want %q", PhaseOf(err), PhaseDownloading)
	}
	want := []Phase{PhaseChecking, PhaseDownloading, PhaseError}
	if got := phases(); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	testutil.AssertTree(t, before, testutil.Snapshot(t, f.install))
	f.assertClean(t)
}

func TestUpgrade_ShasumVerified(t *testing.T) {
	t.Parallel()

	f := newUpgradeFixture(t)
	o := f.orchestrator(t)
	artifact := testutil.TarGz(t, testutil.Package(map[string]string{"package.json": `{"version":"0.9.2"}`})...)
	artifactURL := f.reg.Publish("app", "0.9.2", artifact)

	err := o.Upgrade(context.Background(), UpgradeOptions{ArtifactURL: artifactURL, Integrity: testutil.Shasum(artifact)})
	if err != nil {
		t.Fatalf("Upgrade() error: %v", err)
	}
	// The release dropped vendor and dist.
	if names := testutil.Names(t, f.install); !slices.Equal(names, []string{"data", "package.json"}) {
		t.Errorf("install dir = %v", names)
	}
}

func TestUpgrade_Preflight(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		mutate  func(f *upgradeFixture)
		wantErr error
	}{
		{name: "relative url", url: "app-0.9.0.tgz", wantErr: ErrPreflight},
		{name: "unsupported scheme", url: "file:///tmp/app.tgz", wantErr: ErrPreflight},
		{
			name:    "install dir removed",
			mutate:  func(f *upgradeFixture) { _ = os.RemoveAll(f.install) },
			wantErr: ErrPreflight,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newUpgradeFixture(t)
			o := f.orchestrator(t)
			phases := recordPhases(o)
			if tt.mutate != nil {
				tt.mutate(f)
			}
			artifactURL := tt.url
			if artifactURL == "" {
				artifactURL = f.artifactURL
			}

			err := o.Upgrade(context.Background(), UpgradeOptions{ArtifactURL: artifactURL})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Upgrade() error = %v, want %v", err, tt.wantErr)
			}
			if PhaseOf(err) != PhaseChecking {
				t.Errorf("PhaseOf() = %q, want %q", PhaseOf(err), PhaseChecking)
			}
			if got, want := phases(), []Phase{PhaseChecking, PhaseError}; !slices.Equal(got, want) {
				t.Errorf("events = %v, want %v", got, want)
			}
			if f.reg.Hits(f.artifactURL) != 0 {
				t.Errorf("artifact downloaded despite failed pre-flight")
			}
		})
	}
}

func TestUpgrade_TempRoot(t *testing.T) {
	t.Parallel()

	f := newUpgradeFixture(t)
	tempRoot := filepath.Join(f.root, "scratch")
	testutil.MustMkdirAll(t, tempRoot, 0o755)
	o := f.orchestrator(t, WithTempRoot(tempRoot))

	var sawWorkDir bool
	o.Subscribe(func(ev Event) error {
		if ev.Phase == PhaseDownloading && len(testutil.Names(t, tempRoot)) == 1 {
			sawWorkDir = true
		}
		return nil
	})

	if err := o.Upgrade(context.Background(), UpgradeOptions{ArtifactURL: f.artifactURL}); err != nil {
		t.Fatalf("Upgrade() error: %v", err)
	}
	if !sawWorkDir {
		t.Error("session work directory was not created under the temp root")
	}
	if names := testutil.Names(t, tempRoot); len(names) != 0 {
		t.Errorf("temp root not cleaned: %v", names)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	valid := InstallConfig{
		RegistryBase: "https://registry.npmjs.org",
		Name:         "app",
		Version:      "0.8.0",
		InstallDir:   "/opt/app",
		Files:        []string{"vendor", "dist", "package.json"},
	}

	tests := []struct {
		name   string
		mutate func(*InstallConfig)
	}{
		{"empty registry", func(c *InstallConfig) { c.RegistryBase = "" }},
		{"empty name", func(c *InstallConfig) { c.Name = "" }},
		{"invalid version", func(c *InstallConfig) { c.Version = "v-next" }},
		{"empty install dir", func(c *InstallConfig) { c.InstallDir = "" }},
		{"no files", func(c *InstallConfig) { c.Files = nil }},
		{"absolute file", func(c *InstallConfig) { c.Files = []string{"/etc/passwd"} }},
		{"escaping file", func(c *InstallConfig) { c.Files = []string{"../sibling"} }},
		{"dot file", func(c *InstallConfig) { c.Files = []string{"."} }},
		{"duplicate file", func(c *InstallConfig) { c.Files = []string{"dist", "dist/"} }},
		{"nested files", func(c *InstallConfig) { c.Files = []string{"dist", "dist/bin"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			cfg.Files = slices.Clone(valid.Files)
			tt.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	o, err := New(valid)
	if err != nil {
		t.Fatalf("New(valid) error: %v", err)
	}
	got := o.Config()
	got.Files[0] = "mutated"
	if o.Config().Files[0] != "vendor" {
		t.Error("Config() exposes internal state")
	}
}
