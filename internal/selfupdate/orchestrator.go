// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	// StateIdle means no check or upgrade is running.
	StateIdle State = "idle"
	// StateChecking means at least one Check is running and no upgrade is.
	StateChecking State = "checking"
	// StateUpgrading means an upgrade session is active.
	StateUpgrading State = "upgrading"
)

type (
	// State is the orchestrator's coarse lifecycle state.
	State string

	// InstallConfig describes one managed installation.
	InstallConfig struct {
		RegistryBase string   // Registry base URL, e.g. "https://registry.npmjs.org"
		Name         string   // Package name, scoped names allowed
		Version      string   // Currently installed version
		InstallDir   string   // Directory holding the managed paths
		Files        []string // Managed paths relative to InstallDir, in swap order
	}

	// CheckResult is the outcome of Check.
	CheckResult struct {
		CurrentVersion string `json:"currentVersion"`
		LatestVersion  string `json:"latestVersion"`
		HasUpdate      bool   `json:"hasUpdate"`
		// ArtifactURL is set iff HasUpdate.
		ArtifactURL string `json:"artifactUrl,omitempty"`
		// Integrity is the registry-published SRI (or hex shasum) for ArtifactURL.
		Integrity string `json:"integrity,omitempty"`
	}

	// UpgradeOptions selects the artifact to install.
	UpgradeOptions struct {
		ArtifactURL string
		// Integrity, when set, is an SRI string or a hex SHA-1 shasum the
		// downloaded artifact must match before it is extracted.
		Integrity string
	}

	// Resolver looks up the newest published release of a package.
	Resolver interface {
		ResolveLatest(ctx context.Context, registryBase, name string) (*Metadata, error)
	}

	// Fetcher downloads an artifact into dir and returns the local path.
	Fetcher interface {
		Fetch(ctx context.Context, artifactURL, dir string) (string, error)
	}

	// ArchiveExtractor unpacks an archive into a new staging directory inside dir.
	ArchiveExtractor interface {
		Extract(ctx context.Context, archivePath, dir string) (string, error)
	}

	// Swapper replaces managed paths with staged content, rolling back on failure.
	Swapper interface {
		Swap(installDir string, paths []string, stagingDir string) (string, error)
	}

	// Orchestrator sequences registry lookup, download, extraction and swap for
	// one installation and publishes status events along the way. At most one
	// upgrade runs at a time per Orchestrator; checks may run concurrently.
	Orchestrator struct {
		cfg InstallConfig

		registry  Resolver
		fetcher   Fetcher
		extractor ArchiveExtractor
		swapper   Swapper
		emitter   *Emitter
		logger    *log.Logger
		tempRoot  string

		mu      sync.Mutex // guards session
		session *session
		checks  atomic.Int32
	}

	// Option configures an Orchestrator during construction.
	Option func(*Orchestrator)

	// session is the state of one Upgrade call.
	session struct {
		id         string
		phase      Phase
		workDir    string // holds the download and the staging directory
		stagingDir string
		backupDir  string
		swapped    []string
		err        error
	}
)

// WithRegistry overrides the default RegistryClient.
func WithRegistry(r Resolver) Option {
	return func(o *Orchestrator) {
		o.registry = r
	}
}

// WithFetcher overrides the default Downloader.
func WithFetcher(f Fetcher) Option {
	return func(o *Orchestrator) {
		o.fetcher = f
	}
}

// WithExtractor overrides the default Extractor.
func WithExtractor(x ArchiveExtractor) Option {
	return func(o *Orchestrator) {
		o.extractor = x
	}
}

// WithSwapper overrides the default FileSwapper.
func WithSwapper(s Swapper) Option {
	return func(o *Orchestrator) {
		o.swapper = s
	}
}

// WithLogger sets the logger shared by the default components.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithTempRoot places session work directories and backups under root
// instead of next to the install directory. root must be on the same
// filesystem as the install directory.
func WithTempRoot(root string) Option {
	return func(o *Orchestrator) {
		o.tempRoot = root
	}
}

// New validates cfg and creates an Orchestrator for it. The configuration is
// copied; later changes to cfg have no effect.
func New(cfg InstallConfig, opts ...Option) (*Orchestrator, error) {
	normalized, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{cfg: normalized}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	if o.tempRoot == "" {
		o.tempRoot = filepath.Dir(o.cfg.InstallDir)
	}
	if o.registry == nil {
		o.registry = NewRegistryClient()
	}
	if o.fetcher == nil {
		o.fetcher = NewDownloader(WithDownloadLogger(o.logger))
	}
	if o.extractor == nil {
		o.extractor = NewExtractor(WithExtractLogger(o.logger))
	}
	if o.swapper == nil {
		o.swapper = NewFileSwapper(WithSwapLogger(o.logger), WithBackupRoot(o.tempRoot))
	}
	o.emitter = NewEmitter(o.logger)
	return o, nil
}

// Config returns a copy of the install configuration.
func (o *Orchestrator) Config() InstallConfig {
	cfg := o.cfg
	cfg.Files = slices.Clone(o.cfg.Files)
	return cfg
}

// Subscribe registers a status handler; see Emitter.Subscribe.
func (o *Orchestrator) Subscribe(handler Handler) (unsubscribe func()) {
	return o.emitter.Subscribe(handler)
}

// State reports whether the orchestrator is idle, checking or upgrading.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	active := o.session != nil
	o.mu.Unlock()

	switch {
	case active:
		return StateUpgrading
	case o.checks.Load() > 0:
		return StateChecking
	default:
		return StateIdle
	}
}

// Check asks the registry for the latest release and compares it with the
// installed version. It never touches the filesystem and emits no events, so
// it may run concurrently with other checks and with an upgrade.
func (o *Orchestrator) Check(ctx context.Context) (*CheckResult, error) {
	o.checks.Add(1)
	defer o.checks.Add(-1)

	meta, err := o.registry.ResolveLatest(ctx, o.cfg.RegistryBase, o.cfg.Name)
	if err != nil {
		return nil, asPhaseError(PhaseChecking, ErrRegistryUnreachable, err)
	}

	hasUpdate, err := HasUpdate(o.cfg.Version, meta.Version)
	if err != nil {
		return nil, newError(PhaseChecking, ErrMalformedMetadata, fmt.Errorf("latest version: %w", err))
	}

	res := &CheckResult{
		CurrentVersion: o.cfg.Version,
		LatestVersion:  meta.Version,
		HasUpdate:      hasUpdate,
	}
	if hasUpdate {
		res.ArtifactURL = meta.ArtifactURL
		res.Integrity = meta.Integrity
		if res.Integrity == "" {
			res.Integrity = meta.Shasum
		}
	}
	return res, nil
}

// Upgrade downloads the artifact at opts.ArtifactURL, unpacks it and swaps
// the managed paths into the install directory. Status events are emitted for
// each phase: checking, downloading, extracting, installing, then done or
// error.
//
// If another upgrade is running, Upgrade returns ErrConcurrentUpgrade at once
// without emitting events or touching the filesystem. Cancelling ctx aborts
// download and extraction; once installation begins it runs to completion.
// The session work directory is always removed before Upgrade returns.
func (o *Orchestrator) Upgrade(ctx context.Context, opts UpgradeOptions) error {
	s, err := o.begin()
	if err != nil {
		return err
	}
	defer o.end()

	logger := o.logger.With("session", s.id)
	logger.Info("upgrade started", "name", o.cfg.Name, "from", o.cfg.Version, "artifact", redactURL(opts.ArtifactURL))

	err = o.run(ctx, s, opts, logger)
	o.cleanup(s, logger)

	if err != nil {
		s.err = err
		logger.Error("upgrade failed", "phase", s.phase, "err", err)
		o.emitter.Emit(Event{Phase: PhaseError, Message: fmt.Sprintf("upgrade failed while %s", s.phase), Err: err})
		return err
	}

	logger.Info("upgrade complete", "paths", s.swapped)
	o.emitter.Emit(Event{Phase: PhaseDone, Message: "upgrade complete"})
	return nil
}

func (o *Orchestrator) begin() (*session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		return nil, newError(PhaseChecking, ErrConcurrentUpgrade, fmt.Errorf("session %s is active", o.session.id))
	}
	o.session = &session{id: uuid.NewString()}
	return o.session, nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.session = nil
	o.mu.Unlock()
}

func (o *Orchestrator) enter(s *session, phase Phase, msg string) {
	s.phase = phase
	o.emitter.Emit(Event{Phase: phase, Message: msg})
}

func (o *Orchestrator) run(ctx context.Context, s *session, opts UpgradeOptions, logger *log.Logger) error {
	o.enter(s, PhaseChecking, "preparing upgrade")
	if err := o.preflight(s, opts); err != nil {
		return err
	}
	logger.Debug("session work directory created", "path", s.workDir)

	o.enter(s, PhaseDownloading, "downloading "+redactURL(opts.ArtifactURL))
	archive, err := o.fetcher.Fetch(ctx, opts.ArtifactURL, s.workDir)
	if err != nil {
		return asPhaseError(PhaseDownloading, ErrDownload, err)
	}
	if opts.Integrity != "" {
		if err := verifyArtifact(archive, opts.Integrity); err != nil {
			return err
		}
		logger.Debug("artifact integrity verified")
	}

	o.enter(s, PhaseExtracting, "extracting release")
	staging, err := o.extractor.Extract(ctx, archive, s.workDir)
	if err != nil {
		return asPhaseError(PhaseExtracting, ErrExtract, err)
	}
	s.stagingDir = staging
	if err := o.checkStaged(staging); err != nil {
		return err
	}
	// Last point at which cancellation is honoured.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newError(PhaseExtracting, ErrExtract, ctxErr)
	}

	o.enter(s, PhaseInstalling, fmt.Sprintf("installing %d managed paths", len(o.cfg.Files)))
	backup, err := o.swapper.Swap(o.cfg.InstallDir, o.cfg.Files, staging)
	s.backupDir = backup
	if err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			s.backupDir = fatal.BackupDir
			return err
		}
		return asPhaseError(PhaseInstalling, ErrSwap, err)
	}
	s.swapped = slices.Clone(o.cfg.Files)
	return nil
}

// preflight validates the request and creates the session work directory.
func (o *Orchestrator) preflight(s *session, opts UpgradeOptions) error {
	u, err := url.Parse(opts.ArtifactURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return newError(PhaseChecking, ErrPreflight, fmt.Errorf("artifact URL %q must be an absolute http(s) URL", redactURL(opts.ArtifactURL)))
	}

	fi, err := os.Stat(o.cfg.InstallDir)
	if err != nil {
		return newError(PhaseChecking, ErrPreflight, fmt.Errorf("install directory: %w", err))
	}
	if !fi.IsDir() {
		return newError(PhaseChecking, ErrPreflight, fmt.Errorf("install directory %s is not a directory", o.cfg.InstallDir))
	}

	workDir := filepath.Join(o.tempRoot, "."+filepath.Base(o.cfg.InstallDir)+"-upgrade-"+s.id)
	if err := os.Mkdir(workDir, 0o700); err != nil {
		return newError(PhaseChecking, ErrPreflight, fmt.Errorf("creating session work directory: %w", err))
	}
	s.workDir = workDir
	return nil
}

// checkStaged refuses a release that contains none of the managed paths;
// installing it would leave every managed path absent.
func (o *Orchestrator) checkStaged(staging string) error {
	for _, rel := range o.cfg.Files {
		if _, err := os.Lstat(filepath.Join(staging, rel)); err == nil {
			return nil
		}
	}
	return newError(PhaseExtracting, ErrExtract,
		fmt.Errorf("artifact contains none of the managed paths %s", strings.Join(o.cfg.Files, ", ")))
}

// cleanup removes the session work directory. On a fatal error the backup
// directory is deliberately left in place.
func (o *Orchestrator) cleanup(s *session, logger *log.Logger) {
	if s.workDir == "" {
		return
	}
	if err := os.RemoveAll(s.workDir); err != nil {
		logger.Warn("removing session work directory", "path", s.workDir, "err", err)
	}
}

// verifyArtifact checks the archive against an SRI string or a hex shasum.
func verifyArtifact(path, integrity string) error {
	var err error
	if isValidHexHash(integrity, 20) {
		err = VerifyShasum(path, integrity)
	} else {
		err = VerifyIntegrity(path, integrity)
	}
	if err == nil {
		return nil
	}
	return newError(PhaseDownloading, ErrIntegrityMismatch, err)
}

// asPhaseError passes *Error and *FatalError values through and wraps any
// other error from an injected component with the given phase and kind.
func asPhaseError(phase Phase, kind, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return err
	}
	return newError(phase, kind, err)
}

// normalize validates cfg and returns a copy with a cleaned absolute install
// directory and cleaned managed paths.
func (cfg InstallConfig) normalize() (InstallConfig, error) {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	out := InstallConfig{
		RegistryBase: strings.TrimSpace(cfg.RegistryBase),
		Name:         strings.TrimSpace(cfg.Name),
		Version:      strings.TrimSpace(cfg.Version),
	}

	if _, err := packageURL(out.RegistryBase, out.Name); err != nil {
		invalid("%v", err)
	}
	if _, err := normalizeVersion(out.Version); err != nil {
		invalid("current version: %v", err)
	}

	if strings.TrimSpace(cfg.InstallDir) == "" {
		invalid("install directory must not be empty")
	} else if abs, err := filepath.Abs(cfg.InstallDir); err != nil {
		invalid("install directory: %v", err)
	} else {
		out.InstallDir = abs
	}

	if len(cfg.Files) == 0 {
		invalid("at least one managed path is required")
	}
	for _, f := range cfg.Files {
		clean := filepath.Clean(filepath.FromSlash(f))
		switch {
		case strings.TrimSpace(f) == "" || clean == ".":
			invalid("managed path %q is empty", f)
			continue
		case !filepath.IsLocal(clean):
			invalid("managed path %q must be relative and inside the install directory", f)
			continue
		case slices.Contains(out.Files, clean):
			invalid("managed path %q is listed twice", f)
			continue
		}
		for _, other := range out.Files {
			if isNested(clean, other) || isNested(other, clean) {
				invalid("managed paths %q and %q overlap", other, clean)
			}
		}
		out.Files = append(out.Files, clean)
	}

	if len(errs) > 0 {
		return InstallConfig{}, errors.Join(errs...)
	}
	return out, nil
}

// isNested reports whether child lies strictly inside parent.
func isNested(child, parent string) bool {
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

func defaultLogger() *log.Logger {
	return log.Default().WithPrefix("selfupdate")
}
