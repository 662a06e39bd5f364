// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

type (
	// FileSwapper replaces managed paths in an install directory with staged
	// content, keeping the originals in a backup directory until every path has
	// been moved. All moves are renames, so staging, backup and install
	// directories must live on one filesystem.
	FileSwapper struct {
		backupRoot string
		logger     *log.Logger

		// rename and removeAll are seams for tests that inject move failures.
		rename    func(oldpath, newpath string) error
		removeAll func(path string) error
	}

	// SwapperOption configures a FileSwapper during construction.
	SwapperOption func(*FileSwapper)

	// swapStep records what happened to one managed path so it can be undone.
	swapStep struct {
		rel       string
		backedUp  bool // original moved into the backup directory
		installed bool // staged replacement moved into the install directory
	}
)

// WithBackupRoot places backup directories in root instead of next to the
// install directory.
func WithBackupRoot(root string) SwapperOption {
	return func(s *FileSwapper) {
		s.backupRoot = root
	}
}

// WithSwapLogger sets the logger for swap diagnostics.
func WithSwapLogger(l *log.Logger) SwapperOption {
	return func(s *FileSwapper) {
		s.logger = l
	}
}

// NewFileSwapper creates a FileSwapper backed by os.Rename.
func NewFileSwapper(opts ...SwapperOption) *FileSwapper {
	s := &FileSwapper{
		rename:    os.Rename,
		removeAll: os.RemoveAll,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = defaultLogger()
	}
	return s
}

// Swap moves every managed path present in installDir into a fresh backup
// directory, then moves each staged replacement from stagingDir into place, in
// the order given. A path absent from stagingDir is left absent. When all moves
// succeed the backup directory is deleted and its former path returned.
//
// When a move fails, every touched path is restored in reverse order, the
// staging directory is deleted and an *Error of kind ErrSwap is returned. If a
// restore step fails too, a *FatalError is returned and the backup directory
// is kept for manual recovery.
//
// Swap does not take a context: once started it always runs to commit or
// rollback.
func (s *FileSwapper) Swap(installDir string, paths []string, stagingDir string) (string, error) {
	root := s.backupRoot
	if root == "" {
		root = filepath.Dir(installDir)
	}
	backupDir, err := os.MkdirTemp(root, "."+filepath.Base(installDir)+".backup-*")
	if err != nil {
		s.discard(stagingDir)
		return "", newError(PhaseInstalling, ErrSwap, fmt.Errorf("creating backup directory: %w", err))
	}
	s.logger.Debug("backup directory created", "path", backupDir)

	steps := make([]swapStep, 0, len(paths))

	for _, rel := range paths {
		step := swapStep{rel: rel}
		current := filepath.Join(installDir, rel)
		if _, statErr := os.Lstat(current); statErr == nil {
			if err := s.move(current, filepath.Join(backupDir, rel)); err != nil {
				return "", s.rollback(installDir, stagingDir, backupDir, steps, fmt.Errorf("backing up %s: %w", rel, err))
			}
			step.backedUp = true
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return "", s.rollback(installDir, stagingDir, backupDir, steps, fmt.Errorf("inspecting %s: %w", rel, statErr))
		}
		steps = append(steps, step)
	}

	for i := range steps {
		rel := steps[i].rel
		staged := filepath.Join(stagingDir, rel)
		if _, statErr := os.Lstat(staged); errors.Is(statErr, os.ErrNotExist) {
			s.logger.Debug("managed path not in release, leaving absent", "path", rel)
			continue
		} else if statErr != nil {
			return "", s.rollback(installDir, stagingDir, backupDir, steps, fmt.Errorf("inspecting staged %s: %w", rel, statErr))
		}
		if err := s.move(staged, filepath.Join(installDir, rel)); err != nil {
			return "", s.rollback(installDir, stagingDir, backupDir, steps, fmt.Errorf("installing %s: %w", rel, err))
		}
		steps[i].installed = true
	}

	if err := s.removeAll(backupDir); err != nil {
		// Committed; a stale backup is only wasted disk space.
		s.logger.Warn("removing backup directory after commit", "path", backupDir, "err", err)
	}
	s.logger.Debug("swap committed", "install_dir", installDir, "paths", len(paths))
	return backupDir, nil
}

// rollback undoes steps in reverse order: installed replacements go back to
// the staging directory and backed-up originals return to the install
// directory.
func (s *FileSwapper) rollback(installDir, stagingDir, backupDir string, steps []swapStep, cause error) error {
	s.logger.Warn("swap failed, rolling back", "install_dir", installDir, "err", cause)

	var failures []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		target := filepath.Join(installDir, step.rel)
		if step.installed {
			if err := s.rename(target, filepath.Join(stagingDir, step.rel)); err != nil {
				failures = append(failures, fmt.Errorf("removing new %s: %w", step.rel, err))
				continue
			}
		}
		if step.backedUp {
			if err := s.rename(filepath.Join(backupDir, step.rel), target); err != nil {
				failures = append(failures, fmt.Errorf("restoring %s: %w", step.rel, err))
			}
		}
	}

	s.discard(stagingDir)

	if len(failures) > 0 {
		s.logger.Error("rollback failed, original files kept", "backup_dir", backupDir, "failures", len(failures))
		return &FatalError{SwapErr: cause, RollbackErr: failures, BackupDir: backupDir}
	}

	if err := s.removeAll(backupDir); err != nil {
		s.logger.Warn("removing backup directory after rollback", "path", backupDir, "err", err)
	}
	return newError(PhaseInstalling, ErrSwap, cause)
}

// move renames oldpath to newpath, creating the parent of newpath first so
// nested managed paths ("dist/bin") can be moved.
func (s *FileSwapper) move(oldpath, newpath string) error {
	if err := os.MkdirAll(filepath.Dir(newpath), 0o755); err != nil {
		return err
	}
	return s.rename(oldpath, newpath)
}

func (s *FileSwapper) discard(stagingDir string) {
	if stagingDir == "" {
		return
	}
	if err := s.removeAll(stagingDir); err != nil {
		s.logger.Warn("removing staging directory", "path", stagingDir, "err", err)
	}
}
