// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	// defaultMaxExtractedBytes bounds the total size of extracted regular files
	// (2 GiB). Prevents decompression bombs from filling the disk.
	defaultMaxExtractedBytes int64 = 2 << 30

	// maxLinkHops bounds symlink resolution, so link cycles are rejected.
	maxLinkHops = 40

	// DefaultStripPrefix is the top-level directory npm-style tarballs wrap
	// their contents in.
	DefaultStripPrefix = "package"

	// maxSymlinkTargetBytes bounds a zip symlink entry, whose body is the target.
	maxSymlinkTargetBytes = 4096

	// sniffLen is how many leading bytes are inspected to detect the format.
	sniffLen = 512
)

const (
	formatUnknown archiveFormat = iota
	formatGzipTar
	formatZstdTar
	formatTar
	formatZip
)

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicZip  = []byte("PK\x03\x04")
	// magicZipEmpty is the end-of-central-directory record that opens an empty zip.
	magicZipEmpty = []byte("PK\x05\x06")
	magicUstar    = []byte("ustar")
)

type (
	archiveFormat int

	// Extractor unpacks release artifacts into fresh staging directories.
	Extractor struct {
		maxBytes    int64
		stripPrefix string
		logger      *log.Logger
	}

	// ExtractorOption configures an Extractor during construction.
	ExtractorOption func(*Extractor)

	// unpacker writes validated entries below a staging root and enforces the
	// extraction budget for one archive.
	unpacker struct {
		root        string
		stripPrefix string
		remaining   int64
		links       []stagedLink
	}

	// stagedLink is a symlink created during extraction, kept so the whole set
	// can be re-checked once every entry is on disk.
	stagedLink struct {
		name   string // Archive entry name
		rel    string // Location below the root, slash-separated
		target string // Link target, slash-separated
	}
)

// WithStripPrefix sets the leading path component removed from every entry.
// An empty prefix disables stripping.
func WithStripPrefix(prefix string) ExtractorOption {
	return func(x *Extractor) {
		x.stripPrefix = strings.Trim(prefix, "/")
	}
}

// WithMaxExtractedBytes caps the total extracted size. Non-positive values
// keep the default.
func WithMaxExtractedBytes(n int64) ExtractorOption {
	return func(x *Extractor) {
		if n > 0 {
			x.maxBytes = n
		}
	}
}

// WithExtractLogger sets the logger for extraction diagnostics.
func WithExtractLogger(l *log.Logger) ExtractorOption {
	return func(x *Extractor) {
		x.logger = l
	}
}

// NewExtractor creates an Extractor that strips DefaultStripPrefix and allows
// up to 2 GiB of extracted content.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	x := &Extractor{
		maxBytes:    defaultMaxExtractedBytes,
		stripPrefix: DefaultStripPrefix,
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.logger == nil {
		x.logger = defaultLogger()
	}
	return x
}

// Extract unpacks the archive at archivePath into a new staging directory
// created inside dir and returns the staging directory. Supported formats are
// gzip- or zstd-compressed tar, plain tar and zip, detected from content.
//
// Every entry must resolve strictly inside the staging directory; otherwise
// the whole extraction fails with ErrUnsafeArchiveEntry. Corrupt archives fail
// with ErrExtract. On failure the staging directory is removed.
func (x *Extractor) Extract(ctx context.Context, archivePath, dir string) (_ string, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", newError(PhaseExtracting, ErrExtract, ctxErr)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", newError(PhaseExtracting, ErrExtract, fmt.Errorf("opening archive: %w", err))
	}
	defer func() {
		// Read-only file handle; close errors are not actionable.
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return "", newError(PhaseExtracting, ErrExtract, fmt.Errorf("reading archive size: %w", err))
	}

	format, err := sniffFormat(f)
	if err != nil {
		return "", newError(PhaseExtracting, ErrExtract, err)
	}

	staging, err := os.MkdirTemp(dir, "staging-*")
	if err != nil {
		return "", newError(PhaseExtracting, ErrExtract, fmt.Errorf("creating staging directory: %w", err))
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(staging); rmErr != nil {
				x.logger.Warn("removing staging directory", "path", staging, "err", rmErr)
			}
		}
	}()

	u := &unpacker{root: staging, stripPrefix: x.stripPrefix, remaining: x.maxBytes}

	switch format {
	case formatZip:
		err = u.unzip(ctx, f, info.Size())
	case formatGzipTar:
		gz, gzErr := gzip.NewReader(f)
		if gzErr != nil {
			return "", newError(PhaseExtracting, ErrExtract, fmt.Errorf("creating gzip reader: %w", gzErr))
		}
		err = u.untar(ctx, tar.NewReader(gz))
		// Gzip reader wraps the archive file; close errors are not actionable
		// since we only read from it.
		_ = gz.Close()
	case formatZstdTar:
		zr, zErr := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if zErr != nil {
			return "", newError(PhaseExtracting, ErrExtract, fmt.Errorf("creating zstd reader: %w", zErr))
		}
		err = u.untar(ctx, tar.NewReader(zr))
		zr.Close()
	case formatTar:
		err = u.untar(ctx, tar.NewReader(f))
	case formatUnknown:
		err = errors.New("unrecognized archive format")
	}
	if err == nil {
		// Links are re-checked together: an entry extracted later can turn
		// an earlier, harmless target into an escape.
		err = u.checkLinks()
	}
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return "", err
		}
		return "", newError(PhaseExtracting, ErrExtract, err)
	}

	x.logger.Debug("artifact extracted", "archive", archivePath, "staging", staging, "bytes", x.maxBytes-u.remaining)
	return staging, nil
}

// sniffFormat detects the archive format from its leading bytes.
func sniffFormat(r io.ReaderAt) (archiveFormat, error) {
	head := make([]byte, sniffLen)
	n, err := r.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return formatUnknown, fmt.Errorf("reading archive header: %w", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, magicGzip):
		return formatGzipTar, nil
	case bytes.HasPrefix(head, magicZstd):
		return formatZstdTar, nil
	case bytes.HasPrefix(head, magicZip), bytes.HasPrefix(head, magicZipEmpty):
		return formatZip, nil
	case len(head) >= 262 && bytes.Equal(head[257:262], magicUstar):
		return formatTar, nil
	}
	return formatUnknown, errors.New("unrecognized archive format")
}

func (u *unpacker) untar(ctx context.Context, tr *tar.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return unsafeEntry(hdr.Name, "insecure path")
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = u.mkdir(hdr.Name)
		case tar.TypeReg, tar.TypeRegA: //nolint:staticcheck // TypeRegA still appears in old npm tarballs.
			err = u.writeFile(hdr.Name, tr, hdr.FileInfo().Mode())
		case tar.TypeSymlink:
			err = u.symlink(hdr.Name, hdr.Linkname)
		case tar.TypeLink:
			err = u.hardlink(hdr.Name, hdr.Linkname)
		default:
			// Devices, fifos and vendor extension headers carry nothing a
			// release needs; their names are still validated.
			_, err = u.resolve(hdr.Name)
		}
		if err != nil {
			return err
		}
	}
}

func (u *unpacker) unzip(ctx context.Context, r io.ReaderAt, size int64) error {
	zr, err := zip.NewReader(r, size)
	if errors.Is(err, zip.ErrInsecurePath) {
		return newError(PhaseExtracting, ErrUnsafeArchiveEntry, err)
	}
	if err != nil {
		return fmt.Errorf("reading zip directory: %w", err)
	}

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.unzipEntry(zf); err != nil {
			return err
		}
	}
	return nil
}

func (u *unpacker) unzipEntry(zf *zip.File) error {
	mode := zf.Mode()
	switch {
	case mode.IsDir():
		return u.mkdir(zf.Name)
	case mode&os.ModeSymlink != 0:
		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry %s: %w", zf.Name, err)
		}
		target, err := io.ReadAll(io.LimitReader(rc, maxSymlinkTargetBytes))
		_ = rc.Close() // read-only entry reader
		if err != nil {
			return fmt.Errorf("reading zip entry %s: %w", zf.Name, err)
		}
		return u.symlink(zf.Name, string(target))
	case mode.IsRegular():
		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry %s: %w", zf.Name, err)
		}
		defer func() { _ = rc.Close() }() // read-only entry reader
		return u.writeFile(zf.Name, rc, mode)
	default:
		_, err := u.resolve(zf.Name)
		return err
	}
}

// resolve validates an entry name and maps it to a slash-separated path
// relative to the staging root, with the configured prefix removed. It returns
// "." for entries that denote the root itself.
func (u *unpacker) resolve(name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if slashed == "" || strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", unsafeEntry(name, "absolute or empty path")
	}

	if slices.Contains(strings.Split(slashed, "/"), "..") {
		return "", unsafeEntry(name, "path contains a parent directory reference")
	}

	clean := path.Clean(slashed)
	if !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", unsafeEntry(name, "path escapes staging directory")
	}

	if u.stripPrefix != "" {
		if clean == u.stripPrefix {
			return ".", nil
		}
		if rest, ok := strings.CutPrefix(clean, u.stripPrefix+"/"); ok {
			clean = path.Clean(rest)
			if !filepath.IsLocal(filepath.FromSlash(clean)) {
				return "", unsafeEntry(name, "path escapes staging directory")
			}
		}
	}
	return clean, nil
}

// target resolves name to an absolute path below the root and refuses to write
// through any symlink already extracted, which could otherwise redirect later
// entries outside the root.
func (u *unpacker) target(name string) (rel, abs string, err error) {
	rel, err = u.resolve(name)
	if err != nil {
		return "", "", err
	}
	if rel == "." {
		return rel, u.root, nil
	}

	cur := u.root
	parts := strings.Split(rel, "/")
	for _, part := range parts[:len(parts)-1] {
		cur = filepath.Join(cur, part)
		fi, statErr := os.Lstat(cur)
		if errors.Is(statErr, os.ErrNotExist) {
			break
		}
		if statErr != nil {
			return "", "", fmt.Errorf("inspecting %s: %w", cur, statErr)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return "", "", unsafeEntry(name, "path traverses a symlink")
		}
	}
	return rel, filepath.Join(u.root, filepath.FromSlash(rel)), nil
}

func (u *unpacker) mkdir(name string) error {
	_, abs, err := u.target(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", name, err)
	}
	return nil
}

func (u *unpacker) writeFile(name string, r io.Reader, mode os.FileMode) (err error) {
	rel, abs, err := u.target(name)
	if err != nil {
		return err
	}
	if rel == "." {
		return unsafeEntry(name, "file entry resolves to the staging root")
	}
	if err := u.prepare(abs); err != nil {
		return err
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	// Owner must be able to rewrite and remove what it staged.
	perm |= 0o600

	out, err := os.OpenFile(abs, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", name, closeErr)
		}
	}()

	n, err := io.Copy(out, io.LimitReader(r, u.remaining+1))
	if err != nil {
		return fmt.Errorf("extracting %s: %w", name, err)
	}
	if n > u.remaining {
		return fmt.Errorf("extracted content exceeds size limit at %s", name)
	}
	u.remaining -= n
	return nil
}

func (u *unpacker) symlink(name, linkname string) error {
	rel, abs, err := u.target(name)
	if err != nil {
		return err
	}
	if rel == "." {
		return unsafeEntry(name, "symlink resolves to the staging root")
	}

	slashed := strings.ReplaceAll(linkname, `\`, "/")
	if slashed == "" || strings.HasPrefix(slashed, "/") || filepath.IsAbs(linkname) || filepath.VolumeName(linkname) != "" {
		return unsafeEntry(name, fmt.Sprintf("symlink target %q is absolute", linkname))
	}
	if !filepath.IsLocal(filepath.FromSlash(path.Join(path.Dir(rel), slashed))) || !u.confined(path.Dir(rel), slashed) {
		return unsafeEntry(name, fmt.Sprintf("symlink target %q escapes staging directory", linkname))
	}

	if err := u.prepare(abs); err != nil {
		return err
	}
	if err := os.Symlink(filepath.FromSlash(slashed), abs); err != nil {
		return fmt.Errorf("creating symlink %s: %w", name, err)
	}
	u.links = append(u.links, stagedLink{name: name, rel: rel, target: slashed})
	return nil
}

// checkLinks verifies every extracted symlink still resolves inside the root
// now that all entries exist.
func (u *unpacker) checkLinks() error {
	for _, l := range u.links {
		if !u.confined(path.Dir(l.rel), l.target) {
			return unsafeEntry(l.name, fmt.Sprintf("symlink target %q escapes staging directory", l.target))
		}
	}
	return nil
}

// confined reports whether target, read relative to the slash-separated
// directory dir, stays inside the root when the symlinks already on disk are
// followed one component at a time. Absolute link targets and cycles count as
// escapes.
func (u *unpacker) confined(dir, target string) bool {
	hops := 0
	var walk func(base []string, target string) ([]string, bool)
	walk = func(base []string, target string) ([]string, bool) {
		cur := slices.Clone(base)
		for _, part := range strings.Split(target, "/") {
			switch part {
			case "", ".":
				continue
			case "..":
				if len(cur) == 0 {
					return nil, false
				}
				cur = cur[:len(cur)-1]
				continue
			}
			cur = append(cur, part)

			abs := filepath.Join(u.root, filepath.FromSlash(strings.Join(cur, "/")))
			fi, err := os.Lstat(abs)
			if err != nil || fi.Mode()&os.ModeSymlink == 0 {
				continue
			}
			if hops++; hops > maxLinkHops {
				return nil, false
			}
			link, err := os.Readlink(abs)
			if err != nil {
				return nil, false
			}
			link = strings.ReplaceAll(link, `\`, "/")
			if strings.HasPrefix(link, "/") || filepath.IsAbs(link) || filepath.VolumeName(link) != "" {
				return nil, false
			}
			var ok bool
			if cur, ok = walk(cur[:len(cur)-1], link); !ok {
				return nil, false
			}
		}
		return cur, true
	}

	var base []string
	if dir != "." && dir != "" {
		base = strings.Split(dir, "/")
	}
	_, ok := walk(base, target)
	return ok
}

func (u *unpacker) hardlink(name, linkname string) error {
	rel, abs, err := u.target(name)
	if err != nil {
		return err
	}
	if rel == "." {
		return unsafeEntry(name, "hard link resolves to the staging root")
	}
	srcRel, srcAbs, err := u.target(linkname)
	if err != nil {
		return err
	}
	if srcRel == "." {
		return unsafeEntry(name, "hard link targets the staging root")
	}

	if err := u.prepare(abs); err != nil {
		return err
	}
	if err := os.Link(srcAbs, abs); err != nil {
		return fmt.Errorf("creating hard link %s: %w", name, err)
	}
	return nil
}

// prepare creates the parent directories of abs and removes a previous
// non-directory entry at abs, so duplicate entries replace rather than follow
// what an earlier entry left behind.
func (u *unpacker) prepare(abs string) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", abs, err)
	}
	fi, err := os.Lstat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", abs, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("entry %s collides with an extracted directory", abs)
	}
	return os.Remove(abs)
}

func unsafeEntry(name, reason string) error {
	return newError(PhaseExtracting, ErrUnsafeArchiveEntry, fmt.Errorf("entry %q: %s", name, reason))
}
