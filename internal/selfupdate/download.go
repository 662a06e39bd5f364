// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
)

// defaultMaxArtifactBytes is the upper bound on a downloaded artifact (1 GiB).
const defaultMaxArtifactBytes int64 = 1 << 30

type (
	// Downloader streams release artifacts to temporary files.
	Downloader struct {
		httpClient *http.Client
		userAgent  string
		maxBytes   int64
		logger     *log.Logger
	}

	// DownloaderOption configures a Downloader during construction.
	DownloaderOption func(*Downloader)

	// ctxReader fails reads once its context is done, so a stalled body that
	// ignores cancellation still stops the copy loop at the next read.
	ctxReader struct {
		ctx context.Context
		r   io.Reader
	}
)

// WithDownloadHTTPClient sets the HTTP client used for artifact requests.
func WithDownloadHTTPClient(c *http.Client) DownloaderOption {
	return func(d *Downloader) {
		d.httpClient = c
	}
}

// WithDownloadUserAgent sets the User-Agent header sent with artifact requests.
func WithDownloadUserAgent(ua string) DownloaderOption {
	return func(d *Downloader) {
		d.userAgent = ua
	}
}

// WithMaxArtifactBytes caps the artifact size. Non-positive values keep the default.
func WithMaxArtifactBytes(n int64) DownloaderOption {
	return func(d *Downloader) {
		if n > 0 {
			d.maxBytes = n
		}
	}
}

// WithDownloadLogger sets the logger for download diagnostics.
func WithDownloadLogger(l *log.Logger) DownloaderOption {
	return func(d *Downloader) {
		d.logger = l
	}
}

// NewDownloader creates a Downloader with http.DefaultClient and a 1 GiB cap.
func NewDownloader(opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		httpClient: http.DefaultClient,
		userAgent:  "upgrader/dev",
		maxBytes:   defaultMaxArtifactBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = defaultLogger()
	}
	return d
}

// Fetch downloads artifactURL into a new temporary file inside dir and returns
// its path. When the response declares a Content-Length the written byte count
// must match it exactly. On any failure the partial file is removed; failures
// are *Error values of kind ErrDownload, ErrDownloadIncomplete or
// ErrDownloadCancelled.
func (d *Downloader) Fetch(ctx context.Context, artifactURL, dir string) (_ string, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", newError(PhaseDownloading, ErrDownloadCancelled, ctxErr)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, http.NoBody)
	if err != nil {
		return "", newError(PhaseDownloading, ErrDownload, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", d.classify(ctx, fmt.Errorf("requesting %s: %w", redactURL(artifactURL), err))
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return "", newError(PhaseDownloading, ErrDownload,
			fmt.Errorf("requesting %s: unexpected status %d", redactURL(artifactURL), resp.StatusCode))
	}

	expected := resp.ContentLength
	if expected > d.maxBytes {
		return "", newError(PhaseDownloading, ErrDownload,
			fmt.Errorf("artifact declares %d bytes, limit is %d", expected, d.maxBytes))
	}

	tmp, err := os.CreateTemp(dir, "artifact-*")
	if err != nil {
		return "", newError(PhaseDownloading, ErrDownload, fmt.Errorf("creating temp file: %w", err))
	}
	path := tmp.Name()
	defer func() {
		if closeErr := tmp.Close(); closeErr != nil && err == nil {
			err = newError(PhaseDownloading, ErrDownload, fmt.Errorf("closing temp file: %w", closeErr))
		}
		if err != nil {
			// Best-effort removal of the partially written file.
			_ = os.Remove(path)
		}
	}()

	// Read one byte past the cap so an oversized body is detected rather than
	// silently truncated.
	body := io.LimitReader(&ctxReader{ctx: ctx, r: resp.Body}, d.maxBytes+1)
	written, copyErr := io.Copy(tmp, body)
	if copyErr != nil {
		return "", d.classify(ctx, fmt.Errorf("writing %s after %d bytes: %w", path, written, copyErr))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", newError(PhaseDownloading, ErrDownloadCancelled, ctxErr)
	}
	if written > d.maxBytes {
		return "", newError(PhaseDownloading, ErrDownload, fmt.Errorf("artifact exceeds %d bytes", d.maxBytes))
	}
	if expected >= 0 && written != expected {
		return "", newError(PhaseDownloading, ErrDownloadIncomplete,
			fmt.Errorf("wrote %d of %d declared bytes", written, expected))
	}

	d.logger.Debug("artifact downloaded", "url", redactURL(artifactURL), "bytes", written, "path", path)
	return path, nil
}

// classify maps a transport error to ErrDownloadCancelled when the context is
// done and to ErrDownload otherwise. A body cut short by the server surfaces
// as io.ErrUnexpectedEOF and is reported as incomplete.
func (d *Downloader) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return newError(PhaseDownloading, ErrDownloadCancelled, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return newError(PhaseDownloading, ErrDownloadIncomplete, err)
	}
	return newError(PhaseDownloading, ErrDownload, err)
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
