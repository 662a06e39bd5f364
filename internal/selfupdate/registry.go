// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	// maxMetadataBytes is the upper bound on a registry metadata document (10 MB).
	// Full packuments of long-lived packages can be large but never this large.
	maxMetadataBytes = 10 << 20

	// registryAccept asks for the abbreviated install document first and falls
	// back to the full packument.
	registryAccept = "application/vnd.npm.install-v1+json; q=1.0, application/json; q=0.8, */*"

	// latestTag is the dist-tag that names the newest published release.
	latestTag = "latest"
)

type (
	// Metadata is what the registry reports about the newest release of a package.
	Metadata struct {
		Version     string // Latest published version, e.g. "0.9.0"
		ArtifactURL string // Tarball location for Version
		Integrity   string // SRI digest(s), e.g. "sha512-..."; empty if not published
		Shasum      string // Hex SHA-1 of the tarball; empty if not published
	}

	// RegistryClient resolves the latest published release of a package from a
	// registry that serves npm-style package documents at {base}/{name}.
	RegistryClient struct {
		httpClient *http.Client
		userAgent  string
	}

	// RegistryOption configures a RegistryClient during construction.
	RegistryOption func(*RegistryClient)

	// packument is the JSON wire format of a registry package document. Only the
	// fields the resolver needs are decoded.
	packument struct {
		Name     string                     `json:"name"`
		DistTags map[string]string          `json:"dist-tags"`
		Versions map[string]packumentRecord `json:"versions"`
	}

	packumentRecord struct {
		Version string        `json:"version"`
		Dist    packumentDist `json:"dist"`
	}

	packumentDist struct {
		Tarball   string `json:"tarball"`
		Integrity string `json:"integrity"`
		Shasum    string `json:"shasum"`
	}
)

// WithRegistryHTTPClient sets a custom HTTP client, useful for tests, proxies
// or request timeouts.
func WithRegistryHTTPClient(c *http.Client) RegistryOption {
	return func(r *RegistryClient) {
		r.httpClient = c
	}
}

// WithRegistryUserAgent sets the User-Agent header sent with every request.
func WithRegistryUserAgent(ua string) RegistryOption {
	return func(r *RegistryClient) {
		r.userAgent = ua
	}
}

// NewRegistryClient creates a RegistryClient. Defaults: http.DefaultClient and
// User-Agent "upgrader/dev".
func NewRegistryClient(opts ...RegistryOption) *RegistryClient {
	c := &RegistryClient{
		httpClient: http.DefaultClient,
		userAgent:  "upgrader/dev",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveLatest fetches {registryBase}/{name} and returns the version tagged
// "latest" together with its artifact location. Failures are *Error values of
// kind ErrRegistryUnreachable, ErrPackageNotFound or ErrMalformedMetadata. The
// request is made once; retry policy belongs to the caller.
func (c *RegistryClient) ResolveLatest(ctx context.Context, registryBase, name string) (*Metadata, error) {
	docURL, err := packageURL(registryBase, name)
	if err != nil {
		return nil, newError(PhaseChecking, ErrRegistryUnreachable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, http.NoBody)
	if err != nil {
		return nil, newError(PhaseChecking, ErrRegistryUnreachable, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", registryAccept)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(PhaseChecking, ErrRegistryUnreachable, fmt.Errorf("fetching %s: %w", redactURL(docURL), err))
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, newError(PhaseChecking, ErrPackageNotFound, fmt.Errorf("%s not found at %s", name, redactURL(registryBase)))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, newError(PhaseChecking, ErrRegistryUnreachable, fmt.Errorf("fetching %s: unexpected status %d", redactURL(docURL), resp.StatusCode))
	default:
		return nil, newError(PhaseChecking, ErrMalformedMetadata, fmt.Errorf("fetching %s: unexpected status %d", redactURL(docURL), resp.StatusCode))
	}

	meta, err := parsePackument(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, newError(PhaseChecking, ErrMalformedMetadata, err)
	}
	return meta, nil
}

// parsePackument decodes a package document and picks the release tagged
// latest. Any missing piece of the latest -> version -> tarball chain makes the
// document malformed.
func parsePackument(body io.Reader) (*Metadata, error) {
	var doc packument
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, newError(PhaseChecking, ErrRegistryUnreachable, fmt.Errorf("reading metadata: %w", err))
		}
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}

	latest := strings.TrimSpace(doc.DistTags[latestTag])
	if latest == "" {
		return nil, fmt.Errorf("no %q dist-tag", latestTag)
	}

	rec, ok := doc.Versions[latest]
	if !ok {
		return nil, fmt.Errorf("dist-tag %q points at unpublished version %s", latestTag, latest)
	}

	tarball := strings.TrimSpace(rec.Dist.Tarball)
	if tarball == "" {
		return nil, fmt.Errorf("version %s has no tarball URL", latest)
	}

	return &Metadata{
		Version:     latest,
		ArtifactURL: tarball,
		Integrity:   strings.TrimSpace(rec.Dist.Integrity),
		Shasum:      strings.TrimSpace(rec.Dist.Shasum),
	}, nil
}

// packageURL joins the registry base and the package name. Scoped names keep
// their "@" but have the scope separator escaped ("@scope%2Fname"), which is
// how npm-compatible registries address them.
func packageURL(registryBase, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("package name must not be empty")
	}
	base, err := url.Parse(strings.TrimRight(registryBase, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing registry URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("registry URL %q must use http or https", registryBase)
	}
	escaped := url.PathEscape(name)
	return base.String() + "/" + escaped, nil
}

// redactURL strips credentials, query parameters and fragments from a URL for
// safe inclusion in error messages.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
