// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"crypto/sha1" //nolint:gosec // Registries publish SHA-1 shasums alongside SRI digests.
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type (
	// Registry is an httptest server that answers package document requests
	// ({base}/{name}) and serves the artifacts published to it.
	Registry struct {
		Server *httptest.Server

		mu        sync.Mutex
		packages  map[string]*stubPackage
		artifacts map[string]*stubArtifact
		hits      map[string]int
		closeOnce sync.Once
	}

	// ArtifactBehavior alters how a published artifact is served.
	ArtifactBehavior struct {
		Status   int  // Non-zero replaces the 200 answer
		Truncate bool // Declare the full length but send half of the body
		Hold     bool // Block the response until Release is called
	}

	stubPackage struct {
		status   int    // Non-zero forces this status code
		raw      string // Non-empty replaces the generated document
		latest   string
		versions map[string]stubVersion
	}

	stubVersion struct {
		Version string   `json:"version"`
		Dist    stubDist `json:"dist"`
	}

	stubDist struct {
		Tarball   string `json:"tarball"`
		Integrity string `json:"integrity,omitempty"`
		Shasum    string `json:"shasum,omitempty"`
	}

	stubArtifact struct {
		data     []byte
		behavior ArtifactBehavior
		release  chan struct{}
		once     sync.Once
	}
)

// NewRegistry starts a stub registry that is shut down when the test ends.
func NewRegistry(t testing.TB) *Registry {
	t.Helper()
	r := &Registry{
		packages:  make(map[string]*stubPackage),
		artifacts: make(map[string]*stubArtifact),
		hits:      make(map[string]int),
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Close)
	return r
}

// URL returns the registry base URL.
func (r *Registry) URL() string { return r.Server.URL }

// Close releases held artifacts and stops the server.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		for _, a := range r.artifacts {
			a.unblock()
		}
		r.mu.Unlock()
		r.Server.Close()
	})
}

// Publish stores artifact as version of name, tags it latest and returns the
// artifact URL. The package document advertises SHA-512 integrity and a SHA-1
// shasum for it.
func (r *Registry) Publish(name, version string, artifact []byte) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := name[strings.LastIndex(name, "/")+1:]
	artifactPath := "/" + name + "/-/" + base + "-" + version + ".tgz"
	tarball := r.Server.URL + artifactPath

	pkg := r.pkg(name)
	pkg.latest = version
	pkg.versions[version] = stubVersion{
		Version: version,
		Dist: stubDist{
			Tarball:   tarball,
			Integrity: SRI(artifact),
			Shasum:    Shasum(artifact),
		},
	}
	r.artifacts[artifactPath] = &stubArtifact{data: artifact, release: make(chan struct{})}
	return tarball
}

// Tag points the latest dist-tag of name at version without publishing it.
func (r *Registry) Tag(name, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pkg(name).latest = version
}

// SetStatus makes the document endpoint for name answer with status.
func (r *Registry) SetStatus(name string, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pkg(name).status = status
}

// SetDocument makes the document endpoint for name answer with raw.
func (r *Registry) SetDocument(name, raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pkg(name).raw = raw
}

// SetArtifactBehavior changes how the artifact at artifactURL is served.
func (r *Registry) SetArtifactBehavior(artifactURL string, b ArtifactBehavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.artifacts[r.pathOf(artifactURL)]; ok {
		a.behavior = b
	}
}

// Release unblocks every pending and future request for a held artifact.
func (r *Registry) Release(artifactURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.artifacts[r.pathOf(artifactURL)]; ok {
		a.unblock()
	}
}

// Hits returns how many requests reached the given URL path or full URL.
func (r *Registry) Hits(target string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[r.pathOf(target)]
}

// SRI returns the sha512 Subresource Integrity string for data.
func SRI(data []byte) string {
	sum := sha512.Sum512(data)
	return "sha512-" + base64.StdEncoding.EncodeToString(sum[:])
}

// Shasum returns the hex SHA-1 of data.
func Shasum(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec // See import comment.
	return hex.EncodeToString(sum[:])
}

func (r *Registry) serve(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.hits[req.URL.Path]++
	art, isArtifact := r.artifacts[req.URL.Path]
	pkg, isPackage := r.packages[strings.TrimPrefix(req.URL.Path, "/")]
	var doc []byte
	var status int
	if isPackage {
		status, doc = pkg.render()
	}
	r.mu.Unlock()

	switch {
	case isArtifact:
		art.serve(w, req)
	case isPackage:
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Not found"}`))
	}
}

func (r *Registry) pkg(name string) *stubPackage {
	pkg, ok := r.packages[name]
	if !ok {
		pkg = &stubPackage{versions: make(map[string]stubVersion)}
		r.packages[name] = pkg
	}
	return pkg
}

func (r *Registry) pathOf(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Path == "" {
		return target
	}
	return path.Clean(u.Path)
}

// render must be called with the registry lock held.
func (p *stubPackage) render() (int, []byte) {
	if p.status != 0 {
		return p.status, nil
	}
	if p.raw != "" {
		return http.StatusOK, []byte(p.raw)
	}
	doc := map[string]any{
		"dist-tags": map[string]string{"latest": p.latest},
		"versions":  p.versions,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return http.StatusInternalServerError, nil
	}
	return http.StatusOK, data
}

func (a *stubArtifact) serve(w http.ResponseWriter, req *http.Request) {
	if a.behavior.Hold {
		select {
		case <-a.release:
		case <-req.Context().Done():
			return
		}
	}
	if a.behavior.Status != 0 {
		w.WriteHeader(a.behavior.Status)
		return
	}

	body := a.data
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if a.behavior.Truncate {
		body = body[:len(body)/2]
	}
	_, _ = w.Write(body)
}

func (a *stubArtifact) unblock() {
	a.once.Do(func() { close(a.release) })
}
