// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"crypto/sha1" //nolint:gosec // SHA-1 shasums are still published by npm registries; stronger SRI digests take precedence.
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// errNoSupportedDigest indicates an integrity string contained no digest with a
// supported algorithm.
var errNoSupportedDigest = errors.New("no supported digest in integrity string")

type (
	// Digest is one entry of a Subresource Integrity string, e.g. "sha512-<base64>".
	Digest struct {
		Algorithm string // "sha512", "sha384", "sha256" or "sha1"
		Sum       []byte // Raw digest bytes
	}

	// IntegrityError provides details about a digest mismatch. It wraps
	// ErrIntegrityMismatch so callers can use errors.Is for classification.
	IntegrityError struct {
		Path      string
		Algorithm string
		Expected  string
		Got       string
	}
)

// algorithmStrength orders supported algorithms; higher wins when an SRI
// string lists several digests.
//
//nolint:gochecknoglobals // Read-only lookup table.
var algorithmStrength = map[string]int{
	"sha1":   1,
	"sha256": 2,
	"sha384": 3,
	"sha512": 4,
}

// Error returns a human-readable description of the mismatch, showing both
// expected and actual digests for debugging.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s digest mismatch for %s\nExpected: %s\nGot:      %s", e.Algorithm, e.Path, e.Expected, e.Got)
}

// Unwrap returns ErrIntegrityMismatch so callers can use errors.Is.
func (e *IntegrityError) Unwrap() error { return ErrIntegrityMismatch }

// ParseIntegrity parses a Subresource Integrity string. Entries are separated
// by whitespace; entries with unknown algorithms or undecodable digests are
// skipped, and "?options" suffixes are ignored. Returns an error if no usable
// entry remains.
func ParseIntegrity(sri string) ([]Digest, error) {
	var digests []Digest
	for field := range strings.FieldsSeq(sri) {
		algo, encoded, ok := strings.Cut(field, "-")
		if !ok {
			continue
		}
		algo = strings.ToLower(algo)
		if _, supported := algorithmStrength[algo]; !supported {
			continue
		}
		if i := strings.IndexByte(encoded, '?'); i >= 0 {
			encoded = encoded[:i]
		}
		sum, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(sum) != newHash(algo).Size() {
			continue
		}
		digests = append(digests, Digest{Algorithm: algo, Sum: sum})
	}
	if len(digests) == 0 {
		return nil, fmt.Errorf("%w: %q", errNoSupportedDigest, sri)
	}
	return digests, nil
}

// VerifyIntegrity checks the file at path against the strongest digest in the
// SRI string. Returns nil on match, an *IntegrityError on mismatch, or a plain
// error if the string or the file cannot be read.
func VerifyIntegrity(path, sri string) error {
	digests, err := ParseIntegrity(sri)
	if err != nil {
		return err
	}

	best := digests[0]
	for _, d := range digests[1:] {
		if algorithmStrength[d.Algorithm] > algorithmStrength[best.Algorithm] {
			best = d
		}
	}

	got, err := computeFileDigest(path, best.Algorithm)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(got, best.Sum) != 1 {
		return &IntegrityError{
			Path:      path,
			Algorithm: best.Algorithm,
			Expected:  base64.StdEncoding.EncodeToString(best.Sum),
			Got:       base64.StdEncoding.EncodeToString(got),
		}
	}
	return nil
}

// VerifyShasum checks the file at path against a hex-encoded SHA-1 digest, the
// legacy "shasum" field of registry metadata. Comparison is case-insensitive.
func VerifyShasum(path, expectedHex string) error {
	if !isValidHexHash(expectedHex, sha1.Size) {
		return fmt.Errorf("%w: %q is not a hex SHA-1 digest", errNoSupportedDigest, expectedHex)
	}
	got, err := computeFileDigest(path, "sha1")
	if err != nil {
		return err
	}
	gotHex := hex.EncodeToString(got)
	if !strings.EqualFold(gotHex, expectedHex) {
		return &IntegrityError{
			Path:      path,
			Algorithm: "sha1",
			Expected:  strings.ToLower(expectedHex),
			Got:       gotHex,
		}
	}
	return nil
}

// computeFileDigest streams the file at path through the named hash.
func computeFileDigest(path, algo string) (_ []byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Read-only file handle; close errors are exotic (NFS edge cases).
		_ = f.Close()
	}()

	h := newHash(algo)
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hashing file %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

func newHash(algo string) hash.Hash {
	switch algo {
	case "sha512":
		return sha512.New()
	case "sha384":
		return sha512.New384()
	case "sha256":
		return sha256.New()
	default:
		return sha1.New() //nolint:gosec // See import comment.
	}
}

// isValidHexHash checks if s is a hex-encoded digest of size bytes.
func isValidHexHash(s string, size int) bool {
	if len(s) != size*2 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
