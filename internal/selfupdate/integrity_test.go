// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neovateai/neovate-code-sub005/internal/testutil"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.tgz")
	testutil.MustWriteFile(t, path, []byte(content), 0o644)
	return path
}

func sha256SRI(data string) string {
	sum := sha256.Sum256([]byte(data))
	return "sha256-" + base64.StdEncoding.EncodeToString(sum[:])
}

func TestVerifyIntegrity(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "release payload")
	good512 := testutil.SRI([]byte("release payload"))
	bad512 := testutil.SRI([]byte("tampered"))

	tests := []struct {
		name    string
		sri     string
		wantErr error
	}{
		{name: "sha512 match", sri: good512},
		{name: "sha256 match", sri: sha256SRI("release payload")},
		{name: "options suffix ignored", sri: good512 + "?foo"},
		{name: "sha512 mismatch", sri: bad512, wantErr: ErrIntegrityMismatch},
		{name: "strongest digest wins", sri: sha256SRI("tampered") + " " + good512},
		{name: "strongest digest mismatch", sri: sha256SRI("release payload") + " " + bad512, wantErr: ErrIntegrityMismatch},
		{name: "unknown algorithms only", sri: "md5-AAAA", wantErr: errNoSupportedDigest},
		{name: "empty", sri: "", wantErr: errNoSupportedDigest},
		{name: "wrong digest length", sri: "sha512-" + base64.StdEncoding.EncodeToString([]byte("short")), wantErr: errNoSupportedDigest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := VerifyIntegrity(path, tt.sri)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("VerifyIntegrity() error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("VerifyIntegrity() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyIntegrity_ErrorDetails(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "release payload")
	err := VerifyIntegrity(path, testutil.SRI([]byte("tampered")))

	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want *IntegrityError", err)
	}
	if ie.Algorithm != "sha512" || ie.Path != path {
		t.Errorf("IntegrityError = %+v", ie)
	}
	if ie.Expected == ie.Got {
		t.Errorf("expected and actual digests should differ: %s", ie.Expected)
	}
	if !strings.Contains(err.Error(), "Expected:") {
		t.Errorf("Error() = %q, want both digests", err.Error())
	}
}

func TestVerifyShasum(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "release payload")
	sum := testutil.Shasum([]byte("release payload"))

	if err := VerifyShasum(path, sum); err != nil {
		t.Errorf("VerifyShasum() error: %v", err)
	}
	if err := VerifyShasum(path, strings.ToUpper(sum)); err != nil {
		t.Errorf("VerifyShasum() uppercase error: %v", err)
	}
	if err := VerifyShasum(path, testutil.Shasum([]byte("other"))); !errors.Is(err, ErrIntegrityMismatch) {
		t.Errorf("VerifyShasum() mismatch error = %v, want ErrIntegrityMismatch", err)
	}
	if err := VerifyShasum(path, "not-hex"); !errors.Is(err, errNoSupportedDigest) {
		t.Errorf("VerifyShasum() invalid error = %v, want errNoSupportedDigest", err)
	}
}

func TestVerifyIntegrity_MissingFile(t *testing.T) {
	t.Parallel()

	err := VerifyIntegrity(filepath.Join(t.TempDir(), "missing"), testutil.SRI([]byte("x")))
	if err == nil || errors.Is(err, ErrIntegrityMismatch) {
		t.Errorf("VerifyIntegrity() error = %v, want a read error", err)
	}
}

func TestIsValidHexHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{strings.Repeat("a", 40), true},
		{strings.Repeat("F", 40), true},
		{strings.Repeat("a", 39), false},
		{strings.Repeat("g", 40), false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isValidHexHash(tt.input, 20); got != tt.want {
			t.Errorf("isValidHexHash(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
