// SPDX-License-Identifier: MPL-2.0

package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

func renderFixture() *Config {
	return &Config{
		Registry:        "https://npm.example.com",
		Name:            "@acme/tool",
		Version:         "1.2.3",
		InstallDir:      "/opt/acme",
		Files:           []ManagedPath{"dist", "package.json"},
		DownloadTimeout: 45 * time.Second,
		VerifyIntegrity: true,
		LogLevel:        LogLevelInfo,
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	decoders := map[Format]func([]byte, any) error{
		FormatJSON: json.Unmarshal,
		FormatTOML: toml.Unmarshal,
		FormatYAML: yaml.Unmarshal,
	}

	for format, decode := range decoders {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()

			out, err := Render(renderFixture(), format)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}

			var doc document
			if err := decode([]byte(out), &doc); err != nil {
				t.Fatalf("decoding %s output: %v\n%s", format, err, out)
			}
			if doc.Name != "@acme/tool" || doc.InstallDir != "/opt/acme" || doc.DownloadTimeout != "45s" {
				t.Errorf("decoded = %+v", doc)
			}
			if len(doc.Files) != 2 || doc.Files[1] != "package.json" {
				t.Errorf("Files = %v", doc.Files)
			}
			if !doc.VerifyIntegrity {
				t.Error("VerifyIntegrity lost")
			}
		})
	}
}

func TestRender_CUE(t *testing.T) {
	t.Parallel()

	out, err := Render(renderFixture(), FormatCUE)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{
		`name: "@acme/tool"`,
		`download_timeout: "45s"`,
		`"package.json",`,
		`// temp_dir:`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("CUE output missing %q:\n%s", want, out)
		}
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := Render(DefaultConfig(), "xml")
	if !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}
