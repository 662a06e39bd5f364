// SPDX-License-Identifier: MPL-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	// FormatCUE renders the configuration as a loadable config.cue.
	FormatCUE Format = "cue"
	// FormatTOML renders TOML.
	FormatTOML Format = "toml"
	// FormatYAML renders YAML.
	FormatYAML Format = "yaml"
	// FormatJSON renders indented JSON.
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned by Render for unsupported formats.
var ErrUnknownFormat = errors.New("unknown output format")

type (
	// Format selects the encoding used by Render.
	Format string

	// document is the encoding-neutral view of a Config: durations as strings
	// and keys in the same snake_case the config file uses.
	document struct {
		Registry        string   `json:"registry" toml:"registry" yaml:"registry"`
		Name            string   `json:"name" toml:"name" yaml:"name"`
		Version         string   `json:"version" toml:"version" yaml:"version"`
		InstallDir      string   `json:"install_dir" toml:"install_dir" yaml:"install_dir"`
		Files           []string `json:"files" toml:"files" yaml:"files"`
		TempDir         string   `json:"temp_dir" toml:"temp_dir" yaml:"temp_dir"`
		DownloadTimeout string   `json:"download_timeout" toml:"download_timeout" yaml:"download_timeout"`
		VerifyIntegrity bool     `json:"verify_integrity" toml:"verify_integrity" yaml:"verify_integrity"`
		LogLevel        string   `json:"log_level" toml:"log_level" yaml:"log_level"`
	}
)

// Formats lists the supported Render formats.
func Formats() []Format {
	return []Format{FormatCUE, FormatTOML, FormatYAML, FormatJSON}
}

// Render encodes cfg in the requested format.
func Render(cfg *Config, format Format) (string, error) {
	if format == FormatCUE {
		return GenerateCUE(cfg), nil
	}

	doc := toDocument(cfg)
	var (
		out []byte
		err error
	)
	switch format {
	case FormatTOML:
		out, err = toml.Marshal(doc)
	case FormatYAML:
		out, err = yaml.Marshal(doc)
	case FormatJSON:
		out, err = json.MarshalIndent(doc, "", "  ")
		out = append(out, '\n')
	default:
		return "", fmt.Errorf("%w %q (valid: cue, toml, yaml, json)", ErrUnknownFormat, format)
	}
	if err != nil {
		return "", fmt.Errorf("encoding config as %s: %w", format, err)
	}
	return string(out), nil
}

func toDocument(cfg *Config) document {
	files := make([]string, len(cfg.Files))
	for i, f := range cfg.Files {
		files[i] = string(f)
	}
	return document{
		Registry:        string(cfg.Registry),
		Name:            cfg.Name,
		Version:         cfg.Version,
		InstallDir:      cfg.InstallDir,
		Files:           files,
		TempDir:         cfg.TempDir,
		DownloadTimeout: cfg.DownloadTimeout.String(),
		VerifyIntegrity: cfg.VerifyIntegrity,
		LogLevel:        string(cfg.LogLevel),
	}
}
