// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/neovateai/neovate-code-sub005/internal/issue"
	"github.com/neovateai/neovate-code-sub005/internal/selfupdate"
	"github.com/neovateai/neovate-code-sub005/pkg/cueutil"
	"github.com/neovateai/neovate-code-sub005/pkg/platform"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "upgrader"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides: UPGRADER_INSTALL_DIR, ...
	EnvPrefix = "UPGRADER"

	// DefaultRegistry is the public npm registry.
	DefaultRegistry RegistryURL = "https://registry.npmjs.org"
	// DefaultDownloadTimeout bounds each HTTP request.
	DefaultDownloadTimeout = 10 * time.Minute
)

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns the upgrader configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case platform.Windows:
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// DefaultConfig returns the configuration used when no file sets a key.
func DefaultConfig() *Config {
	return &Config{
		Registry:        DefaultRegistry,
		DownloadTimeout: DefaultDownloadTimeout,
		VerifyIntegrity: true,
		LogLevel:        LogLevelInfo,
	}
}

// ToInstallConfig converts the loaded settings into the engine's install
// configuration.
func (c *Config) ToInstallConfig() selfupdate.InstallConfig {
	files := make([]string, len(c.Files))
	for i, f := range c.Files {
		files[i] = string(f)
	}
	return selfupdate.InstallConfig{
		RegistryBase: string(c.Registry),
		Name:         c.Name,
		Version:      c.Version,
		InstallDir:   c.InstallDir,
		Files:        files,
	}
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state. Precedence, lowest first: defaults, config file,
// UPGRADER_* environment, explicit overrides.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("registry", string(defaults.Registry))
	v.SetDefault("name", "")
	v.SetDefault("version", "")
	v.SetDefault("install_dir", "")
	v.SetDefault("files", []string{})
	v.SetDefault("temp_dir", "")
	v.SetDefault("download_timeout", defaults.DownloadTimeout.String())
	v.SetDefault("verify_integrity", defaults.VerifyIntegrity)
	v.SetDefault("log_level", string(defaults.LogLevel))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	resolvedPath := ""

	// A --config path is used exclusively and must exist.
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run 'upgrader config init' to create a starter file").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}
		cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		if fileExists(cuePath) {
			resolvedPath = cuePath
		}
		// No file is fine: defaults, environment and flags may be enough.
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Compare it with the output of 'upgrader config show'").
				Wrap(err).
				BuildError()
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("parse configuration").
			WithSuggestion("download_timeout takes a Go duration such as \"30s\" or \"10m\"").
			Wrap(fmt.Errorf("failed to parse config: %w", err)).
			BuildError()
	}

	if valid, errs := cfg.IsValid(); !valid {
		ctxErr := issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath)
		for _, e := range errs {
			if ice, ok := e.(*InvalidConfigError); ok {
				ctxErr = ctxErr.WithSuggestions(suggestionsFor(ice)...)
			}
		}
		return nil, "", ctxErr.Wrap(errs[0]).BuildError()
	}

	return &cfg, resolvedPath, nil
}

// suggestionsFor returns one hint per distinct kind of field error.
func suggestionsFor(e *InvalidConfigError) []string {
	var (
		out  []string
		seen = map[string]bool{}
	)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, fe := range e.FieldErrors {
		switch fe.(type) {
		case *InvalidManagedPathError:
			add("List each managed path once, relative to install_dir, without nesting one inside another")
		case *InvalidRegistryURLError:
			add("Set registry to an http(s) URL such as https://registry.npmjs.org")
		case *InvalidLogLevelError:
			add("Use one of debug, info, warn or error for log_level")
		default:
			add("Run 'upgrader config show' to inspect the effective configuration")
		}
	}
	return out
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against #Config and merges its
// contents into Viper. Concrete(false) because every field is optional.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	res, err := cueutil.ParseAndDecode[map[string]any](configSchema, data, "#Config",
		cueutil.WithFilename(path),
		cueutil.WithConcrete(false),
	)
	if err != nil {
		return err
	}

	// Merge preserves defaults and leaves env overrides on top.
	if err := v.MergeConfigMap(*res.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// DefaultConfigPath returns the config.cue path inside ConfigDir.
func DefaultConfigPath() (string, error) {
	cfgDir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt), nil
}

// CreateDefaultConfig writes a starter config file unless one exists, and
// returns its path and whether it was created.
func CreateDefaultConfig() (string, bool, error) {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, false, nil
	}

	if err := Save(cfgPath, DefaultConfig()); err != nil {
		return "", false, err
	}
	return cfgPath, true, nil
}

// Save writes cfg as CUE to path, creating its directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateCUE generates a CUE representation of the configuration. Unset
// string fields are written as comments so the file stays valid against the
// schema while documenting every key.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// upgrader configuration\n")
	sb.WriteString("// Environment variables UPGRADER_<KEY> override these values.\n\n")

	writeString := func(key, value, example string) {
		if value == "" {
			fmt.Fprintf(&sb, "// %s: %q\n", key, example)
			return
		}
		fmt.Fprintf(&sb, "%s: %q\n", key, value)
	}

	writeString("registry", string(cfg.Registry), string(DefaultRegistry))
	writeString("name", cfg.Name, "@scope/tool")
	writeString("version", cfg.Version, "1.0.0")
	writeString("install_dir", cfg.InstallDir, "/opt/tool")

	if len(cfg.Files) == 0 {
		sb.WriteString("// files: [\"dist\", \"package.json\"]\n")
	} else {
		sb.WriteString("files: [\n")
		for _, f := range cfg.Files {
			fmt.Fprintf(&sb, "\t%q,\n", string(f))
		}
		sb.WriteString("]\n")
	}

	writeString("temp_dir", cfg.TempDir, "/var/tmp")
	fmt.Fprintf(&sb, "download_timeout: %q\n", cfg.DownloadTimeout.String())
	fmt.Fprintf(&sb, "verify_integrity: %v\n", cfg.VerifyIntegrity)
	if cfg.LogLevel != "" {
		fmt.Fprintf(&sb, "log_level: %q\n", string(cfg.LogLevel))
	}

	return sb.String()
}
