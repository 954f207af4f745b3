// Package config provides commitai configuration with a defined load order:
// CLI flags > environment variables > repo config > global config > defaults.
//
// Paths:
//   - Repo: .commitai/config.toml (relative to repo root)
//   - Global: user config dir, e.g. ~/.config/commitai/config.toml (see os.UserConfigDir)
//
// Environment variables (override config files when set):
//   - COMMITAI_BASE_URL, COMMITAI_TIMEOUT (Go duration string or integer seconds),
//   - COMMITAI_MAX_DIFF_TOKENS, COMMITAI_CONCURRENCY, COMMITAI_REQUESTS_PER_SECOND,
//   - COMMITAI_CREDENTIAL_FILE, COMMITAI_GIT_BACKEND (cli or go-git),
//   - COMMITAI_WORKSPACE_FILE, COMMITAI_LOG_LEVEL (debug, info, warn, error).
package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"commitai/cli/internal/erruser"
)

// Config holds all commitai configuration.
type Config struct {
	BaseURL string `toml:"base_url"`
	// Timeout bounds one completion request (0 = no timeout).
	Timeout time.Duration `toml:"timeout"`
	// MaxDiffTokens caps the estimated size of one diff sent for summary (0 = no truncation).
	MaxDiffTokens int `toml:"max_diff_tokens"`
	// Concurrency caps concurrent summaries per repository (0 = unbounded).
	Concurrency int `toml:"concurrency"`
	// RequestsPerSecond rate-limits completion requests (0 = unlimited).
	RequestsPerSecond float64 `toml:"requests_per_second"`
	// CredentialFile is where set-key stores the API key. Empty means the default path.
	CredentialFile string `toml:"credential_file"`
	GitBackend     string `toml:"git_backend"`
	WorkspaceFile  string `toml:"workspace_file"`
	LogLevel       string `toml:"log_level"`
}

// Overrides represents optional CLI flag overrides. Non-nil pointer means
// "override with this value".
type Overrides struct {
	BaseURL           *string
	Timeout           *time.Duration
	MaxDiffTokens     *int
	Concurrency       *int
	RequestsPerSecond *float64
	CredentialFile    *string
	GitBackend        *string
	WorkspaceFile     *string
	LogLevel          *string
}

// LoadOptions configures Load. All fields are optional.
type LoadOptions struct {
	// RepoRoot is the repository root; if set, repo config is RepoRoot/.commitai/config.toml.
	RepoRoot string
	// GlobalConfigPath is the global config file path; if empty, the user config dir is used.
	GlobalConfigPath string
	// Env is the environment key=value slice; if nil, os.Environ() is used.
	Env []string
	// Overrides are applied last (highest precedence).
	Overrides *Overrides
}

const (
	_defaultBaseURL       = "https://api.openai.com/v1"
	_defaultTimeout       = 60 * time.Second
	_defaultMaxDiffTokens = 3000
	_defaultConcurrency   = 4
	_defaultGitBackend    = "cli"
	_defaultLogLevel      = "warn"

	// RepoConfigDir is the per-repository config directory name.
	RepoConfigDir = ".commitai"
)

var validGitBackends = map[string]struct{}{"cli": {}, "go-git": {}}

var validLogLevels = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "error": {}}

func validateGitBackend(s string) (string, error) {
	norm := strings.TrimSpace(strings.ToLower(s))
	if _, ok := validGitBackends[norm]; !ok {
		return "", erruser.New("Invalid git_backend; use cli or go-git.", nil)
	}
	return norm, nil
}

func validateLogLevel(s string) (string, error) {
	norm := strings.TrimSpace(strings.ToLower(s))
	if _, ok := validLogLevels[norm]; !ok {
		return "", erruser.New("Invalid log_level; use debug, info, warn, or error.", nil)
	}
	return norm, nil
}

// errIntOverflow is returned when an int64 value does not fit in int (e.g. on 32-bit or huge TOML/env values).
var errIntOverflow = errors.New("value out of range for int")

// int64ToInt converts n to int. It returns an error if n is outside the range of int (e.g. overflow on 32-bit).
func int64ToInt(n int64) (int, error) {
	if n < int64(math.MinInt) || n > int64(math.MaxInt) {
		return 0, errIntOverflow
	}
	return int(n), nil
}

// DefaultConfig returns the default configuration (no I/O).
func DefaultConfig() Config {
	return Config{
		BaseURL:       _defaultBaseURL,
		Timeout:       _defaultTimeout,
		MaxDiffTokens: _defaultMaxDiffTokens,
		Concurrency:   _defaultConcurrency,
		GitBackend:    _defaultGitBackend,
		LogLevel:      _defaultLogLevel,
	}
}

// DefaultGlobalPath returns <UserConfigDir>/commitai/config.toml.
func DefaultGlobalPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", erruser.New("Could not determine config directory.", err)
	}
	return filepath.Join(dir, "commitai", "config.toml"), nil
}

// Load loads configuration with precedence: defaults < global file < repo file < env < overrides.
// Missing config files are ignored. Invalid TOML or invalid env values return an error.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	cfg := DefaultConfig()

	globalPath := opts.GlobalConfigPath
	if globalPath == "" {
		p, err := DefaultGlobalPath()
		if err != nil {
			return nil, err
		}
		globalPath = p
	}
	if err := mergeFile(&cfg, globalPath); err != nil {
		return nil, err
	}

	if opts.RepoRoot != "" {
		repoPath := filepath.Join(opts.RepoRoot, RepoConfigDir, "config.toml")
		if err := mergeFile(&cfg, repoPath); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg, opts.Env); err != nil {
		return nil, err
	}

	if err := applyOverrides(&cfg, opts.Overrides); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeFile reads path and merges into cfg. Only fields present in the file
// are overwritten; empty strings keep the previous value. Missing file is
// skipped (no error).
func mergeFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return erruser.New("Invalid configuration file.", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return erruser.New("Could not read configuration file.", err)
	}
	var file struct {
		BaseURL           *string  `toml:"base_url"`
		Timeout           *string  `toml:"timeout"`
		MaxDiffTokens     *int64   `toml:"max_diff_tokens"`
		Concurrency       *int64   `toml:"concurrency"`
		RequestsPerSecond *float64 `toml:"requests_per_second"`
		CredentialFile    *string  `toml:"credential_file"`
		GitBackend        *string  `toml:"git_backend"`
		WorkspaceFile     *string  `toml:"workspace_file"`
		LogLevel          *string  `toml:"log_level"`
	}
	if _, err := toml.Decode(string(data), &file); err != nil {
		return erruser.New(fmt.Sprintf("Invalid configuration in %s.", path), err)
	}
	if file.BaseURL != nil && *file.BaseURL != "" {
		cfg.BaseURL = *file.BaseURL
	}
	if file.Timeout != nil && *file.Timeout != "" {
		d, err := parseDuration(*file.Timeout)
		if err != nil {
			return erruser.New("Configuration timeout is invalid.", err)
		}
		cfg.Timeout = d
	}
	if file.MaxDiffTokens != nil {
		if *file.MaxDiffTokens < 0 {
			return erruser.New("Configuration max_diff_tokens must be non-negative.", nil)
		}
		v, err := int64ToInt(*file.MaxDiffTokens)
		if err != nil {
			return erruser.New("Configuration max_diff_tokens value out of range.", err)
		}
		cfg.MaxDiffTokens = v
	}
	if file.Concurrency != nil {
		if *file.Concurrency < 0 {
			return erruser.New("Configuration concurrency must be non-negative.", nil)
		}
		v, err := int64ToInt(*file.Concurrency)
		if err != nil {
			return erruser.New("Configuration concurrency value out of range.", err)
		}
		cfg.Concurrency = v
	}
	if file.RequestsPerSecond != nil {
		if *file.RequestsPerSecond < 0 {
			return erruser.New("Configuration requests_per_second must be non-negative.", nil)
		}
		cfg.RequestsPerSecond = *file.RequestsPerSecond
	}
	if file.CredentialFile != nil && *file.CredentialFile != "" {
		cfg.CredentialFile = resolveRelative(*file.CredentialFile, filepath.Dir(path))
	}
	if file.GitBackend != nil && *file.GitBackend != "" {
		norm, err := validateGitBackend(*file.GitBackend)
		if err != nil {
			return err
		}
		cfg.GitBackend = norm
	}
	if file.WorkspaceFile != nil && *file.WorkspaceFile != "" {
		cfg.WorkspaceFile = resolveRelative(*file.WorkspaceFile, filepath.Dir(path))
	}
	if file.LogLevel != nil && *file.LogLevel != "" {
		norm, err := validateLogLevel(*file.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = norm
	}
	return nil
}

// resolveRelative makes p relative to the config file's directory. "~/" expands to $HOME.
func resolveRelative(p, base string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	// Try Go duration first (e.g. "90s", "2m")
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}
	// Try integer seconds
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(n) * time.Second, nil
}

// env key names for config
const (
	envBaseURL           = "COMMITAI_BASE_URL"
	envTimeout           = "COMMITAI_TIMEOUT"
	envMaxDiffTokens     = "COMMITAI_MAX_DIFF_TOKENS"
	envConcurrency       = "COMMITAI_CONCURRENCY"
	envRequestsPerSecond = "COMMITAI_REQUESTS_PER_SECOND"
	envCredentialFile    = "COMMITAI_CREDENTIAL_FILE"
	envGitBackend        = "COMMITAI_GIT_BACKEND"
	envWorkspaceFile     = "COMMITAI_WORKSPACE_FILE"
	envLogLevel          = "COMMITAI_LOG_LEVEL"
)

func applyEnv(cfg *Config, env []string) error {
	vals := make(map[string]string)
	for _, e := range env {
		idx := strings.Index(e, "=")
		if idx <= 0 {
			continue
		}
		vals[strings.TrimSpace(e[:idx])] = strings.TrimSpace(e[idx+1:])
	}
	if v, ok := vals[envBaseURL]; ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := vals[envTimeout]; ok && v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return erruser.New("COMMITAI_TIMEOUT must be a valid duration.", err)
		}
		cfg.Timeout = d
	}
	if v, ok := vals[envMaxDiffTokens]; ok && v != "" {
		n, err := parseNonNegative(envMaxDiffTokens, v)
		if err != nil {
			return err
		}
		cfg.MaxDiffTokens = n
	}
	if v, ok := vals[envConcurrency]; ok && v != "" {
		n, err := parseNonNegative(envConcurrency, v)
		if err != nil {
			return err
		}
		cfg.Concurrency = n
	}
	if v, ok := vals[envRequestsPerSecond]; ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return erruser.New("COMMITAI_REQUESTS_PER_SECOND must be a valid number.", err)
		}
		if f < 0 {
			return erruser.New("COMMITAI_REQUESTS_PER_SECOND must be non-negative.", nil)
		}
		cfg.RequestsPerSecond = f
	}
	if v, ok := vals[envCredentialFile]; ok && v != "" {
		cfg.CredentialFile = v
	}
	if v, ok := vals[envGitBackend]; ok && v != "" {
		norm, err := validateGitBackend(v)
		if err != nil {
			return err
		}
		cfg.GitBackend = norm
	}
	if v, ok := vals[envWorkspaceFile]; ok {
		cfg.WorkspaceFile = v
	}
	if v, ok := vals[envLogLevel]; ok && v != "" {
		norm, err := validateLogLevel(v)
		if err != nil {
			return err
		}
		cfg.LogLevel = norm
	}
	return nil
}

func parseNonNegative(name, v string) (int, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, erruser.New(name+" must be a valid number.", err)
	}
	if n < 0 {
		return 0, erruser.New(name+" must be non-negative.", nil)
	}
	out, err := int64ToInt(n)
	if err != nil {
		return 0, erruser.New(name+" value out of range.", err)
	}
	return out, nil
}

func applyOverrides(cfg *Config, o *Overrides) error {
	if o == nil {
		return nil
	}
	if o.BaseURL != nil && *o.BaseURL != "" {
		cfg.BaseURL = *o.BaseURL
	}
	if o.Timeout != nil {
		cfg.Timeout = *o.Timeout
	}
	if o.MaxDiffTokens != nil {
		cfg.MaxDiffTokens = max(*o.MaxDiffTokens, 0)
	}
	if o.Concurrency != nil {
		cfg.Concurrency = max(*o.Concurrency, 0)
	}
	if o.RequestsPerSecond != nil {
		cfg.RequestsPerSecond = max(*o.RequestsPerSecond, 0)
	}
	if o.CredentialFile != nil && *o.CredentialFile != "" {
		cfg.CredentialFile = *o.CredentialFile
	}
	if o.GitBackend != nil && *o.GitBackend != "" {
		norm, err := validateGitBackend(*o.GitBackend)
		if err != nil {
			return err
		}
		cfg.GitBackend = norm
	}
	if o.WorkspaceFile != nil {
		cfg.WorkspaceFile = *o.WorkspaceFile
	}
	if o.LogLevel != nil && *o.LogLevel != "" {
		norm, err := validateLogLevel(*o.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = norm
	}
	return nil
}
