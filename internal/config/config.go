package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains output layout and state directory configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	RootDir   string `toml:"root_dir"`
	StateDir  string `toml:"state_dir"`
}

// Encoder contains lame quality settings and output naming rules.
type Encoder struct {
	// Preset is passed as `--preset <name>` and wins over VBRQuality.
	Preset string `toml:"preset"`
	// VBRQuality is passed as `-V<n>`. Negative disables it, which falls back
	// to the highest quality level.
	VBRQuality       int    `toml:"vbr_quality"`
	BadChars         string `toml:"bad_chars"`
	NormalizeUnicode bool   `toml:"normalize_unicode"`
}

// Transcode contains worker pool and batch behaviour settings.
type Transcode struct {
	Workers           int    `toml:"workers"` // 0 = number of CPUs
	SkipExisting      bool   `toml:"skip_existing"`
	FailFast          bool   `toml:"fail_fast"`
	PollIntervalMS    int    `toml:"poll_interval_ms"`
	JobTimeoutSeconds int    `toml:"job_timeout_seconds"` // 0 = no deadline
	CopyPattern       string `toml:"copy_pattern"`
	FollowLinks       bool   `toml:"follow_links"`
}

// Tools names the external programs the pipeline drives.
type Tools struct {
	Flac     string `toml:"flac"`
	Lame     string `toml:"lame"`
	Metaflac string `toml:"metaflac"`
	File     string `toml:"file"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
	Quiet  bool   `toml:"quiet"`
}

// History contains configuration for the run ledger.
type History struct {
	Enabled bool `toml:"enabled"`
}

// Config encapsulates all configuration values for flac2mp3.
//
// Configuration sections by subsystem:
//   - Paths: output directory, source root, and state directory
//   - Encoder: lame preset/VBR quality and output naming
//   - Transcode: worker count, skip/fail-fast policy, copy pattern
//   - Tools: external binaries (flac, lame, metaflac, file)
//   - Logging: log format, level, and optional file sink
//   - History: SQLite run ledger
type Config struct {
	Paths     Paths     `toml:"paths"`
	Encoder   Encoder   `toml:"encoder"`
	Transcode Transcode `toml:"transcode"`
	Tools     Tools     `toml:"tools"`
	Logging   Logging   `toml:"logging"`
	History   History   `toml:"history"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("flac2mp3.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state directory and, when configured, the
// output directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.StateDir, err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) != "" {
		if err := os.MkdirAll(c.Paths.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output directory %q: %w", c.Paths.OutputDir, err)
		}
	}
	return nil
}

// HistoryPath returns the location of the run ledger database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LockDir returns the directory holding per-output-tree run locks.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// PollInterval returns the worker pool completion poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Transcode.PollIntervalMS) * time.Millisecond
}

// JobTimeout returns the per-job deadline, or zero when none is configured.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Transcode.JobTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultStateDir() string {
	if base, ok := os.LookupEnv("XDG_STATE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "flac2mp3")
	}
	return defaultStateDirFallback
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
