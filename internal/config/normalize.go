package config

import (
	"fmt"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEncoder()
	c.normalizeTranscode()
	c.normalizeTools()
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	return nil
}

// Normalize re-applies normalization after callers mutate the config, for
// example when CLI flags override file values.
func (c *Config) Normalize() error {
	return c.normalize()
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.RootDir, err = expandPath(strings.TrimSpace(c.Paths.RootDir)); err != nil {
		return fmt.Errorf("paths.root_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir()
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeEncoder() {
	c.Encoder.Preset = strings.TrimSpace(c.Encoder.Preset)
}

func (c *Config) normalizeTranscode() {
	if c.Transcode.Workers <= 0 {
		c.Transcode.Workers = runtime.NumCPU()
	}
	if c.Transcode.PollIntervalMS <= 0 {
		c.Transcode.PollIntervalMS = defaultPollIntervalMS
	}
	if c.Transcode.JobTimeoutSeconds < 0 {
		c.Transcode.JobTimeoutSeconds = 0
	}
	c.Transcode.CopyPattern = strings.TrimSpace(c.Transcode.CopyPattern)
}

func (c *Config) normalizeTools() {
	c.Tools.Flac = fallback(c.Tools.Flac, defaultFlacBinary)
	c.Tools.Lame = fallback(c.Tools.Lame, defaultLameBinary)
	c.Tools.Metaflac = fallback(c.Tools.Metaflac, defaultMetaflacBinary)
	c.Tools.File = fallback(c.Tools.File, defaultFileBinary)
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(fallback(c.Logging.Format, defaultLogFormat))
	c.Logging.Level = strings.ToLower(fallback(c.Logging.Level, defaultLogLevel))
	if strings.TrimSpace(c.Logging.File) != "" {
		path, err := expandPath(strings.TrimSpace(c.Logging.File))
		if err != nil {
			return fmt.Errorf("logging.file: %w", err)
		}
		c.Logging.File = path
	}
	return nil
}

func fallback(value, def string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	return value
}
