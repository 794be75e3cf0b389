package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validatePaths(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEncoder() error {
	if c.Encoder.VBRQuality > maxVBRQuality {
		return fmt.Errorf("encoder.vbr_quality must be between 0 and %d (negative disables it)", maxVBRQuality)
	}
	if strings.ContainsAny(c.Encoder.BadChars, "/") {
		return errors.New("encoder.bad_chars must not contain the path separator")
	}
	return nil
}

func (c *Config) validateTranscode() error {
	if c.Transcode.Workers < 0 {
		return errors.New("transcode.workers must not be negative")
	}
	if c.Transcode.PollIntervalMS > maxPollIntervalMS {
		return fmt.Errorf("transcode.poll_interval_ms must be at most %d", maxPollIntervalMS)
	}
	if c.Transcode.CopyPattern != "" {
		if _, err := regexp.Compile(c.Transcode.CopyPattern); err != nil {
			return fmt.Errorf("transcode.copy_pattern: %w", err)
		}
		if c.Paths.OutputDir == "" {
			return errors.New("transcode.copy_pattern requires paths.output_dir")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.RootDir != "" && c.Paths.OutputDir == "" {
		return errors.New("paths.root_dir only applies together with paths.output_dir")
	}
	if c.Paths.OutputDir != "" && c.Paths.RootDir != "" {
		sep := string(filepath.Separator)
		if c.Paths.OutputDir == c.Paths.RootDir || strings.HasPrefix(c.Paths.OutputDir+sep, c.Paths.RootDir+sep) {
			return errors.New("paths.output_dir must not be inside paths.root_dir")
		}
	}
	return nil
}

// CopyPatternRegexp compiles the configured copy pattern, returning nil when unset.
func (c *Config) CopyPatternRegexp() *regexp.Regexp {
	if c.Transcode.CopyPattern == "" {
		return nil
	}
	re, err := regexp.Compile(c.Transcode.CopyPattern)
	if err != nil {
		return nil
	}
	return re
}
