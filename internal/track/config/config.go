// Package config provides engine tuning configuration.
//
// Precedence, highest to lowest:
//  1. Environment variables (ALLOCTRACK_LEAK_AGE_THRESHOLD, ...)
//  2. Optional YAML file
//  3. Defaults
//
// Every knob is a heuristic tuning constant, not a correctness invariant: the
// severity byte thresholds and the leak-age default in particular are
// inherited from observed behavior and deliberately configurable.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// maxConfigFileSize bounds config file reads.
const maxConfigFileSize = 1 << 20

// Config holds the engine's tuning knobs.
type Config struct {
	// MaxStackFrames caps call-stack capture depth.
	MaxStackFrames int `koanf:"max_stack_frames"`

	// LeakAgeThreshold is the default age above which an active allocation
	// is reported as a potential leak.
	LeakAgeThreshold time.Duration `koanf:"leak_age_threshold"`

	// Severity byte thresholds: a cycle leaking strictly more than a
	// threshold takes that grade.
	SeverityCriticalBytes uint64 `koanf:"severity_critical_bytes"`
	SeverityHighBytes     uint64 `koanf:"severity_high_bytes"`
	SeverityMediumBytes   uint64 `koanf:"severity_medium_bytes"`

	// UncheckedPrefixes lists function-name prefixes whose stack frames are
	// flagged as manually-verified (unchecked) regions.
	UncheckedPrefixes []string `koanf:"unchecked_prefixes"`

	// AssessBoundaryRisk enables heuristic cross-boundary risk violations
	// from the boundary recorder.
	AssessBoundaryRisk bool `koanf:"assess_boundary_risk"`

	// FreedLedgerCap bounds the freed-address ledger; 0 means unbounded.
	FreedLedgerCap int `koanf:"freed_ledger_cap"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxStackFrames:        32,
		LeakAgeThreshold:      5 * time.Minute,
		SeverityCriticalBytes: 1 << 20,
		SeverityHighBytes:     64 << 10,
		SeverityMediumBytes:   4 << 10,
		UncheckedPrefixes:     []string{"unsafe.", "runtime.cgocall"},
		AssessBoundaryRisk:    true,
		FreedLedgerCap:        0,
	}
}

// Load builds a Config from defaults, an optional YAML file, and ALLOCTRACK_*
// environment variables, in ascending precedence.
//
// configPath may be empty (no file). A missing file at an explicit path is an
// error; callers that want "load if present" should stat first.
//
// Environment variables map to flat config keys by stripping the prefix and
// lowercasing: ALLOCTRACK_LEAK_AGE_THRESHOLD -> leak_age_threshold. Duration
// values use Go duration syntax ("90s", "5m").
func Load(configPath string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("ALLOCTRACK_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "ALLOCTRACK_"))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment config: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readConfigFile reads the file with a size bound, using the already-open
// descriptor for the stat to avoid a TOCTOU window.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validate rejects configurations that would disable detection semantics.
func (c Config) validate() error {
	if c.MaxStackFrames <= 0 {
		return fmt.Errorf("max_stack_frames must be positive, got %d", c.MaxStackFrames)
	}
	if c.LeakAgeThreshold <= 0 {
		return fmt.Errorf("leak_age_threshold must be positive, got %s", c.LeakAgeThreshold)
	}
	if c.SeverityMediumBytes >= c.SeverityHighBytes || c.SeverityHighBytes >= c.SeverityCriticalBytes {
		return fmt.Errorf("severity thresholds must be strictly increasing: medium=%d high=%d critical=%d",
			c.SeverityMediumBytes, c.SeverityHighBytes, c.SeverityCriticalBytes)
	}
	if c.FreedLedgerCap < 0 {
		return fmt.Errorf("freed_ledger_cap must be >= 0, got %d", c.FreedLedgerCap)
	}
	return nil
}
