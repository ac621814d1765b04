package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// DailyCapacityMinutes is the study time available on an ordinary eligible day.
	DailyCapacityMinutes int `json:"daily_capacity_minutes"`

	// CapacityOverrides replaces the daily capacity for specific dates ("2026-01-15": 30).
	// An override of 0 makes the day unusable without blacking it out.
	CapacityOverrides map[string]int `json:"capacity_overrides,omitempty"`

	// BlackoutWeekdays lists weekdays that are never scheduled ("saturday", "sunday").
	// Empty means every weekday is eligible.
	BlackoutWeekdays []string `json:"blackout_weekdays,omitempty"`

	// BlackoutDates lists individual dates (YYYY-MM-DD) that are never scheduled.
	BlackoutDates []string `json:"blackout_dates,omitempty"`

	// MaxAttempts bounds the scheduler's verify-and-retry loop.
	MaxAttempts int `json:"max_attempts"`

	// OptionalCompression scales optional-tier effort on the last retry attempt (0 < f <= 1).
	OptionalCompression float64 `json:"optional_compression"`

	// InvalidationMaxDepth bounds the dependency walk of a single invalidation cascade.
	InvalidationMaxDepth int `json:"invalidation_max_depth"`

	// ScanIgnore is a list of glob patterns (matched against the base name and the
	// relative path) that scans skip. Hidden files and directories are always skipped.
	ScanIgnore []string `json:"scan_ignore,omitempty"`

	// AllowedPaths is an allowlist of directories for import/export operations.
	// Paths outside ~/.syllabus/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for import/export.
	// When true, any directory is allowed (but symlink and extension checks still apply).
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "source", "artifact", "inventory", "plan".
	DisabledTypes []string `json:"disabled_types,omitempty"`

	// LogLevel is the minimum slog level: "debug", "info", "warn" or "error".
	LogLevel string `json:"log_level,omitempty"`

	// MetricsTextfile, when set, is where the metrics registry is written after
	// each CLI command (node_exporter textfile format).
	MetricsTextfile string `json:"metrics_textfile,omitempty"`

	// PipelineWorkers bounds how many sources are processed concurrently.
	PipelineWorkers int `json:"pipeline_workers"`

	// PipelineRatePerSecond paces processor calls. 0 means unlimited.
	PipelineRatePerSecond float64 `json:"pipeline_rate_per_second,omitempty"`

	// PipelineBreakerFailures is the number of consecutive processor failures
	// that opens the circuit breaker.
	PipelineBreakerFailures int `json:"pipeline_breaker_failures"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DailyCapacityMinutes:    90,
		MaxAttempts:             3,
		OptionalCompression:     0.5,
		InvalidationMaxDepth:    32,
		LogLevel:                "info",
		PipelineWorkers:         4,
		PipelineBreakerFailures: 5,
	}
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.DailyCapacityMinutes < 0 {
		return fmt.Errorf("daily_capacity_minutes must be >= 0, got %d", c.DailyCapacityMinutes)
	}
	for date, minutes := range c.CapacityOverrides {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return fmt.Errorf("capacity_overrides: invalid date %q", date)
		}
		if minutes < 0 {
			return fmt.Errorf("capacity_overrides[%s] must be >= 0, got %d", date, minutes)
		}
	}
	if _, err := c.Weekdays(); err != nil {
		return err
	}
	for _, date := range c.BlackoutDates {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return fmt.Errorf("blackout_dates: invalid date %q", date)
		}
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.OptionalCompression <= 0 || c.OptionalCompression > 1 {
		return fmt.Errorf("optional_compression must be in (0, 1], got %g", c.OptionalCompression)
	}
	if c.InvalidationMaxDepth < 1 {
		return fmt.Errorf("invalidation_max_depth must be >= 1, got %d", c.InvalidationMaxDepth)
	}
	for _, pattern := range c.ScanIgnore {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("scan_ignore: invalid pattern %q", pattern)
		}
	}
	if c.PipelineRatePerSecond < 0 {
		return fmt.Errorf("pipeline_rate_per_second must be >= 0, got %g", c.PipelineRatePerSecond)
	}
	return nil
}

// Weekdays resolves BlackoutWeekdays to time.Weekday values.
func (c *Config) Weekdays() ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(c.BlackoutWeekdays))
	for _, name := range c.BlackoutWeekdays {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("blackout_weekdays: unknown weekday %q", name)
		}
		out = append(out, wd)
	}
	return out, nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.syllabus.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.syllabus) and repo (.syllabus) directories.
// Repo config is found by walking upward from startDir to find the nearest .syllabus/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .syllabus/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".syllabus", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated;
// capacity overrides are merged per date with the overlay winning.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		DailyCapacityMinutes:    pickInt(base.DailyCapacityMinutes, overlay.DailyCapacityMinutes),
		MaxAttempts:             pickInt(base.MaxAttempts, overlay.MaxAttempts),
		InvalidationMaxDepth:    pickInt(base.InvalidationMaxDepth, overlay.InvalidationMaxDepth),
		DBMaxOpenConns:          pickInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns),
		DBMaxIdleConns:          pickInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns),
		PipelineWorkers:         pickInt(base.PipelineWorkers, overlay.PipelineWorkers),
		PipelineBreakerFailures: pickInt(base.PipelineBreakerFailures, overlay.PipelineBreakerFailures),
		OptionalCompression:     pickFloat(base.OptionalCompression, overlay.OptionalCompression),
		PipelineRatePerSecond:   pickFloat(base.PipelineRatePerSecond, overlay.PipelineRatePerSecond),
		LogLevel:                pickString(base.LogLevel, overlay.LogLevel),
		MetricsTextfile:         pickString(base.MetricsTextfile, overlay.MetricsTextfile),
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.BlackoutWeekdays = mergeStringSlice(base.BlackoutWeekdays, overlay.BlackoutWeekdays)
	result.BlackoutDates = mergeStringSlice(base.BlackoutDates, overlay.BlackoutDates)
	result.ScanIgnore = mergeStringSlice(base.ScanIgnore, overlay.ScanIgnore)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	if len(base.CapacityOverrides)+len(overlay.CapacityOverrides) > 0 {
		result.CapacityOverrides = make(map[string]int, len(base.CapacityOverrides)+len(overlay.CapacityOverrides))
		for k, v := range base.CapacityOverrides {
			result.CapacityOverrides[k] = v
		}
		for k, v := range overlay.CapacityOverrides {
			result.CapacityOverrides[k] = v
		}
	}

	return result
}

func pickInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickFloat(base, overlay float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(base, overlay string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
