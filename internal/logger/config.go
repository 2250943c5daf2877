package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by EnvironmentConfig.
const (
	EnvLevel      = "LIVECAP_LOG_LEVEL"
	EnvFormat     = "LIVECAP_LOG_FORMAT"
	EnvOutput     = "LIVECAP_LOG_OUTPUT"
	EnvCaller     = "LIVECAP_LOG_CALLER"
	EnvTimestamp  = "LIVECAP_LOG_TIMESTAMP"
	EnvComponents = "LIVECAP_LOG_COMPONENTS"
)

// LogConfig is the serializable logging configuration.
type LogConfig struct {
	Level      string          `json:"level"`
	Format     string          `json:"format"`
	Output     string          `json:"output"`
	Components map[string]bool `json:"components"`
	ShowCaller bool            `json:"show_caller"`
	Timestamp  bool            `json:"timestamp"`
	Rotation   *RotationConfig `json:"rotation,omitempty"`
}

// RotationConfig controls rotation of "file:" outputs.
type RotationConfig struct {
	MaxSize    string `json:"max_size"` // "50MB", "1GB"
	MaxAge     string `json:"max_age"`  // "7d", "12h"
	MaxBackups int    `json:"max_backups"`
	Compress   bool   `json:"compress"`
}

// DefaultLogConfig returns the textual form of DefaultConfig.
func DefaultLogConfig() *LogConfig {
	def := DefaultConfig()
	comps := make(map[string]bool, len(def.Components))
	for c, on := range def.Components {
		comps[string(c)] = on
	}
	return &LogConfig{
		Level:      "INFO",
		Format:     "text",
		Output:     "stdout",
		Components: comps,
		ShowCaller: def.ShowCaller,
		Timestamp:  def.Timestamp,
		Rotation: &RotationConfig{
			MaxSize:    "50MB",
			MaxAge:     "7d",
			MaxBackups: 5,
			Compress:   true,
		},
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(filename string) (*LogConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultLogConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return config, nil
}

// EnvironmentConfig returns DefaultLogConfig overridden by LIVECAP_LOG_* variables.
func EnvironmentConfig() *LogConfig {
	return DefaultLogConfig().ApplyEnv(os.Getenv)
}

// ApplyEnv overrides fields from the given lookup and returns c.
func (c *LogConfig) ApplyEnv(getenv func(string) string) *LogConfig {
	if v := getenv(EnvLevel); v != "" {
		c.Level = v
	}
	if v := getenv(EnvFormat); v != "" {
		c.Format = v
	}
	if v := getenv(EnvOutput); v != "" {
		c.Output = v
	}
	if v := getenv(EnvCaller); v != "" {
		c.ShowCaller = parseBool(v)
	}
	if v := getenv(EnvTimestamp); v != "" {
		c.Timestamp = parseBool(v)
	}

	// A component list replaces the defaults; "all" turns everything on.
	if v := getenv(EnvComponents); v != "" {
		c.Components = make(map[string]bool)
		for _, comp := range strings.Split(v, ",") {
			comp = strings.TrimSpace(strings.ToLower(comp))
			switch comp {
			case "":
			case "all":
				for _, known := range AllComponents {
					c.Components[string(known)] = true
				}
			default:
				c.Components[comp] = true
			}
		}
	}

	return c
}

// ToLoggerConfig converts c to a Config writing to output.
func (c *LogConfig) ToLoggerConfig(output io.Writer) (*Config, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := parseFormat(c.Format)
	if err != nil {
		return nil, err
	}

	components := make(map[Component]bool, len(c.Components))
	for name, enabled := range c.Components {
		components[Component(name)] = enabled
	}

	return &Config{
		Level:      level,
		Format:     format,
		Output:     output,
		Components: components,
		ShowCaller: c.ShowCaller,
		Timestamp:  c.Timestamp,
	}, nil
}

// Validate checks every field without opening any file.
func (c *LogConfig) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid level: %w", err)
	}
	if _, err := parseFormat(c.Format); err != nil {
		return fmt.Errorf("invalid format: %w", err)
	}
	switch strings.ToLower(c.Output) {
	case "stdout", "stderr", "null", "none":
	default:
		if !strings.HasPrefix(c.Output, "file:") || strings.TrimPrefix(c.Output, "file:") == "" {
			return fmt.Errorf("invalid output: %q", c.Output)
		}
	}
	if c.Rotation != nil {
		if err := c.Rotation.Validate(); err != nil {
			return fmt.Errorf("invalid rotation config: %w", err)
		}
	}
	return nil
}

// Validate validates rotation configuration
func (r *RotationConfig) Validate() error {
	if _, err := parseSize(r.MaxSize); err != nil {
		return fmt.Errorf("invalid max_size: %w", err)
	}
	if _, err := parseDuration(r.MaxAge); err != nil {
		return fmt.Errorf("invalid max_age: %w", err)
	}
	if r.MaxBackups < 0 {
		return fmt.Errorf("max_backups must be non-negative")
	}
	return nil
}

// Build validates c and creates a Logger. File outputs rotate when
// c.Rotation is set. The returned closer releases the file, if any.
func (c *LogConfig) Build() (*Logger, io.Closer, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(c.Output) {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	case "null", "none":
		out = io.Discard
	default:
		path := strings.TrimPrefix(c.Output, "file:")
		if c.Rotation != nil {
			rw, err := NewRotatingWriterFromConfig(path, c.Rotation)
			if err != nil {
				return nil, nil, err
			}
			out, closer = rw, rw
		} else {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, nil, fmt.Errorf("open log file: %w", err)
			}
			out, closer = f, f
		}
	}

	cfg, err := c.ToLoggerConfig(out)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return New(cfg), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

func parseLevel(levelStr string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown level: %s", levelStr)
	}
}

func parseFormat(formatStr string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(formatStr)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "color", "colored":
		return FormatColor, nil
	default:
		return FormatText, fmt.Errorf("unknown format: %s", formatStr)
	}
}

// splitNumber splits "100MB" into 100 and "MB".
func splitNumber(s string) (int64, string, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", fmt.Errorf("no number found in %q", s)
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, "", err
	}
	return n, strings.TrimSpace(s[i:]), nil
}

// parseSize parses "100MB" style sizes. Empty means no limit.
func parseSize(sizeStr string) (int64, error) {
	if strings.TrimSpace(sizeStr) == "" {
		return 0, nil
	}
	n, unit, err := splitNumber(sizeStr)
	if err != nil {
		return 0, err
	}
	switch strings.ToUpper(unit) {
	case "B", "":
		return n, nil
	case "KB":
		return n << 10, nil
	case "MB":
		return n << 20, nil
	case "GB":
		return n << 30, nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}

// parseDuration parses "7d" style durations. Empty means no limit.
func parseDuration(durationStr string) (time.Duration, error) {
	if strings.TrimSpace(durationStr) == "" {
		return 0, nil
	}
	n, unit, err := splitNumber(durationStr)
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(unit) {
	case "s", "sec":
		return time.Duration(n) * time.Second, nil
	case "m", "min":
		return time.Duration(n) * time.Minute, nil
	case "h", "hour", "hours":
		return time.Duration(n) * time.Hour, nil
	case "d", "day", "days":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}
