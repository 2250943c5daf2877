package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Discovery modes.
const (
	DiscoveryAuto    = "auto"
	DiscoveryHTTP    = "http"
	DiscoveryBrowser = "browser"
)

// Config holds every runtime setting of a capture run.
type Config struct {
	Site     string `json:"site" yaml:"site"`
	Category string `json:"category" yaml:"category"`
	Rooms    int    `json:"rooms" yaml:"rooms"`
	Rounds   int    `json:"rounds" yaml:"rounds"`

	Dwell      Duration `json:"dwell" yaml:"dwell"`
	Extra      Duration `json:"extra" yaml:"extra"`
	RoomPause  Duration `json:"room_pause" yaml:"room_pause"`
	RoundPause Duration `json:"round_pause" yaml:"round_pause"`

	Interface    string   `json:"interface" yaml:"interface"`
	Tshark       string   `json:"tshark" yaml:"tshark"`
	OutDir       string   `json:"out_dir" yaml:"out_dir"`
	CaptureGrace Duration `json:"capture_grace" yaml:"capture_grace"`
	CaptureKill  Duration `json:"capture_kill" yaml:"capture_kill"`

	ChromePath      string   `json:"chrome_path" yaml:"chrome_path"`
	UserDataDir     string   `json:"user_data_dir" yaml:"user_data_dir"`
	ProfileDir      string   `json:"profile_dir" yaml:"profile_dir"`
	Headless        bool     `json:"headless" yaml:"headless"`
	PageLoadTimeout Duration `json:"page_load_timeout" yaml:"page_load_timeout"`

	Retries      int      `json:"retries" yaml:"retries"`
	Backoff      Duration `json:"backoff" yaml:"backoff"`
	ProfileWait  Duration `json:"profile_wait" yaml:"profile_wait"`
	ReleaseWait  Duration `json:"release_wait" yaml:"release_wait"`
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval"`

	Qualities   []string `json:"qualities,omitempty" yaml:"qualities,omitempty"`
	RoomURLs    []string `json:"room_urls,omitempty" yaml:"room_urls,omitempty"`
	Discovery   string   `json:"discovery" yaml:"discovery"`
	HTTPTimeout Duration `json:"http_timeout" yaml:"http_timeout"`
	Proxy       string   `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	RulesFile   string   `json:"rules_file,omitempty" yaml:"rules_file,omitempty"`
	StatusAddr  string   `json:"status_addr,omitempty" yaml:"status_addr,omitempty"`
}

// Default returns the settings the capture scripts have always used.
func Default() Config {
	return Config{
		Rooms:           8,
		Dwell:           Duration(60 * time.Second),
		Extra:           Duration(5 * time.Second),
		RoomPause:       Duration(2 * time.Second),
		RoundPause:      Duration(time.Second),
		Interface:       DefaultInterface(),
		Tshark:          "tshark",
		OutDir:          "captures",
		CaptureGrace:    Duration(15 * time.Second),
		CaptureKill:     Duration(5 * time.Second),
		PageLoadTimeout: Duration(60 * time.Second),
		Retries:         4,
		Backoff:         Duration(1200 * time.Millisecond),
		ProfileWait:     Duration(8 * time.Second),
		ReleaseWait:     Duration(12 * time.Second),
		PollInterval:    Duration(250 * time.Millisecond),
		Discovery:       DiscoveryAuto,
		HTTPTimeout:     Duration(20 * time.Second),
	}
}

// DefaultInterface is "WLAN" on Windows, where the scripts were born, and
// the tshark pseudo-interface "any" elsewhere.
func DefaultInterface() string {
	if runtime.GOOS == "windows" {
		return "WLAN"
	}
	return "any"
}

// Load returns Default overlaid with the config file at path, if any, and then
// with LIVECAP_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return cfg, err
		}
	}
	return cfg.ApplyEnv(os.Getenv), nil
}

// MergeFile overlays the fields present in a JSON or, by extension, YAML
// file.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays LIVECAP_* variables read through getenv.
func (c Config) ApplyEnv(getenv func(string) string) Config {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}
	c.Site = get("LIVECAP_SITE", c.Site)
	c.Category = get("LIVECAP_CATEGORY", c.Category)
	c.Rooms = getInt(getenv, "LIVECAP_ROOMS", c.Rooms)
	c.Rounds = getInt(getenv, "LIVECAP_ROUNDS", c.Rounds)
	c.Dwell = getDuration(getenv, "LIVECAP_DWELL", c.Dwell)
	c.Extra = getDuration(getenv, "LIVECAP_EXTRA", c.Extra)
	c.Interface = get("LIVECAP_IFACE", c.Interface)
	c.Tshark = get("LIVECAP_TSHARK", c.Tshark)
	c.OutDir = get("LIVECAP_OUT", c.OutDir)
	c.ChromePath = get("LIVECAP_CHROME", c.ChromePath)
	c.UserDataDir = get("LIVECAP_USER_DATA_DIR", c.UserDataDir)
	c.ProfileDir = get("LIVECAP_PROFILE_DIR", c.ProfileDir)
	if v := get("LIVECAP_HEADLESS", ""); v != "" {
		c.Headless, _ = strconv.ParseBool(v)
	}
	c.Retries = getInt(getenv, "LIVECAP_RETRIES", c.Retries)
	c.Discovery = get("LIVECAP_DISCOVERY", c.Discovery)
	c.RulesFile = get("LIVECAP_RULES", c.RulesFile)
	c.StatusAddr = get("LIVECAP_STATUS_ADDR", c.StatusAddr)
	c.Proxy = get("LIVECAP_PROXY", c.Proxy)
	if v := get("LIVECAP_QUALITIES", ""); v != "" {
		c.Qualities = SplitList(v)
	}
	if v := get("LIVECAP_ROOM_URLS", ""); v != "" {
		c.RoomURLs = SplitList(v)
	}
	return c
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Site) == "":
		return fmt.Errorf("site is required")
	case c.Rooms <= 0:
		return fmt.Errorf("rooms must be positive, got %d", c.Rooms)
	case c.Rounds < 0:
		return fmt.Errorf("rounds must not be negative, got %d", c.Rounds)
	case c.Dwell <= 0:
		return fmt.Errorf("dwell must be positive, got %s", c.Dwell)
	case c.Extra < 0:
		return fmt.Errorf("extra must not be negative, got %s", c.Extra)
	case c.Retries <= 0:
		return fmt.Errorf("retries must be positive, got %d", c.Retries)
	case strings.TrimSpace(c.Interface) == "":
		return fmt.Errorf("capture interface is required")
	case strings.TrimSpace(c.OutDir) == "":
		return fmt.Errorf("output directory is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Discovery)) {
	case DiscoveryAuto, DiscoveryHTTP, DiscoveryBrowser:
	default:
		return fmt.Errorf("unknown discovery mode %q", c.Discovery)
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("proxy must be a URL such as http://127.0.0.1:8080, got %q", c.Proxy)
		}
	}
	return nil
}

// CaptureDuration is how long tshark is told to run.
func (c Config) CaptureDuration() time.Duration {
	return c.Dwell.Std() + c.Extra.Std()
}

// SplitList splits a comma separated list and drops blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getInt(getenv func(string) string, key string, fallback int) int {
	value := strings.TrimSpace(getenv(key))
	if value == "" {
		return fallback
	}
	var out int
	_, err := fmt.Sscanf(value, "%d", &out)
	if err != nil || out < 0 {
		return fallback
	}
	return out
}

func getDuration(getenv func(string) string, key string, fallback Duration) Duration {
	value := strings.TrimSpace(getenv(key))
	if value == "" {
		return fallback
	}
	d, err := ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
