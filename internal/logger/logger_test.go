package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(mut func(*Config)) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	config := DefaultConfig()
	config.Output = &buf
	config.Timestamp = false
	if mut != nil {
		mut(config)
	}
	return New(config), &buf
}

func TestLogger_Levels(t *testing.T) {
	l, buf := newBufferLogger(nil)
	log := l.WithComponent(ComponentApp)

	log.Debug("This should not appear")
	log.Info("This should appear")
	log.Warn("This should appear")
	log.Error("This should appear")

	output := buf.String()
	if strings.Contains(output, "This should not appear") {
		t.Error("DEBUG message should be filtered out")
	}
	if got := strings.Count(output, "This should appear"); got != 3 {
		t.Errorf("expected 3 lines, got %d", got)
	}
}

func TestLogger_Components(t *testing.T) {
	l, buf := newBufferLogger(nil)

	l.WithComponent(ComponentCapture).Info("Capture message")
	l.WithComponent(ComponentClient).Info("Client message")

	output := buf.String()
	if !strings.Contains(output, "[capture] Capture message") {
		t.Errorf("capture message missing: %q", output)
	}
	if strings.Contains(output, "Client message") {
		t.Error("client is off by default")
	}

	l.EnableComponent(ComponentClient)
	l.WithComponent(ComponentClient).Info("Client message")
	if !strings.Contains(buf.String(), "Client message") {
		t.Error("client should log once enabled")
	}
}

func TestLogger_JSON(t *testing.T) {
	l, buf := newBufferLogger(func(c *Config) { c.Format = FormatJSON })

	l.WithComponent(ComponentBrowser).Warn("start failed", Fields{
		"attempt": 2,
		"err":     errors.New("user data directory is already in use"),
	})

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if got["level"] != "WARN" {
		t.Errorf("level = %v", got["level"])
	}
	if got["component"] != "browser" {
		t.Errorf("component = %v", got["component"])
	}
	fields, _ := got["fields"].(map[string]interface{})
	if fields["err"] != "user data directory is already in use" {
		t.Errorf("error field not rendered as text: %v", fields["err"])
	}
}

func TestLogger_FieldsSorted(t *testing.T) {
	l, buf := newBufferLogger(nil)
	l.WithComponent(ComponentApp).Info("room", Fields{"url": "https://www.douyu.com/1", "index": 3, "category": "星秀"})

	want := "[INFO] [app] room category=星秀 index=3 url=https://www.douyu.com/1"
	if got := strings.TrimSpace(buf.String()); got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}

func TestLogger_With(t *testing.T) {
	l, buf := newBufferLogger(nil)
	log := l.WithComponent(ComponentSite).With(Fields{"site": "huya"})
	log.Info("picked", Fields{"quality": "蓝光8M"})

	out := buf.String()
	if !strings.Contains(out, "site=huya") || !strings.Contains(out, "quality=蓝光8M") {
		t.Errorf("merged fields missing: %q", out)
	}
}

func TestLogger_Timestamp(t *testing.T) {
	l, buf := newBufferLogger(func(c *Config) { c.Timestamp = true })
	l.WithComponent(ComponentApp).Info("Test message")

	prefix := time.Now().Format("2006-01-02")
	if !strings.HasPrefix(buf.String(), prefix) {
		t.Errorf("timestamp missing: %q", buf.String())
	}
}

func TestLogger_Caller(t *testing.T) {
	l, buf := newBufferLogger(func(c *Config) { c.ShowCaller = true })
	l.WithComponent(ComponentApp).Info("Test message")

	if !strings.Contains(buf.String(), "(logger_test.go:") {
		t.Errorf("caller missing: %q", buf.String())
	}
}

func TestGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	log := WithComponent(ComponentProfile)

	l, buf := newBufferLogger(nil)
	SetGlobalLogger(l)
	log.Info("Global logger test")

	if !strings.Contains(buf.String(), "Global logger test") {
		t.Error("component logger should follow the global logger")
	}
}

func TestLogger_Concurrency(t *testing.T) {
	l, buf := newBufferLogger(nil)
	log := l.WithComponent(ComponentApp)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			log.Info("Concurrent message", Fields{"goroutine": i})
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10 {
		t.Errorf("Expected 10 log lines, got %d", len(lines))
	}
}

func TestLevel_String(t *testing.T) {
	expected := map[Level]string{
		TRACE: "TRACE",
		DEBUG: "DEBUG",
		INFO:  "INFO",
		WARN:  "WARN",
		ERROR: "ERROR",
		42:    "LEVEL(42)",
	}
	for level, name := range expected {
		if level.String() != name {
			t.Errorf("Level %d should be %s, got %s", int(level), name, level.String())
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLevel:      "debug",
		EnvFormat:     "json",
		EnvOutput:     "stderr",
		EnvCaller:     "1",
		EnvTimestamp:  "false",
		EnvComponents: "capture, Profile",
	}
	c := DefaultLogConfig().ApplyEnv(func(k string) string { return env[k] })

	if c.Level != "debug" || c.Format != "json" || c.Output != "stderr" {
		t.Errorf("unexpected config %+v", c)
	}
	if !c.ShowCaller || c.Timestamp {
		t.Errorf("bool overrides not applied: %+v", c)
	}
	if len(c.Components) != 2 || !c.Components["capture"] || !c.Components["profile"] {
		t.Errorf("components = %v", c.Components)
	}

	all := DefaultLogConfig().ApplyEnv(func(k string) string {
		if k == EnvComponents {
			return "all"
		}
		return ""
	})
	if len(all.Components) != len(AllComponents) {
		t.Errorf("all should enable %d components, got %v", len(AllComponents), all.Components)
	}
}

func TestLogConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mut     func(*LogConfig)
		wantErr bool
	}{
		{name: "defaults", mut: func(*LogConfig) {}},
		{name: "bad level", mut: func(c *LogConfig) { c.Level = "LOUD" }, wantErr: true},
		{name: "bad format", mut: func(c *LogConfig) { c.Format = "xml" }, wantErr: true},
		{name: "bad output", mut: func(c *LogConfig) { c.Output = "syslog" }, wantErr: true},
		{name: "empty file", mut: func(c *LogConfig) { c.Output = "file:" }, wantErr: true},
		{name: "file output", mut: func(c *LogConfig) { c.Output = "file:/tmp/x.log" }},
		{name: "bad size", mut: func(c *LogConfig) { c.Rotation.MaxSize = "12XB" }, wantErr: true},
		{name: "bad age", mut: func(c *LogConfig) { c.Rotation.MaxAge = "3w" }, wantErr: true},
		{name: "negative backups", mut: func(c *LogConfig) { c.Rotation.MaxBackups = -1 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultLogConfig()
			tt.mut(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	if err := os.WriteFile(path, []byte(`{"level":"WARN","format":"color"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Level != "WARN" || c.Format != "color" {
		t.Errorf("unexpected %+v", c)
	}
	if c.Output != "stdout" {
		t.Errorf("unset fields should keep defaults, output=%q", c.Output)
	}
}

func TestBuild_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "livecap.log")
	c := DefaultLogConfig()
	c.Output = "file:" + path
	c.Timestamp = false

	l, closer, err := c.Build()
	if err != nil {
		t.Fatal(err)
	}
	l.WithComponent(ComponentApp).Info("to file")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[INFO] [app] to file") {
		t.Errorf("file content %q", data)
	}
}

func TestParseSizeAndDuration(t *testing.T) {
	sizes := map[string]int64{"": 0, "10": 10, "2KB": 2048, "5MB": 5 << 20, "1GB": 1 << 30}
	for in, want := range sizes {
		got, err := parseSize(in)
		if err != nil || got != want {
			t.Errorf("parseSize(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	durations := map[string]time.Duration{"": 0, "30s": 30 * time.Second, "15m": 15 * time.Minute, "12h": 12 * time.Hour, "7d": 7 * 24 * time.Hour}
	for in, want := range durations {
		got, err := parseDuration(in)
		if err != nil || got != want {
			t.Errorf("parseDuration(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := parseSize("MB"); err == nil {
		t.Error("expected error for size without number")
	}
}
