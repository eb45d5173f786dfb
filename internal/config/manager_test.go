package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "123:abc"
  poll_timeout: "15s"
admins:
  - 9000
  - 9001
timezone: "Europe/Moscow"
broadcast:
  batch_size: 10
  batch_delay: "500ms"
scheduler:
  poll_interval: "30s"
storage:
  path: "./data/bot.db"
logging:
  level: "debug"
  console: true
  file:
    enabled: false
    path: ""
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseValidYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Admins) != 2 || !cfg.IsAdmin(9001) || cfg.IsAdmin(5) {
		t.Fatalf("admins = %v", cfg.Admins)
	}
	if cfg.Broadcast.BatchSize != 10 {
		t.Fatalf("batch_size = %d", cfg.Broadcast.BatchSize)
	}
	if got := cfg.Location().String(); got != "Europe/Moscow" {
		t.Fatalf("location = %s", got)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	yaml := strings.Replace(validYAML, "timezone:", "timezoen:", 1)
	m := NewManager(writeConfig(t, "config.yaml", yaml))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("want error for unknown field")
	}
}

func TestValidateRequirements(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	cases := []struct {
		name   string
		mangle func(string) string
	}{
		{"missing token", func(s string) string { return strings.Replace(s, `token: "123:abc"`, `token: ""`, 1) }},
		{"no admins", func(s string) string {
			return strings.Replace(s, "admins:\n  - 9000\n  - 9001\n", "admins: []\n", 1)
		}},
		{"missing storage path", func(s string) string { return strings.Replace(s, `path: "./data/bot.db"`, `path: ""`, 1) }},
		{"bad timezone", func(s string) string { return strings.Replace(s, "Europe/Moscow", "Mars/Olympus", 1) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, "config.yaml", tc.mangle(validYAML)))
			if _, err := m.Parse(); err == nil {
				t.Fatalf("want validation error")
			}
		})
	}
}

func TestBotTokenEnvOverride(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	t.Setenv("BOT_TOKEN", "env-token")
	if got := cfg.BotToken(); got != "env-token" {
		t.Fatalf("token = %q, want env to win", got)
	}
	t.Setenv("BOT_TOKEN", "")
	if got := cfg.BotToken(); got != "123:abc" {
		t.Fatalf("token = %q, want file fallback", got)
	}
}

func TestTokenFromEnvOnly(t *testing.T) {
	yaml := strings.Replace(validYAML, `token: "123:abc"`, `token: ""`, 1)
	m := NewManager(writeConfig(t, "config.yaml", yaml))

	t.Setenv("BOT_TOKEN", "env-token")
	if _, err := m.Parse(); err != nil {
		t.Fatalf("parse with BOT_TOKEN set: %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"", time.Second, time.Second},
		{"  ", time.Second, time.Second},
		{"250ms", time.Second, 250 * time.Millisecond},
		{"2m", time.Second, 2 * time.Minute},
		{"nonsense", 5 * time.Second, 5 * time.Second},
		{"-3s", time.Second, time.Second},
	}
	for _, tc := range cases {
		if got := ParseDuration(tc.in, tc.def); got != tc.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLocationDefaultsToUTC(t *testing.T) {
	t.Parallel()
	c := &Config{}
	if got := c.Location(); got != time.UTC {
		t.Fatalf("location = %v, want UTC", got)
	}
}
