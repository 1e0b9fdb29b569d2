package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: true
    path: ./logs/devsend.log
storage:
  driver: sqlite
  path: ./data/devsend.db
  busy_timeout: 5s
scheduler:
  workers: 4
  queue_size: 128
  default_timeout: 2m
  timezone: UTC
smtp:
  host: smtp.example.com
  port: 587
  username: apikey
  from_email: noreply@example.com
  from_name: Devsend
  max_retries: 3
  rate_per_sec: 10
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Workers != 4 || cfg.Scheduler.Timezone != "UTC" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.SMTP.Host != "smtp.example.com" || cfg.SMTP.Port != 587 {
		t.Fatalf("smtp = %+v", cfg.SMTP)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get returned a different config than Load committed")
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	t.Parallel()

	bad := strings.Replace(sampleYAML, "workers: 4", "workers: 4\n  retry_max: 9", 1)
	m := NewManager(writeConfig(t, "config.yaml", bad))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		old  string
		repl string
	}{
		{"missing smtp host", "host: smtp.example.com", "host: \"\""},
		{"bad timezone", "timezone: UTC", "timezone: Mars/Olympus"},
		{"bad timeout", "default_timeout: 2m", "default_timeout: soon"},
		{"negative workers", "workers: 4", "workers: -1"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, "config.yaml", strings.Replace(sampleYAML, tc.old, tc.repl, 1)))
			if _, err := m.Parse(); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()

	m := NewManager("unused")
	ch := m.Subscribe(1)
	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("no config delivered")
	}
	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("channel not closed after Unsubscribe")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{SMTP: SMTPConfig{Host: "a", Port: 587, FromEmail: "x@y.z"}}
	newCfg := &Config{SMTP: SMTPConfig{Host: "b", Port: 587, FromEmail: "x@y.z"}}
	newCfg.Scheduler.Workers = 8

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 2 || changed[0] != "scheduler" || changed[1] != "smtp" {
		t.Fatalf("changed = %v", changed)
	}

	if got, _ := SummarizeConfigChange(oldCfg, oldCfg); len(got) != 0 {
		t.Fatalf("no-op diff reported %v", got)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", "  "); err != nil || d != 0 {
		t.Fatalf("blank = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", 42); err != nil || d != 42 {
		t.Fatalf("default = %v, %v", d, err)
	}
}
