package config

import (
	"testing"
	"time"
)

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	old := Getenv
	Getenv = func(key string) string { return values[key] }
	t.Cleanup(func() { Getenv = old })
}

func TestEnv_Fallbacks(t *testing.T) {
	withEnv(t, map[string]string{"SET": "value", "BLANK": "  "})

	if got := Env("SET", "default"); got != "value" {
		t.Fatalf("expected 'value', got %q", got)
	}
	if got := Env("BLANK", "default"); got != "default" {
		t.Fatalf("expected 'default', got %q", got)
	}
	if got := Env("MISSING", "default"); got != "default" {
		t.Fatalf("expected 'default', got %q", got)
	}
}

func TestEnvInt(t *testing.T) {
	withEnv(t, map[string]string{"N": "42", "BAD": "forty-two"})

	if got := EnvInt("N", 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := EnvInt("BAD", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestEnvBool(t *testing.T) {
	withEnv(t, map[string]string{"YES": "on", "NO": "0", "ODD": "maybe"})

	if !EnvBool("YES", false) {
		t.Fatal("expected true for 'on'")
	}
	if EnvBool("NO", true) {
		t.Fatal("expected false for '0'")
	}
	if !EnvBool("ODD", true) {
		t.Fatal("expected fallback for unparseable value")
	}
}

func TestEnvDuration(t *testing.T) {
	withEnv(t, map[string]string{"D": "90s"})

	if got := EnvDuration("D", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
	if got := EnvDuration("MISSING", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
}

func TestParseBytes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"256MiB", 256 << 20},
		{"1GiB", 1 << 30},
		{"2GB", 2_000_000_000},
		{"1.5GiB", 3 << 29},
	}
	for _, tc := range cases {
		got, err := ParseBytes(tc.in)
		if err != nil {
			t.Fatalf("ParseBytes(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseBytes(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	if _, err := ParseBytes("lots"); err == nil {
		t.Fatal("expected error for unparseable size")
	}
	if _, err := ParseBytes(""); err == nil {
		t.Fatal("expected error for empty size")
	}
}

func TestParseCSV(t *testing.T) {
	got := ParseCSV(" a, b ,,c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected result: %v", got)
	}
	if ParseCSV("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	withEnv(t, map[string]string{})

	cfg := FromEnv()
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg)
	}
	if cfg.Governor.MaxConcurrent != 4 || cfg.Governor.MaxQueueDepth != 256 {
		t.Fatalf("unexpected governor defaults: %+v", cfg.Governor)
	}
	if cfg.Ops.Enabled || cfg.Ops.Addr != ":9090" {
		t.Fatalf("unexpected ops defaults: %+v", cfg.Ops)
	}
}
