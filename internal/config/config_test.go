package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/replay-tools/rdt/test"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)
	test.Chdir(t, work)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.SFCommand != defaultSFCommand {
		t.Fatalf("sf_command = %q, want %q", cfg.SFCommand, defaultSFCommand)
	}
	if cfg.CommandTimeout != defaultCommandTimeout {
		t.Fatalf("command_timeout = %s, want %s", cfg.CommandTimeout, defaultCommandTimeout)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Fatalf("log_level = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.TargetOrg != "" || cfg.LogDir != "" || cfg.ReplayCommand != "" || cfg.OTELEndpoint != "" {
		t.Fatalf("unexpected non-empty defaults: %+v", cfg)
	}
}

func TestLoadOverlayProjectOverHome(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()

	test.WriteFile(t, filepath.Join(home, ".rdt", "config.toml"), `
target_org = "home-org"
sf_command = "/opt/sf/bin/sf"
command_timeout = "2m"
replay_command = "code --reuse-window"
`)

	test.WriteFile(t, filepath.Join(work, ".rdt", "config.toml"), `
target_org = "project-org"
log_dir = "tmp/logs"
log_level = "DEBUG"

[otel]
endpoint = "http://collector:4318"
`)

	cfg, err := loadFrom(home, work)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	want := Config{
		TargetOrg:      "project-org",
		SFCommand:      "/opt/sf/bin/sf",
		CommandTimeout: 2 * time.Minute,
		LogDir:         "tmp/logs",
		ReplayCommand:  "code --reuse-window",
		LogLevel:       "debug",
		OTELEndpoint:   "http://collector:4318",
	}
	if *cfg != want {
		t.Fatalf("config = %+v, want %+v", *cfg, want)
	}
}

func TestLoadEnvFileOverridesTOML(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()

	test.WriteFile(t, filepath.Join(work, ".rdt", "config.toml"), `target_org = "toml-org"`)
	test.WriteFile(t, filepath.Join(work, ".env"), strings.Join([]string{
		"RDT_TARGET_ORG=env-org",
		"RDT_COMMAND_TIMEOUT=45s",
		"RDT_LOG_LEVEL=warn",
		"UNRELATED=ignored",
	}, "\n"))

	cfg, err := loadFrom(home, work)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TargetOrg != "env-org" {
		t.Fatalf("target_org = %q, want env-org", cfg.TargetOrg)
	}
	if cfg.CommandTimeout != 45*time.Second {
		t.Fatalf("command_timeout = %s, want 45s", cfg.CommandTimeout)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log_level = %q, want warn", cfg.LogLevel)
	}
	if _, ok := os.LookupEnv("RDT_TARGET_ORG"); ok {
		t.Fatal("env file must not modify the process environment")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "bad duration", content: `command_timeout = "soon"`, wantErr: "parse command_timeout"},
		{name: "non-positive duration", content: `command_timeout = "0s"`, wantErr: "must be > 0"},
		{name: "bad level", content: `log_level = "trace"`, wantErr: "unsupported level"},
		{name: "unknown key", content: `wip_limit = 3`, wantErr: "unsupported key \"wip_limit\""},
		{name: "malformed", content: `target_org = `, wantErr: "decode config file"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			work := t.TempDir()
			test.WriteFile(t, filepath.Join(work, ".rdt", "config.toml"), tt.content)

			_, err := loadFrom(home, work)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
