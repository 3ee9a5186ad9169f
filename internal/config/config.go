// Package config loads rdt settings from layered TOML files and a project .env.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	// DirName is the per-user and per-project configuration directory.
	DirName = ".rdt"

	defaultSFCommand      = "sf"
	defaultCommandTimeout = 10 * time.Minute
	defaultLogLevel       = "info"

	envPrefix = "RDT_"
)

// Config stores runtime settings loaded from TOML and .env files.
type Config struct {
	TargetOrg      string
	SFCommand      string
	CommandTimeout time.Duration
	LogDir         string
	ReplayCommand  string
	LogLevel       string
	OTELEndpoint   string
}

type fileConfig struct {
	TargetOrg      *string     `toml:"target_org"`
	SFCommand      *string     `toml:"sf_command"`
	CommandTimeout *string     `toml:"command_timeout"`
	LogDir         *string     `toml:"log_dir"`
	ReplayCommand  *string     `toml:"replay_command"`
	LogLevel       *string     `toml:"log_level"`
	OTELEndpoint   *string     `toml:"otel_endpoint"`
	OTEL           *otelConfig `toml:"otel"`
}

type otelConfig struct {
	Endpoint *string `toml:"endpoint"`
}

// Load reads ~/.rdt/config.toml, overlays the project-local .rdt/config.toml,
// then applies RDT_* keys from the project .env file.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	return loadFrom(homeDir, workingDir)
}

func loadFrom(homeDir, workingDir string) (*Config, error) {
	cfg := defaults()

	paths := []string{
		filepath.Join(homeDir, DirName, "config.toml"),
		filepath.Join(workingDir, DirName, "config.toml"),
	}
	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := overlayFromEnvFile(&cfg, filepath.Join(workingDir, ".env")); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		SFCommand:      defaultSFCommand,
		CommandTimeout: defaultCommandTimeout,
		LogLevel:       defaultLogLevel,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	meta, err := toml.DecodeFile(path, &decoded)
	if err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("decode config file %q: unsupported key %q", path, undecoded[0].String())
	}

	applyStringOverride(&cfg.TargetOrg, decoded.TargetOrg)
	applyStringOverride(&cfg.SFCommand, decoded.SFCommand)
	applyStringOverride(&cfg.LogDir, decoded.LogDir)
	applyStringOverride(&cfg.ReplayCommand, decoded.ReplayCommand)
	applyStringOverride(&cfg.OTELEndpoint, decoded.OTELEndpoint)
	if decoded.OTEL != nil {
		applyStringOverride(&cfg.OTELEndpoint, decoded.OTEL.Endpoint)
	}
	if decoded.LogLevel != nil {
		level, err := parseLogLevel(*decoded.LogLevel, "log_level", path)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if decoded.CommandTimeout != nil {
		value, err := parseDuration(*decoded.CommandTimeout, "command_timeout", path)
		if err != nil {
			return err
		}
		cfg.CommandTimeout = value
	}

	return nil
}

// overlayFromEnvFile applies RDT_* keys from a dotenv file without touching
// the process environment.
func overlayFromEnvFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %q: %w", path, err)
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("read env file %q: %w", path, err)
	}

	for key, value := range values {
		if !strings.HasPrefix(key, envPrefix) {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimPrefix(key, envPrefix) {
		case "TARGET_ORG":
			cfg.TargetOrg = value
		case "SF_COMMAND":
			cfg.SFCommand = value
		case "LOG_DIR":
			cfg.LogDir = value
		case "REPLAY_COMMAND":
			cfg.ReplayCommand = value
		case "OTEL_ENDPOINT":
			cfg.OTELEndpoint = value
		case "LOG_LEVEL":
			level, err := parseLogLevel(value, key, path)
			if err != nil {
				return err
			}
			cfg.LogLevel = level
		case "COMMAND_TIMEOUT":
			timeout, err := parseDuration(value, key, path)
			if err != nil {
				return err
			}
			cfg.CommandTimeout = timeout
		}
	}
	return nil
}

func applyStringOverride(target *string, value *string) {
	if value == nil {
		return
	}
	*target = strings.TrimSpace(*value)
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s in %q: must be > 0", key, path)
	}
	return parsed, nil
}

func parseLogLevel(value, key, path string) (string, error) {
	level := strings.ToLower(strings.TrimSpace(value))
	switch level {
	case "debug", "info", "warn", "error":
		return level, nil
	default:
		return "", fmt.Errorf("parse %s in %q: unsupported level %q", key, path, value)
	}
}
