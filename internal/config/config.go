// Package config loads server configuration from defaults, an optional YAML
// file, the environment and command-line overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "KNJIZNICA_"

// ConfigFileEnv names the variable holding the config file path.
const ConfigFileEnv = EnvPrefix + "CONFIG_FILE"

type Config struct {
	DatabasePath         string        `koanf:"database_path" default:"knjiznica.db" validate:"required"`
	ServerAddr           string        `koanf:"server_addr" default:":8080" validate:"required"`
	LogPath              string        `koanf:"log_path"`
	AdminUsername        string        `koanf:"admin_username" default:"admin" validate:"required"`
	BusyTimeout          time.Duration `koanf:"busy_timeout" default:"5s" validate:"gte=0"`
	BorrowMaxAttempts    int           `koanf:"borrow_max_attempts" default:"4" validate:"min=1,max=20"`
	BorrowRetryBaseDelay time.Duration `koanf:"borrow_retry_base_delay" default:"10ms" validate:"gte=0"`
}

// Load builds the configuration. path selects the YAML file; when empty the
// path is taken from KNJIZNICA_CONFIG_FILE. A missing file is not an error.
// overrides are applied last, keyed by the koanf field names.
func Load(path string, overrides map[string]any) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying config defaults: %w", err)
	}

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("applying override %s: %w", key, err)
		}
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envKey maps KNJIZNICA_DATABASE_PATH to database_path.
func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}
