// Package config loads daemon settings from defaults, a TOML file, env and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. APPFREEZE_RULES_PATH.
const EnvPrefix = "APPFREEZE"

// Config holds application configuration.
type Config struct {
	Rules   RulesConfig   `mapstructure:"rules"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
	Focus   FocusConfig   `mapstructure:"focus"`
	Log     LogConfig     `mapstructure:"log"`
	API     APIConfig     `mapstructure:"api"`
	Journal JournalConfig `mapstructure:"journal"`
}

// RulesConfig locates the blacklist file.
type RulesConfig struct {
	Path         string        `mapstructure:"path"`
	Watch        bool          `mapstructure:"watch"`
	DefaultDelay time.Duration `mapstructure:"default_delay"`
}

// DaemonConfig holds runtime state locations.
type DaemonConfig struct {
	DataDir           string        `mapstructure:"data_dir"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// FocusConfig tunes the frontmost-app poller.
type FocusConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LogConfig selects log destination and verbosity.
type LogConfig struct {
	Path  string `mapstructure:"path"`
	Debug bool   `mapstructure:"debug"`
}

// APIConfig controls the local HTTP control surface.
type APIConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// JournalConfig toggles the crash-recovery journal.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"rules":    "rules.path",
	"debug":    "log.debug",
	"api-addr": "api.addr",
	"data-dir": "daemon.data_dir",
}

// Load reads configuration. Precedence: changed flags, env (APPFREEZE_*), config file, defaults.
// flags may be nil.
func Load(flags *pflag.FlagSet) (Config, error) {
	home, _ := os.UserHomeDir()
	v := viper.New()

	// default values
	v.SetDefault("rules.path", filepath.Join(home, "blacklist.json"))
	v.SetDefault("rules.watch", true)
	v.SetDefault("rules.default_delay", "30s")
	v.SetDefault("daemon.data_dir", filepath.Join(home, ".appfreeze"))
	v.SetDefault("daemon.heartbeat_interval", "30s")
	v.SetDefault("focus.poll_interval", "500ms")
	v.SetDefault("log.path", "/var/tmp/appfreeze.log")
	v.SetDefault("log.debug", false)
	v.SetDefault("api.addr", "127.0.0.1:7780")
	v.SetDefault("api.enabled", true)
	v.SetDefault("journal.enabled", true)

	v.SetConfigType("toml")

	cfgPath := os.Getenv(EnvPrefix + "_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(home, ".config", "appfreeze"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	// read config file if present
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	c.Rules.Path = expandHome(c.Rules.Path, home)
	c.Daemon.DataDir = expandHome(c.Daemon.DataDir, home)
	c.Log.Path = expandHome(c.Log.Path, home)
	return c, c.validate()
}

func (c Config) validate() error {
	if c.Rules.Path == "" {
		return errors.New("rules.path must not be empty")
	}
	if c.Daemon.DataDir == "" {
		return errors.New("daemon.data_dir must not be empty")
	}
	if c.Rules.DefaultDelay < 0 {
		return fmt.Errorf("rules.default_delay must not be negative, got %s", c.Rules.DefaultDelay)
	}
	if c.Focus.PollInterval <= 0 {
		return fmt.Errorf("focus.poll_interval must be positive, got %s", c.Focus.PollInterval)
	}
	if c.Daemon.HeartbeatInterval <= 0 {
		return fmt.Errorf("daemon.heartbeat_interval must be positive, got %s", c.Daemon.HeartbeatInterval)
	}
	return nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
