// Package settings loads cstar's own tool settings (not the cluster file).
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. CSTAR_REDIS_ADDR.
const EnvPrefix = "CSTAR"

// Settings is the decoded settings document.
type Settings struct {
	Redis       Redis  `mapstructure:"redis"`
	Cache       Cache  `mapstructure:"cache"`
	Remote      Remote `mapstructure:"remote"`
	Ensure      Ensure `mapstructure:"ensure"`
	Concurrency int    `mapstructure:"concurrency"` // 0 means one task per node
	Log         Log    `mapstructure:"log"`
	Fleet       Fleet  `mapstructure:"fleet"`
}

// Redis locates the store for the build cache index and node states.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Cache controls the build cache.
type Cache struct {
	MaxBuilds int    `mapstructure:"max_builds"`
	BuildHost string `mapstructure:"build_host"` // Defaults to the first cluster host
}

// Remote describes the install layout on every host.
type Remote struct {
	Root string `mapstructure:"root"`
}

// Ensure is the readiness polling policy.
type Ensure struct {
	Retries int           `mapstructure:"retries"`
	Wait    time.Duration `mapstructure:"wait"`
	Settle  time.Duration `mapstructure:"settle"`
}

// Log selects the structured log output.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Fleet configures local container hosts.
type Fleet struct {
	Image   string   `mapstructure:"image"`
	Network string   `mapstructure:"network"`
	Ports   []string `mapstructure:"ports"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.max_builds", 10)
	v.SetDefault("cache.build_host", "")
	v.SetDefault("remote.root", "/opt/cstar")
	v.SetDefault("ensure.retries", 15)
	v.SetDefault("ensure.wait", "10s")
	v.SetDefault("ensure.settle", "15s")
	v.SetDefault("concurrency", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("fleet.image", "eclipse-temurin:11-jdk")
	v.SetDefault("fleet.network", "cstar-fleet")
	v.SetDefault("fleet.ports", "9042,7199")
}

// Load reads settings from path, or from cstar.yaml in the working directory
// and $HOME/.cstar when path is empty. A missing default file is not an
// error; a missing explicit file is.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cstar")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".cstar"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	var s Settings
	decoderConfig := func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
	if err := v.Unmarshal(&s, decoderConfig); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	if s.Cache.MaxBuilds < 1 {
		return fmt.Errorf("cache.max_builds must be >= 1, got %d", s.Cache.MaxBuilds)
	}
	if s.Ensure.Retries < 1 {
		return fmt.Errorf("ensure.retries must be >= 1, got %d", s.Ensure.Retries)
	}
	if s.Ensure.Wait < 0 || s.Ensure.Settle < 0 {
		return fmt.Errorf("ensure.wait and ensure.settle must not be negative")
	}
	if s.Concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0, got %d", s.Concurrency)
	}
	if s.Remote.Root == "" || !strings.HasPrefix(s.Remote.Root, "/") {
		return fmt.Errorf("remote.root must be an absolute path, got %q", s.Remote.Root)
	}
	switch s.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be 'json' or 'text', got %q", s.Log.Format)
	}
	return nil
}
