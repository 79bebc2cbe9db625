// Package config loads the process configuration.
//
// Precedence: explicit config file > TRANSFERD_* environment variables >
// built-in defaults. The loaded Config is constructed once at startup and
// injected into components; nothing reads viper after Load returns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// StoreConfig holds job store settings.
type StoreConfig struct {
	Root string `mapstructure:"root"`
}

// MediaConfig holds upload destination settings.
type MediaConfig struct {
	// Dir is the final media destination directory served to players.
	Dir string `mapstructure:"dir"`
	// ScratchDir holds per-job chunk scratch subdirectories.
	ScratchDir string `mapstructure:"scratch_dir"`
	// AllowedPatterns are doublestar globs matched (case-insensitively)
	// against sanitized upload filenames, e.g. "*.{mp4,mkv,webm}".
	AllowedPatterns []string `mapstructure:"allowed_patterns"`
}

// DownloaderConfig holds external downloader settings.
type DownloaderConfig struct {
	Binary        string `mapstructure:"binary"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

// Config is the root configuration object.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Store      StoreConfig      `mapstructure:"store"`
	Media      MediaConfig      `mapstructure:"media"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	// Retention prunes terminal job records older than this age; zero
	// disables pruning entirely.
	Retention time.Duration `mapstructure:"retention"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")

	v.SetDefault("store.root", "data/jobs")

	v.SetDefault("media.dir", "media")
	v.SetDefault("media.scratch_dir", "data/scratch")
	v.SetDefault("media.allowed_patterns", []string{"*.mp4", "*.mkv", "*.webm", "*.mov", "*.jpg", "*.jpeg", "*.png"})

	v.SetDefault("downloader.binary", "yt-dlp")
	v.SetDefault("downloader.max_concurrent", 2)

	v.SetDefault("retention", "0s")
}

// Load builds the Config. cfgFile may be empty, in which case an optional
// transferd.yaml in the working directory is used if present.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRANSFERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("transferd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Downloader.MaxConcurrent < 1 {
		return fmt.Errorf("downloader.max_concurrent must be at least 1, got %d", c.Downloader.MaxConcurrent)
	}
	if strings.TrimSpace(c.Store.Root) == "" {
		return fmt.Errorf("store.root is required")
	}
	if strings.TrimSpace(c.Media.Dir) == "" {
		return fmt.Errorf("media.dir is required")
	}
	if strings.TrimSpace(c.Media.ScratchDir) == "" {
		return fmt.Errorf("media.scratch_dir is required")
	}
	if strings.TrimSpace(c.Downloader.Binary) == "" {
		return fmt.Errorf("downloader.binary is required")
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	return nil
}
