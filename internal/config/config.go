// Package config loads shelf configuration from file, environment, and
// defaults via viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings for the persistence layer and its shell.
type Config struct {
	// DBPath is the on-disk SQLite database path.
	DBPath string `mapstructure:"db_path"`

	// SpoolDir is the directory the daemon watches for payload files.
	SpoolDir string `mapstructure:"spool_dir"`

	// DashboardPort is the WebSocket dashboard port; 0 disables it.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile, when set, routes daemon logs through a rotating file
	// instead of stderr.
	LogFile string `mapstructure:"log_file"`

	// Debounce is how long a spool file must settle before it is applied.
	Debounce time.Duration `mapstructure:"debounce"`
}

// Load reads configuration from the given file (optional), the SHELF_*
// environment, and built-in defaults, in increasing precedence of
// env > file > defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db_path", filepath.Join(".shelf", "shelf.db"))
	v.SetDefault("spool_dir", filepath.Join(".shelf", "spool"))
	v.SetDefault("dashboard_port", 0)
	v.SetDefault("log_file", "")
	v.SetDefault("debounce", 100*time.Millisecond)

	v.SetEnvPrefix("SHELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
