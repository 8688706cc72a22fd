package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the per-run settings the core components read once at startup.
type Config struct {
	MaxWorkers   int      `mapstructure:"max_workers"`
	Extensions   []string `mapstructure:"extensions"`
	ScanDir      string   `mapstructure:"scan_dir"`
	VaultDir     string   `mapstructure:"vault_dir"`
	ShowProgress bool     `mapstructure:"show_progress"`
	Logging      struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
	Mirror struct {
		Endpoint  string `mapstructure:"endpoint"`
		Bucket    string `mapstructure:"bucket"`
		Folder    string `mapstructure:"folder"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		Secure    bool   `mapstructure:"secure"`
	} `mapstructure:"mirror"`
}

// Load reads configuration from configPath. A missing file is not an error:
// defaults apply, and flags can still override everything per run.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetDefault("max_workers", 4)
	v.SetDefault("extensions", []string{".jpg", ".jpeg", ".bmp", ".raw"})
	v.SetDefault("show_progress", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("mirror.secure", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 4
	}
	return &cfg, nil
}

// ExtensionSet returns the recognized image extensions as a lowercase lookup
// set, dots included.
func (c *Config) ExtensionSet() map[string]bool {
	set := make(map[string]bool, len(c.Extensions))
	for _, ext := range c.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}
