package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	DB          DBConfig          `mapstructure:"db"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Analyzers   []AnalyzerConfig  `mapstructure:"analyzers"`
	Development DevelopmentConfig `mapstructure:"development"`
}

type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
}

type DBConfig struct {
	URL string `mapstructure:"url"`
}

type CatalogConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// AnalyzerConfig describes one engine instance. A non-nil SSH block runs
// the command on a remote host.
type AnalyzerConfig struct {
	Command    []string          `mapstructure:"command"`
	MaxMultiPV int               `mapstructure:"max_multipv"`
	ShowPV     int               `mapstructure:"show_pv"`
	SSH        *SSHConfig        `mapstructure:"ssh"`
	UCIOptions map[string]string `mapstructure:"uci_options"`
}

type SSHConfig struct {
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
}

type DevelopmentConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Enable environment variables
	viper.SetEnvPrefix("KIBITZER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.static_dir", "./static")
	viper.SetDefault("db.url", "postgres://localhost:5432/kibitzer")
	viper.SetDefault("catalog.base_url", "https://lichess.org")
	viper.SetDefault("development.debug", false)
	viper.SetDefault("development.log_level", "info")

	// Read config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyAnalyzerDefaults(&cfg)

	return &cfg, nil
}

func applyAnalyzerDefaults(cfg *Config) {
	for i := range cfg.Analyzers {
		a := &cfg.Analyzers[i]
		if a.MaxMultiPV < 1 {
			a.MaxMultiPV = 1
		}
		if a.ShowPV < 1 {
			a.ShowPV = 2
		}
	}
}
