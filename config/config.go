package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Client struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"client"`
	Data struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"data"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Security struct {
		BcryptCost           int    `mapstructure:"bcrypt_cost"`
		DefaultAdminPassword string `mapstructure:"default_admin_password"`
	} `mapstructure:"security"`
	Ledger struct {
		HistoryLimit int `mapstructure:"history_limit"`
	} `mapstructure:"ledger"`
}

// New returns a viper instance with defaults, the BANK_ environment prefix and
// the config search path set. Callers bind flags on it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("client.addr", "127.0.0.1:8080")
	v.SetDefault("data.dir", "data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("security.bcrypt_cost", 10)
	v.SetDefault("security.default_admin_password", "root123")
	v.SetDefault("ledger.history_limit", 10)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file if there is one and decodes the result. A
// missing file is fine; a malformed one is not. file overrides the search path.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		return fmt.Errorf("config: security.bcrypt_cost %d out of range 4..31", c.Security.BcryptCost)
	}
	if c.Data.Dir == "" {
		return errors.New("config: data.dir is empty")
	}
	return nil
}
