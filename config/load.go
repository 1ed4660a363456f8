package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/macrokit/macrokit/errors"
	"github.com/macrokit/macrokit/logger"
)

// Load reads the macrokit configuration using Viper.
// Search order: defaults, then config file (macrokit.toml in the working
// directory), then MACROKIT_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("MACROKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	v.SetConfigName("macrokit")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine - defaults and env vars apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config file")
		}
	} else {
		logger.Debugw("Config file loaded", "file", v.ConfigFileUsed())
	}

	return LoadWithViper(v)
}

// LoadWithViper loads configuration from a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// Default returns the configuration with all defaults applied and no file or
// environment overrides. Useful for tests and embedded use.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always unmarshal; a failure here is a programming error.
		panic(err)
	}
	return cfg
}
