package commands

import (
	"os"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk config at <home>/config.toml. Flags override it.
type fileConfig struct {
	ServerURL string `toml:"server_url"`
	AuthToken string `toml:"auth_token"`
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return fileConfig{}, err
	}
	return cfg, nil
}
