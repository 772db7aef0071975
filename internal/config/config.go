package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration at <base>/config.toml.
type Config struct {
	APIID   int    `toml:"api_id"`
	APIHash string `toml:"api_hash"`
	Phone   string `toml:"phone"`

	// Sync defaults, overridable per invocation via flags.
	IgnoreChats    []int64 `toml:"ignore_chats"`
	IgnoreChannels bool    `toml:"ignore_channels"`
	Concurrency    int     `toml:"concurrency"`
	MediaDir       string  `toml:"media_dir"`
}

// Load reads config from path. A missing file yields a zero config
// without error; credentials are validated separately by Validate.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks that API credentials are present.
func (c *Config) Validate() error {
	if c.APIID == 0 || c.APIHash == "" {
		return errors.New("api_id and api_hash are required; get them at https://my.telegram.org and add them to config.toml")
	}
	return nil
}
