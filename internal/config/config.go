// Copyright 2026 The Crawlvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the crawlvisord configuration via Viper.  Values
// come from, in increasing precedence: defaults, a config file, the
// environment (CRAWLVISOR_*), and command line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/spf13/viper"
)

// Keys, shared by the config file, the environment and flag bindings.
const (
	KeyListen      = "listen"
	KeyDescriptor  = "descriptor"
	KeyDir         = "dir"
	KeyName        = "name"
	KeyEnable      = "enable"
	KeyMaxConns    = "max_conns"
	KeyDevelopment = "development"
)

// Config holds the daemon settings.
type Config struct {
	Listen      string `mapstructure:"listen"`
	Descriptor  string `mapstructure:"descriptor"`
	Dir         string `mapstructure:"dir"`
	Name        string `mapstructure:"name"`
	Enable      bool   `mapstructure:"enable"`
	MaxConns    int    `mapstructure:"max_conns"`
	Development bool   `mapstructure:"development"`
}

// New returns a Viper instance with the defaults and the environment
// wired up.  Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CRAWLVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyListen, "127.0.0.1:8321")
	v.SetDefault(KeyDescriptor, "ecosystem.json")
	v.SetDefault(KeyDir, "")
	v.SetDefault(KeyName, "crawlvisord")
	v.SetDefault(KeyEnable, true)
	v.SetDefault(KeyMaxConns, 64)
	v.SetDefault(KeyDevelopment, false)
	return v
}

// Load reads the config file, if any, and returns the merged settings.
// With an empty path, crawlvisord.{yaml,json,toml} is looked for in the
// current directory, /etc/crawlvisor and $HOME/.crawlvisor; it is not an
// error if none exists.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("crawlvisord")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/crawlvisor")
		v.AddConfigPath("$HOME/.crawlvisor")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings for consistency.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if c.Descriptor == "" {
		return errors.New("descriptor path is required")
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max_conns must be >= 0, got %d", c.MaxConns)
	}
	return nil
}
