// Package config defines the runtime configuration for the bot and
// loads it from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Transport names accepted by Config.Transport.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Config holds everything needed to run one session. It is read-only
// after loading.
type Config struct {
	Server    string
	Port      int
	Nick      string
	RealName  string
	Channels  []string
	Transport string
	UseTLS    bool
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server:    "irc.libera.chat",
		Port:      6667,
		Nick:      "toybot",
		RealName:  "toy irc bot",
		Transport: TransportTCP,
	}
}

type fileConfig struct {
	Server    string   `toml:"server"`
	Port      int      `toml:"port"`
	Nick      string   `toml:"nick"`
	RealName  string   `toml:"realname"`
	Channels  []string `toml:"channels"`
	Transport string   `toml:"transport"`
	UseTLS    bool     `toml:"tls"`
}

// Load reads the TOML file at path and overlays every key it defines
// onto the defaults. The result is validated before it is returned.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("server") {
		cfg.Server = strings.TrimSpace(raw.Server)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("nick") {
		cfg.Nick = strings.TrimSpace(raw.Nick)
	}
	if meta.IsDefined("realname") {
		cfg.RealName = raw.RealName
	}
	if meta.IsDefined("channels") {
		cfg.Channels = raw.Channels
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("tls") {
		cfg.UseTLS = raw.UseTLS
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the session cannot use.
func (c Config) Validate() error {
	if c.Server == "" {
		return errors.New("server must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if c.Nick == "" {
		return errors.New("nick must not be empty")
	}
	switch c.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}
