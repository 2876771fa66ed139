// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Process configuration loaded from TOML.

package control

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap/zapcore"

	"github.com/momentics/uringws/protocol"
)

// maxShards follows from the 8-bit shard field of completion tokens.
const maxShards = 256

// Config is the full process configuration.
type Config struct {
	Listen        string `toml:"listen"`
	Shards        int    `toml:"shards"`
	MaxConns      int    `toml:"max_conns"`
	ReadBuffer    int    `toml:"read_buffer"`
	PinCPUs       bool   `toml:"pin_cpus"`
	MetricsListen string `toml:"metrics_listen"`

	Log     LogConfig     `toml:"log"`
	Upgrade UpgradeConfig `toml:"upgrade"`
	Frames  FrameConfig   `toml:"frames"`
}

// LogConfig selects level and destination. An empty File logs to stdout.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// UpgradeConfig is the handshake acceptance table.
type UpgradeConfig struct {
	Paths          []string              `toml:"paths"`
	HTTPVersion    string                `toml:"http_version"`
	MaxHeaderBytes int                   `toml:"max_header_bytes"`
	Required       []protocol.HeaderRule `toml:"required_headers"`
	Optional       []string              `toml:"optional_headers"`
}

// FrameConfig bounds inbound frames.
type FrameConfig struct {
	MaxPayload uint64 `toml:"max_payload"`

	// StrictEmptyMask reads the mask key of a zero-length masked frame
	// before emitting it, as RFC 6455 clients send it. The process default
	// enables it; protocol.FrameDecoder alone emits such frames right after
	// the length byte.
	StrictEmptyMask bool `toml:"strict_empty_mask"`
}

// Default returns a configuration usable without a file.
func Default() *Config {
	up := protocol.DefaultUpgradeConfig()
	shards := runtime.NumCPU()
	if shards > maxShards {
		shards = maxShards
	}
	return &Config{
		Listen:        ":9001",
		Shards:        shards,
		MaxConns:      65536,
		ReadBuffer:    16 << 10,
		MetricsListen: "127.0.0.1:9100",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Upgrade: UpgradeConfig{
			Paths:          up.Paths,
			HTTPVersion:    up.Version,
			MaxHeaderBytes: up.MaxHeaderBytes,
			Required:       up.Required,
			Optional:       up.Optional,
		},
		Frames: FrameConfig{
			MaxPayload:      16 << 20,
			StrictEmptyMask: true, // RFC 6455 framing; the decoder default differs
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return finish(cfg, md)
}

// Parse decodes TOML text over the defaults and validates the result.
func Parse(text string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(text, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return finish(cfg, md)
}

func finish(cfg *Config, md toml.MetaData) (*Config, error) {
	if keys := md.Undecoded(); len(keys) > 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys: %s", strings.Join(names, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Listen == "" {
		result = multierror.Append(result, fmt.Errorf("listen must be set"))
	}
	if c.Shards < 1 || c.Shards > maxShards {
		result = multierror.Append(result, fmt.Errorf("shards must be in [1, %d], got %d", maxShards, c.Shards))
	}
	if c.MaxConns < 1 {
		result = multierror.Append(result, fmt.Errorf("max_conns must be positive, got %d", c.MaxConns))
	}
	if c.ReadBuffer < 1 {
		result = multierror.Append(result, fmt.Errorf("read_buffer must be positive, got %d", c.ReadBuffer))
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		result = multierror.Append(result, fmt.Errorf("log.level: %w", err))
	}
	if len(c.Upgrade.Paths) == 0 {
		result = multierror.Append(result, fmt.Errorf("upgrade.paths must not be empty"))
	}
	for _, p := range c.Upgrade.Paths {
		if !strings.HasPrefix(p, "/") {
			result = multierror.Append(result, fmt.Errorf("upgrade.paths: %q must start with /", p))
		}
	}
	switch c.Upgrade.HTTPVersion {
	case "HTTP/1.0", "HTTP/1.1":
	default:
		result = multierror.Append(result, fmt.Errorf("upgrade.http_version: unsupported %q", c.Upgrade.HTTPVersion))
	}
	for i, h := range c.Upgrade.Required {
		if h.Name == "" {
			result = multierror.Append(result, fmt.Errorf("upgrade.required_headers[%d]: name must be set", i))
		}
	}
	return result.ErrorOrNil()
}

// Protocol converts the handshake and frame sections for protocol.Connection.
func (c *Config) Protocol() *protocol.Config {
	return &protocol.Config{
		Upgrade: protocol.UpgradeConfig{
			Paths:          append([]string(nil), c.Upgrade.Paths...),
			Version:        c.Upgrade.HTTPVersion,
			Required:       append([]protocol.HeaderRule(nil), c.Upgrade.Required...),
			Optional:       append([]string(nil), c.Upgrade.Optional...),
			MaxHeaderBytes: c.Upgrade.MaxHeaderBytes,
		},
		MaxPayload:      c.Frames.MaxPayload,
		StrictEmptyMask: c.Frames.StrictEmptyMask,
	}
}
