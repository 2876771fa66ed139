// File: protocol/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Tunables for the upgrade parser and frame decoder.

package protocol

import "strings"

// Header names used by the handshake.
const (
	HeaderHost                = "Host"
	HeaderConnection          = "Connection"
	HeaderUpgrade             = "Upgrade"
	HeaderOrigin              = "Origin"
	HeaderSecWebSocketVersion = "Sec-WebSocket-Version"
	HeaderSecWebSocketKey     = "Sec-WebSocket-Key"
)

// HeaderRule describes one required request header.
type HeaderRule struct {
	Name string `toml:"name"`
	// Value, when set, must match the header value ignoring case.
	Value string `toml:"value"`
	// Token relaxes Value matching to membership in a comma-separated list,
	// e.g. "Connection: keep-alive, Upgrade".
	Token bool `toml:"token"`
}

// UpgradeConfig controls which handshakes are accepted.
type UpgradeConfig struct {
	Paths          []string
	Version        string
	Required       []HeaderRule
	Optional       []string
	MaxHeaderBytes int
}

// DefaultUpgradeConfig accepts "GET /ws HTTP/1.1" with the RFC 6455 header set.
func DefaultUpgradeConfig() *UpgradeConfig {
	return &UpgradeConfig{
		Paths:   []string{"/ws"},
		Version: "HTTP/1.1",
		Required: []HeaderRule{
			{Name: HeaderHost},
			{Name: HeaderConnection, Value: "Upgrade"},
			{Name: HeaderUpgrade, Value: "websocket"},
			{Name: HeaderOrigin},
			{Name: HeaderSecWebSocketVersion, Value: "13"},
			{Name: HeaderSecWebSocketKey},
		},
		Optional: []string{
			"Pragma",
			"Cache-Control",
			"User-Agent",
			"Accept-Encoding",
			"Accept-Language",
			"Sec-WebSocket-Extensions",
		},
		MaxHeaderBytes: MaxHandshakeHeadersSize,
	}
}

func (c *UpgradeConfig) acceptsPath(path string) bool {
	for _, p := range c.Paths {
		if p == path {
			return true
		}
	}
	return false
}

// IsOptional reports whether name is in the recognized optional header table.
func (c *UpgradeConfig) IsOptional(name string) bool {
	for _, o := range c.Optional {
		if strings.EqualFold(o, name) {
			return true
		}
	}
	return false
}

// Config bundles everything a Connection needs to build its sub-parsers.
type Config struct {
	Upgrade UpgradeConfig
	// MaxPayload bounds a single frame payload; 0 disables the check.
	MaxPayload uint64
	// StrictEmptyMask makes zero-length frames carry a mask key as RFC 6455 requires.
	StrictEmptyMask bool
}

// DefaultConfig returns the default upgrade table with no payload cap.
func DefaultConfig() *Config {
	return &Config{Upgrade: *DefaultUpgradeConfig()}
}

func (c *Config) newDecoder() *FrameDecoder {
	return NewFrameDecoder(
		WithMaxPayload(c.MaxPayload),
		WithStrictEmptyMask(c.StrictEmptyMask),
	)
}
