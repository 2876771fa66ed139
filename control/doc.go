// Package control
// Author: momentics <momentics@gmail.com>
//
// Process-level control surface for the engine: TOML configuration,
// structured logging, Prometheus metrics and debug probes.
//
// The protocol core never depends on this package; shards and the
// command wire it in.
package control
