// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, metrics and debug introspection for the link runtime.
//
// Provides:
//   - TOML configuration with defaults and reload hooks
//   - Prometheus metrics for connection lifecycle and traffic
//   - Named debug probes dumped on demand
package control
