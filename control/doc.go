// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot-reload, runtime metrics and debug introspection layer
// of hioload-nat.
//
// Provides:
//   - Config loading with viper (file, HIOLOAD_NAT_* environment, defaults)
//     and validation with validator struct tags
//   - Reloader: config file watching and reload hooks
//   - SessionMetrics: Prometheus collectors for proxies and the NAT table
//   - DebugProbes and the operational HTTP handler
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
