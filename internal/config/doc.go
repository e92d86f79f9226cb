// Package config defines the application configuration structure and
// loading logic. Configuration is sourced from defaults, an optional YAML
// file, and POIZON_SYNC_* environment variables, in increasing order of
// precedence, then validated before any component is constructed.
package config
