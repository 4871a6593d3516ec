// Package config provides YAML configuration loading for loom-gateway,
// including environment variable expansion, duration parsing, defaulting,
// and validation of the session, memory, and streaming limits.
package config
