// Package config loads the obru runtime configuration from YAML files and
// environment variables, applying defaults for every key.
package config
