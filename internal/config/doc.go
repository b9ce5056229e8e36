// Package config loads the YAML configuration file, expanding ${VAR}
// references from the environment and parsing duration strings.
package config
