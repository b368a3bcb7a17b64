// Package config loads application settings from ZCANIC_-prefixed environment
// variables and an optional config.yaml, applies defaults, and validates the
// result before any component is constructed.
package config
