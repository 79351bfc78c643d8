// Package config provides configuration loading and validation for the voice
// assistant. Defaults are applied first, the YAML file is decoded over them,
// and every bound is checked before any component is constructed.
package config
