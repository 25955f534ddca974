package config

import "errors"

// ErrConfigNotFound indicates the TOML config file path given on the
// command line does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")
