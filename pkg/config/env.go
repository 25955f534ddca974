package config

import "strings"

// newEnvReplacer maps a viper key like "arena.base_url" to the environment
// variable suffix ARENA_BASE_URL, so the full override is
// VARCOORD_ARENA_BASE_URL.
func newEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}
