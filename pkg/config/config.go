// Package config loads the VAR coordinator's configuration from an optional
// TOML file plus environment variable overrides, the way
// ThirdCoastInteractive's configuration.go binds a flat mapstructure-tagged
// struct through viper, generalized here to the coordinator's nested
// [arena]/[db]/[server]/[hyperdeck]/[var] groups.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the shared prefix for every environment variable override,
// e.g. VARCOORD_ARENA_BASE_URL.
const EnvPrefix = "VARCOORD"

// ArenaConfig configures the Arena Client's session to the match-management
// server.
type ArenaConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Compat         bool          `mapstructure:"compat"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"min=0"`
}

// HyperdeckConfig configures the Recorder Client's session to the video
// recorder. The "hyperdeck" name is carried over from the original
// implementation's vendor-specific naming (see original_source/hyperdeck).
type HyperdeckConfig struct {
	BaseURL          string        `mapstructure:"base_url" validate:"required,url"`
	WebsocketURL     string        `mapstructure:"websocket_url" validate:"required"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay" validate:"min=0"`
	StopPollInterval time.Duration `mapstructure:"stop_poll_interval" validate:"min=0"`
	StopPollTimeout  time.Duration `mapstructure:"stop_poll_timeout" validate:"min=0"`
}

// VarConfig configures the Coordinator's event-annotation timing.
type VarConfig struct {
	AutoScoringDelaySec    float64 `mapstructure:"auto_scoring_delay_sec" validate:"min=0"`
	EndgameScoringDelaySec float64 `mapstructure:"endgame_scoring_delay_sec" validate:"min=0"`
	RecordingExtraTimeSec  float64 `mapstructure:"recording_extra_time_sec" validate:"min=0"`
	VarReviewBackdateSec   float64 `mapstructure:"var_review_backdate_sec" validate:"min=0"`
}

// DBConfig configures the persistence store.
type DBConfig struct {
	DataDir string `mapstructure:"data_dir" validate:"required"`
}

// ServerConfig configures the Operator Gateway's HTTP surface.
type ServerConfig struct {
	ListenAddr     string `mapstructure:"listen_addr" validate:"required"`
	StatusUsername string `mapstructure:"status_username"`
	StatusPassword string `mapstructure:"status_password"`
	StaticDir      string `mapstructure:"static_dir"`
}

// Config is the fully resolved, validated configuration.
type Config struct {
	Arena     ArenaConfig     `mapstructure:"arena"`
	Hyperdeck HyperdeckConfig `mapstructure:"hyperdeck"`
	Var       VarConfig       `mapstructure:"var"`
	DB        DBConfig        `mapstructure:"db"`
	Server    ServerConfig    `mapstructure:"server"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("arena.compat", false)
	v.SetDefault("arena.username", "admin")
	v.SetDefault("arena.reconnect_delay", 3*time.Second)

	v.SetDefault("hyperdeck.reconnect_delay", 3*time.Second)
	v.SetDefault("hyperdeck.stop_poll_interval", 250*time.Millisecond)
	v.SetDefault("hyperdeck.stop_poll_timeout", 5*time.Second)

	v.SetDefault("var.auto_scoring_delay_sec", 3.0)
	v.SetDefault("var.endgame_scoring_delay_sec", 3.0)
	v.SetDefault("var.recording_extra_time_sec", 2.0)
	v.SetDefault("var.var_review_backdate_sec", 0.0)

	v.SetDefault("db.data_dir", "./data")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.static_dir", "./static")
}

// Load reads configuration from configPath (a TOML file; empty means "rely
// on defaults and environment only"), applies VARCOORD_-prefixed
// environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(newEnvReplacer())

	setDefaults(v)

	// Keys without a default are unknown to viper until bound, and Unmarshal
	// only sees known keys; bind them so their env overrides take effect.
	for _, key := range []string{
		"arena.base_url", "arena.password",
		"hyperdeck.base_url", "hyperdeck.websocket_url",
		"server.status_username", "server.status_password",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
			}
			return nil, fmt.Errorf("read config file %q: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}
