package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Relay RelayConfig `mapstructure:"relay"`
	Agent AgentConfig `mapstructure:"agent"`
}

type RelayConfig struct {
	OfferLimit  int           `mapstructure:"offer_limit"`
	OfferWindow time.Duration `mapstructure:"offer_window"`
	SendQueue   int           `mapstructure:"send_queue"`
}

type AgentConfig struct {
	RelayURL    string `mapstructure:"relay_url"`
	UserID      string `mapstructure:"user_id"`
	AccessToken string `mapstructure:"access_token"`
	TokenEnv    string `mapstructure:"token_env"`
	AutoAnswer  bool   `mapstructure:"auto_answer"`
	Dial        string `mapstructure:"dial"`
	DialMedia   string `mapstructure:"dial_media"`

	RingTimeout     time.Duration   `mapstructure:"ring_timeout"`
	DisconnectGrace time.Duration   `mapstructure:"disconnect_grace"`
	Reconnect       bool            `mapstructure:"reconnect"`
	Backoff         []time.Duration `mapstructure:"backoff"`
	ICEServers      []string        `mapstructure:"ice_servers"`
	EventQueue      int             `mapstructure:"event_queue"`
}

var (
	ErrInvalidRingTimeout = errors.New("agent.ring_timeout must be positive")
	ErrInvalidGrace       = errors.New("agent.disconnect_grace must be positive")
	ErrEmptyBackoff       = errors.New("agent.backoff must not be empty when reconnect is on")
)

// Option tweaks the viper instance before the config is read.
type Option func(v *viper.Viper) error

// WithFlag binds a command line flag to a config key.
// Unset flags fall through to file, env and defaults.
func WithFlag(key string, f *pflag.Flag) Option {
	return func(v *viper.Viper) error {
		if f == nil {
			return fmt.Errorf("flag for %s not defined", key)
		}
		return v.BindPFlag(key, f)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3002)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("secret", "")

	v.SetDefault("relay.offer_limit", 10)
	v.SetDefault("relay.offer_window", "1m")
	v.SetDefault("relay.send_queue", 64)

	v.SetDefault("agent.relay_url", "ws://localhost:3002/api/ws/signal")
	v.SetDefault("agent.user_id", "")
	v.SetDefault("agent.access_token", "")
	v.SetDefault("agent.token_env", "DIAL_TOKEN")
	v.SetDefault("agent.auto_answer", false)
	v.SetDefault("agent.dial", "")
	v.SetDefault("agent.dial_media", "audio")
	v.SetDefault("agent.ring_timeout", "45s")
	v.SetDefault("agent.disconnect_grace", "15s")
	v.SetDefault("agent.reconnect", true)
	v.SetDefault("agent.backoff", []string{"1s", "2s", "5s", "10s", "30s"})
	v.SetDefault("agent.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("agent.event_queue", 256)
}

// Load reads config/config.<CONFIG_ENV>.yaml (or CONFIG_FILE), then DIAL_* env vars, then bound flags.
func Load(opts ...Option) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("DIAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, fmt.Errorf("failed to apply config option: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Agent.RingTimeout <= 0 {
		return ErrInvalidRingTimeout
	}
	if c.Agent.DisconnectGrace <= 0 {
		return ErrInvalidGrace
	}
	if c.Agent.Reconnect && len(c.Agent.Backoff) == 0 {
		return ErrEmptyBackoff
	}
	return nil
}
