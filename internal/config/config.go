// Package config defines all configuration for the game server.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via PIT_* environment variables, plus the PORT and CORS_ORIGIN
// variables honored for deployment compatibility.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Game    GameConfig    `mapstructure:"game"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
// An empty CORSOrigins allowlist permits all origins.
type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// GameConfig holds per-game defaults. Timer durations become each new game's
// immutable configuration unless the creating gamemaster overrides them.
//
//   - SpreadTimer: default Stage-1 length when the GM arms a timer.
//   - OpenTradingTimer: default Stage-4 length.
//   - NoTighterWindow: rolling window restarted by each accepted spread.
//   - StartingCash: per-player initial endowment.
type GameConfig struct {
	SpreadTimer      time.Duration `mapstructure:"spread_timer"`
	OpenTradingTimer time.Duration `mapstructure:"open_trading_timer"`
	NoTighterWindow  time.Duration `mapstructure:"no_tighter_window"`
	StartingCash     float64       `mapstructure:"starting_cash"`
}

// LimitsConfig throttles inbound frames per connection (token bucket).
type LimitsConfig struct {
	EventsPerSecond float64 `mapstructure:"events_per_second"`
	EventBurst      int     `mapstructure:"event_burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. A missing file
// is not an error: defaults apply, so the server runs with zero configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Deployment-level overrides
	if p := os.Getenv("PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", p, err)
		}
		cfg.Server.Port = port
	}
	if origins := os.Getenv("CORS_ORIGIN"); origins != "" {
		cfg.Server.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.CORSOrigins = append(cfg.Server.CORSOrigins, o)
			}
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("game.spread_timer", time.Minute)
	v.SetDefault("game.open_trading_timer", 2*time.Minute)
	v.SetDefault("game.no_tighter_window", 10*time.Second)
	v.SetDefault("game.starting_cash", 10_000.0)
	v.SetDefault("limits.events_per_second", 20.0)
	v.SetDefault("limits.event_burst", 40)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Game.SpreadTimer <= 0 {
		return fmt.Errorf("game.spread_timer must be > 0")
	}
	if c.Game.OpenTradingTimer <= 0 {
		return fmt.Errorf("game.open_trading_timer must be > 0")
	}
	if c.Game.NoTighterWindow <= 0 {
		return fmt.Errorf("game.no_tighter_window must be > 0")
	}
	if c.Game.StartingCash <= 0 {
		return fmt.Errorf("game.starting_cash must be > 0")
	}
	if c.Limits.EventsPerSecond <= 0 {
		return fmt.Errorf("limits.events_per_second must be > 0")
	}
	if c.Limits.EventBurst <= 0 {
		return fmt.Errorf("limits.event_burst must be > 0")
	}
	return nil
}
