package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/Conference/internal/app/mixer"
	"github.com/dkeye/Conference/internal/domain"
)

type MediaNode struct {
	Enabled    bool     `mapstructure:"enabled"`
	Topologies []string `mapstructure:"topologies"`
}

// HostedTopologies parses Topologies. mcu is accepted but logged at error:
// the pion transport cannot send a composite.
func (m MediaNode) HostedTopologies() ([]domain.Topology, error) {
	out := make([]domain.Topology, 0, len(m.Topologies))
	for _, s := range m.Topologies {
		t, err := domain.ParseTopology(s)
		if err != nil {
			return nil, err
		}
		if !t.Hosted() {
			return nil, fmt.Errorf("media_node.topologies: %s rooms have no central unit", t)
		}
		if t == domain.TopologyMCU {
			log.Error().Str("module", "config").Msg("mcu hosting enabled without an encoder, mcu rooms will get no composite")
		}
		out = append(out, t)
	}
	return out, nil
}

type RateLimit struct {
	Joins    int           `mapstructure:"joins"`
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	ICEServers         []string      `mapstructure:"ice_servers"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	AutoCallDelay      time.Duration `mapstructure:"auto_call_delay"`
	DefaultTopology    string        `mapstructure:"default_topology"`

	MediaNode MediaNode     `mapstructure:"media_node"`
	Mixer     mixer.Options `mapstructure:"mixer"`
	RateLimit RateLimit     `mapstructure:"rate_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "conference-dev-secret")
	v.SetDefault("log_level", "info")

	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("negotiation_timeout", "30s")
	v.SetDefault("auto_call_delay", "3s")
	v.SetDefault("default_topology", "mesh")

	v.SetDefault("media_node.enabled", true)
	v.SetDefault("media_node.topologies", []string{"sfu"})

	m := mixer.DefaultOptions()
	v.SetDefault("mixer.tile_width", m.TileWidth)
	v.SetDefault("mixer.tile_height", m.TileHeight)
	v.SetDefault("mixer.frame_interval", m.FrameInterval)
	v.SetDefault("mixer.max_tiles", m.MaxTiles)
	v.SetDefault("mixer.sample_rate", m.SampleRate)
	v.SetDefault("mixer.channels", m.Channels)

	v.SetDefault("rate_limit.joins", 10)
	v.SetDefault("rate_limit.interval", "10s")
}

// Load reads config/config.<env>.yaml, env taken from CONFIG_ENV when empty.
// A missing file leaves the defaults in place.
func Load(env string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if env == "" {
		env = os.Getenv("CONFIG_ENV")
	}
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("static", cfg.StaticPath).Str("topology", cfg.DefaultTopology).Msg("config ready")
	return &cfg, nil
}

// SetupLogger points the global logger at stderr with a console writer.
func SetupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
