package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode" validate:"oneof=debug release"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`

	ServerAddr      string `mapstructure:"server_addr" validate:"required,url"`
	Name            string `mapstructure:"name" validate:"required,max=36"`
	ProtocolVersion int    `mapstructure:"protocol_version" validate:"gte=0"`
	AllowRTC        bool   `mapstructure:"allow_rtc"`

	ICEServers   []string `mapstructure:"ice_servers"`
	TURNServers  []string `mapstructure:"turn_servers"`
	TURNUsername string   `mapstructure:"turn_username"`
	TURNPassword string   `mapstructure:"turn_password"`

	SendBuffer int           `mapstructure:"send_buffer" validate:"gte=1"`
	WriteWait  time.Duration `mapstructure:"write_wait" validate:"gt=0"`
	PingPeriod time.Duration `mapstructure:"ping_period" validate:"gte=0"`
	ReadLimit  int64         `mapstructure:"read_limit" validate:"gte=0"`
	// Backpressure is "drop" or "disconnect".
	Backpressure string `mapstructure:"backpressure" validate:"oneof=drop disconnect"`

	ChatLimit    int           `mapstructure:"chat_limit" validate:"gte=0"`
	ChatInterval time.Duration `mapstructure:"chat_interval" validate:"gte=0"`

	ControlAddr   string `mapstructure:"control_addr"`
	ControlSecret string `mapstructure:"control_secret"`
	StaticPath    string `mapstructure:"static_path"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads config/config.<CONFIG_ENV>.yaml (default env "dev").
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if present, then .env and TABLE_* variables, and
// validates the result.
func LoadFile(fileName string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Str("module", "config").Msg("loaded .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("TABLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("server_addr", "ws://localhost:8000/ws")
	v.SetDefault("name", "")
	v.SetDefault("protocol_version", 1)
	v.SetDefault("allow_rtc", false)
	v.SetDefault("ice_servers", []string{})
	v.SetDefault("turn_servers", []string{})
	v.SetDefault("turn_username", "")
	v.SetDefault("turn_password", "")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("write_wait", "5s")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("backpressure", "drop")
	v.SetDefault("chat_limit", 5)
	v.SetDefault("chat_interval", "10s")
	v.SetDefault("control_addr", "")
	v.SetDefault("control_secret", "")
	v.SetDefault("static_path", "")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(cfg.TURNServers) > 0 && (cfg.TURNUsername == "" || cfg.TURNPassword == "") {
		return nil, fmt.Errorf("invalid config: turn_servers need turn_username and turn_password")
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Str("server", cfg.ServerAddr).
		Bool("rtc", cfg.AllowRTC).
		Str("control", cfg.ControlAddr).
		Msg("config ready")
	return &cfg, nil
}
