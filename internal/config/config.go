package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls" validate:"min=1,dive,required"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Client struct {
	RelayURL          string        `mapstructure:"relay_url" validate:"required,url"`
	Identity          string        `mapstructure:"identity" validate:"max=64"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" validate:"gt=0"`
	CallTimeout       time.Duration `mapstructure:"call_timeout" validate:"gte=0"`
	ICEServers        []ICEServer   `mapstructure:"ice_servers" validate:"dive"`
	LogFile           string        `mapstructure:"log_file"`
}

type Config struct {
	Mode           string        `mapstructure:"mode" validate:"oneof=debug release test"`
	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	StaticPath     string        `mapstructure:"static_path"`
	WSPath         string        `mapstructure:"ws_path" validate:"startswith=/"`
	ReadLimit      int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod     time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	PongWait       time.Duration `mapstructure:"pong_wait" validate:"gtfield=PingPeriod"`
	WriteWait      time.Duration `mapstructure:"write_wait" validate:"gt=0"`
	SendBuffer     int           `mapstructure:"send_buffer" validate:"gt=0"`
	RateLimit      int           `mapstructure:"rate_limit" validate:"gte=0"`
	RateInterval   time.Duration `mapstructure:"rate_interval" validate:"gt=0"`
	Secret         string        `mapstructure:"secret"`
	LogLevel       string        `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	Client         Client        `mapstructure:"client"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("ws_path", "/ws")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("rate_limit", 50)
	v.SetDefault("rate_interval", "1s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", []string{"*"})

	v.SetDefault("client.relay_url", "ws://localhost:8080/ws")
	v.SetDefault("client.reconnect_interval", "3s")
	v.SetDefault("client.call_timeout", "60s")
	v.SetDefault("client.ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of defaults. Environment
// variables prefixed CALLRELAY_ override file values; a .env file is read first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to read .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("CALLRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("ws_path", cfg.WSPath).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// OriginAllowed reports whether a browser origin may open the signaling
// channel or call the REST API.
func (c *Config) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
