package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the process configuration read from the environment.
type Config struct {
	ListenAddr       string        `env:"LISTEN_ADDR,default=:8080" validate:"required"`
	LogLevel         string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	RedisAddr        string        `env:"REDIS_ADDR"`
	HistoryLimit     int           `env:"HISTORY_LIMIT,default=0" validate:"eq=0|gte=2"`
	UserDBPath       string        `env:"USER_DB_PATH"`
	JWTSecret        string        `env:"JWT_SECRET,required=true" validate:"min=16"`
	TokenTTL         time.Duration `env:"TOKEN_TTL,default=24h" validate:"gt=0"`
	AdminToken       string        `env:"ADMIN_TOKEN"`
	PingURL          string        `env:"PING_URL" validate:"omitempty,url"`
	PingInterval     time.Duration `env:"PING_INTERVAL,default=12m" validate:"gt=0"`
	MaxMessageLength int           `env:"MAX_MESSAGE_LENGTH,default=2000" validate:"gt=0"`
	MaxConns         int           `env:"MAX_CONNS,default=0" validate:"gte=0"`
	IdleTimeout      time.Duration `env:"IDLE_TIMEOUT,default=0s" validate:"gte=0"`
	AuthRateLimit    int           `env:"AUTH_RATE_LIMIT,default=10" validate:"gte=0"`
	AuthRateWindow   time.Duration `env:"AUTH_RATE_WINDOW,default=1m" validate:"gt=0"`
	WSRequireToken   bool          `env:"WS_REQUIRE_TOKEN,default=false"`
	BotConfigPath    string        `env:"BOT_CONFIG_PATH"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s" validate:"gt=0"`
}

// Bot holds the auto-reply settings. Zero fields in a YAML file keep
// their defaults.
type Bot struct {
	Name     string        `yaml:"name" validate:"required"`
	Mention  string        `yaml:"mention" validate:"required"`
	Fallback string        `yaml:"fallback" validate:"required"`
	Endpoint string        `yaml:"endpoint" validate:"omitempty,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

func DefaultBot() Bot {
	return Bot{
		Name:     "nodbot",
		Mention:  "@nodbot",
		Fallback: "Sorry, I can't come up with an answer right now.",
		Timeout:  10 * time.Second,
	}
}

// Load reads a .env file when present, then decodes and validates the
// environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadBot overlays the YAML file at path on the default bot settings. An
// empty path or a missing file yields the defaults.
func LoadBot(path string) (Bot, error) {
	bot := DefaultBot()
	if path == "" {
		return bot, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return bot, nil
	}
	if err != nil {
		return Bot{}, fmt.Errorf("read bot config: %w", err)
	}

	var overlay Bot
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Bot{}, fmt.Errorf("parse bot config: %w", err)
	}
	if overlay.Name != "" {
		bot.Name = overlay.Name
		bot.Mention = "@" + overlay.Name
	}
	if overlay.Mention != "" {
		bot.Mention = overlay.Mention
	}
	if overlay.Fallback != "" {
		bot.Fallback = overlay.Fallback
	}
	if overlay.Endpoint != "" {
		bot.Endpoint = overlay.Endpoint
	}
	if overlay.Timeout != 0 {
		bot.Timeout = overlay.Timeout
	}

	if err := validate.Struct(bot); err != nil {
		return Bot{}, fmt.Errorf("invalid bot config: %w", err)
	}
	return bot, nil
}
