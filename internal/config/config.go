package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// App Settings
	LogLevel      string `envconfig:"LOG_LEVEL" default:"INFO"`
	ProbeWorkers  int    `envconfig:"PROBE_WORKERS" default:"0"` // 0 = 3x NumCPU, capped at 100
	VerifyWorkers int    `envconfig:"VERIFY_WORKERS" default:"4"`

	// Phase 1
	ProbeTimeout time.Duration `envconfig:"PROBE_TIMEOUT" default:"5s"`
	ProbeRate    float64       `envconfig:"PROBE_RATE" default:"0"` // dials per second, 0 = unlimited

	// Phase 2
	VerifyTimeout      time.Duration `envconfig:"VERIFY_TIMEOUT" default:"10s"`
	EngineGrace        time.Duration `envconfig:"ENGINE_GRACE" default:"500ms"`
	EngineReadyTimeout time.Duration `envconfig:"ENGINE_READY_TIMEOUT" default:"2s"`
	EngineStopTimeout  time.Duration `envconfig:"ENGINE_STOP_TIMEOUT" default:"3s"`
	EnginePath         string        `envconfig:"ENGINE_PATH" default:"xray"`
	EngineFlavor       string        `envconfig:"ENGINE_FLAVOR" default:"xray"`
	CheckTarget        string        `envconfig:"CHECK_TARGET" default:"www.google.com:443"`
	CheckHost          string        `envconfig:"CHECK_HOST"`

	// Sources
	Sources      []string      `envconfig:"SOURCES"`
	InputPath    string        `envconfig:"INPUT_PATH"`
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	FetchProxy   string        `envconfig:"FETCH_PROXY"`

	// File System Paths
	OutputPath  string `envconfig:"OUTPUT_PATH" default:"result.txt"`
	JSONLPath   string `envconfig:"JSONL_PATH"`
	GeoIPPath   string `envconfig:"GEOIP_PATH"`
	MetricsPath string `envconfig:"METRICS_PATH"`

	// Telegram
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `envconfig:"TELEGRAM_CHAT_ID"`
	TelegramTop      int    `envconfig:"TELEGRAM_TOP" default:"10"`
}

// Load reads .env and processes environment variables
func Load() (*Config, error) {
	// Silently ignore if .env is missing (production might use real ENV vars)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.EngineFlavor {
	case "xray", "sing-box":
	default:
		return fmt.Errorf("ENGINE_FLAVOR must be xray or sing-box, got %q", c.EngineFlavor)
	}
	if c.ProbeWorkers < 0 || c.VerifyWorkers < 0 {
		return fmt.Errorf("worker counts must not be negative")
	}
	if c.ProbeTimeout <= 0 || c.VerifyTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// TelegramEnabled reports whether both bot credentials are set.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}
