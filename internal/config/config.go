package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Trading struct {
	InitialBalance     float64  `yaml:"initial_balance"`
	IntervalSeconds    int      `yaml:"interval_seconds"`
	Symbols            []string `yaml:"symbols"`
	MaxLeverage        float64  `yaml:"max_leverage"`
	MaxPositionSize    float64  `yaml:"max_position_size"`     // fraction of equity per position
	DefaultStopLossPct float64  `yaml:"default_stop_loss_pct"` // synthesized stop distance from entry
}

type Oracle struct {
	BaseURL            string `yaml:"base_url"`
	Model              string `yaml:"model"`
	APIKeyEnv          string `yaml:"api_key_env"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type Market struct {
	BaseURL            string `yaml:"base_url"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type Database struct {
	Driver    string `yaml:"driver"` // memory | file | postgres
	DSN       string `yaml:"dsn"`    // postgres only
	StatePath string `yaml:"state_path"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Root struct {
	Trading  Trading  `yaml:"trading"`
	Oracle   Oracle   `yaml:"oracle"`
	Market   Market   `yaml:"market"`
	Database Database `yaml:"database"`
	Server   Server   `yaml:"server"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Default returns a config usable without a file on disk.
func Default() Root {
	var c Root
	c.applyDefaults()
	return c
}

func (c *Root) applyDefaults() {
	if c.Trading.InitialBalance == 0 {
		c.Trading.InitialBalance = 10000
	}
	if c.Trading.IntervalSeconds == 0 {
		c.Trading.IntervalSeconds = 180
	}
	if len(c.Trading.Symbols) == 0 {
		c.Trading.Symbols = []string{"BTC", "ETH", "SOL", "BNB", "DOGE", "XRP"}
	}
	if c.Trading.MaxLeverage == 0 {
		c.Trading.MaxLeverage = 20
	}
	if c.Trading.MaxPositionSize == 0 {
		c.Trading.MaxPositionSize = 0.2
	}
	if c.Trading.DefaultStopLossPct == 0 {
		c.Trading.DefaultStopLossPct = 0.15
	}

	if c.Oracle.BaseURL == "" {
		c.Oracle.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Oracle.Model == "" {
		c.Oracle.Model = "qwen/qwen-2.5-72b-instruct"
	}
	if c.Oracle.APIKeyEnv == "" {
		c.Oracle.APIKeyEnv = "ORACLE_API_KEY"
	}
	if c.Oracle.TimeoutSeconds == 0 {
		c.Oracle.TimeoutSeconds = 60
	}
	if c.Oracle.RateLimitPerMinute == 0 {
		c.Oracle.RateLimitPerMinute = 20
	}

	if c.Market.BaseURL == "" {
		c.Market.BaseURL = "https://api.binance.com"
	}
	if c.Market.TimeoutSeconds == 0 {
		c.Market.TimeoutSeconds = 10
	}
	if c.Market.CacheTTLSeconds == 0 {
		c.Market.CacheTTLSeconds = 10
	}
	if c.Market.RateLimitPerMinute == 0 {
		c.Market.RateLimitPerMinute = 600
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.StatePath == "" {
		c.Database.StatePath = "data/simtrader_state.json"
	}

	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
}

func (c *Root) validate() error {
	if c.Trading.InitialBalance < 0 {
		return fmt.Errorf("initial_balance must be non-negative")
	}
	if c.Trading.MaxPositionSize <= 0 || c.Trading.MaxPositionSize > 1 {
		return fmt.Errorf("max_position_size must be in (0,1], got %v", c.Trading.MaxPositionSize)
	}
	if c.Trading.MaxLeverage < 1 {
		return fmt.Errorf("max_leverage must be >= 1, got %v", c.Trading.MaxLeverage)
	}
	if c.Trading.DefaultStopLossPct <= 0 || c.Trading.DefaultStopLossPct >= 1 {
		return fmt.Errorf("default_stop_loss_pct must be in (0,1), got %v", c.Trading.DefaultStopLossPct)
	}
	switch c.Database.Driver {
	case "memory", "file", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("postgres driver requires dsn")
	}
	return nil
}
