package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/traderlab/papertrade/internal/risk"
)

type Server struct {
	Addr string `yaml:"addr"`
}

type Slippage struct {
	Mode     string  `yaml:"mode"` // fixed | random
	FixedBps float64 `yaml:"fixed_bps"`
	MinBps   float64 `yaml:"min_bps"`
	MaxBps   float64 `yaml:"max_bps"`
	Seed     int64   `yaml:"seed"` // 0 means time-seeded
}

type HTTPSource struct {
	ID                 string  `yaml:"id"`
	Label              string  `yaml:"label"`
	Vendor             string  `yaml:"vendor"`
	BaseURL            string  `yaml:"base_url"`
	APIKeyEnv          string  `yaml:"api_key_env"` // env var holding the key
	RateLimitPerMinute int     `yaml:"rate_limit_per_minute"`
	DailyCap           int     `yaml:"daily_cap"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	RatePerSec         float64 `yaml:"registry_rate_per_sec"`
}

type WSSource struct {
	ID                  string  `yaml:"id"`
	Label               string  `yaml:"label"`
	Vendor              string  `yaml:"vendor"`
	URL                 string  `yaml:"url"`
	MaxStalenessSeconds int     `yaml:"max_staleness_seconds"`
	RatePerSec          float64 `yaml:"registry_rate_per_sec"`
}

type Sources struct {
	Active              string       `yaml:"active"`
	FetchTimeoutSeconds int          `yaml:"fetch_timeout_seconds"`
	SimEnabled          bool         `yaml:"sim_enabled"`
	SimSeed             int64        `yaml:"sim_seed"`
	HTTP                []HTTPSource `yaml:"http"`
	WS                  []WSSource   `yaml:"ws"`
}

type Root struct {
	Server               Server      `yaml:"server"`
	InitialCash          float64     `yaml:"initial_cash"`
	Risk                 risk.Config `yaml:"risk"`
	Slippage             Slippage    `yaml:"slippage"`
	Sources              Sources     `yaml:"sources"`
	TradeLogPath         string      `yaml:"trade_log_path"`
	AlertRetention       int         `yaml:"alert_retention"`
	PostCheckIntervalSec int         `yaml:"post_check_interval_seconds"`
}

// Default returns the configuration used when no file is given.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

// Load reads a yaml config file, filling unset fields with defaults.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, nil
}

func applyDefaults(c *Root) {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.InitialCash == 0 {
		c.InitialCash = 100000
	}
	def := risk.DefaultConfig()
	if c.Risk.MaxPositionRatio == 0 {
		c.Risk.MaxPositionRatio = def.MaxPositionRatio
	}
	if c.Risk.StopLossRatio == 0 {
		c.Risk.StopLossRatio = def.StopLossRatio
	}
	if c.Risk.SlippageBudgetBps == 0 {
		c.Risk.SlippageBudgetBps = def.SlippageBudgetBps
	}
	if c.Slippage.Mode == "" {
		c.Slippage.Mode = "fixed"
	}
	if c.Slippage.Mode == "random" && c.Slippage.MaxBps == 0 {
		c.Slippage.MinBps = 1
		c.Slippage.MaxBps = 5
	}
	if c.Sources.Active == "" {
		c.Sources.Active = "mock"
	}
	if c.Sources.FetchTimeoutSeconds == 0 {
		c.Sources.FetchTimeoutSeconds = 8
	}
	if c.TradeLogPath == "" {
		c.TradeLogPath = "data/tradelog.db"
	}
	if c.AlertRetention == 0 {
		c.AlertRetention = 1000
	}
	if c.PostCheckIntervalSec == 0 {
		c.PostCheckIntervalSec = 5
	}
}
