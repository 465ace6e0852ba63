package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Ctpgate  CtpgateConfig  `yaml:"ctpgate"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Account  AccountConfig  `yaml:"account"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Market   MarketConfig   `yaml:"market"`
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type CtpgateConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type GatewayConfig struct {
	TradeFront string `yaml:"trade_front"`
	QuoteFront string `yaml:"quote_front"`
}

type AccountConfig struct {
	BrokerID string `yaml:"broker_id"`
	AppID    string `yaml:"app_id"`
	AuthCode string `yaml:"auth_code"`
	UserID   string `yaml:"investor_id"`
	Password string `yaml:"password"`
}

type BridgeConfig struct {
	CallTimeout   time.Duration `yaml:"call_timeout"`
	QueryInterval time.Duration `yaml:"query_interval"`
}

type CatalogConfig struct {
	DataDir string `yaml:"data_dir"`
}

type MarketConfig struct {
	QueryDeadline    time.Duration `yaml:"query_deadline"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	ResubscribeAfter time.Duration `yaml:"resubscribe_after"`
	ClosedTimes      []string      `yaml:"closed_times"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type ScheduleConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Location   string   `yaml:"location"`
	LoginTimes []string `yaml:"login_times"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

const defaultConfigPath = "config/config.yml"

var envConfigPaths = map[string]string{
	environmentDevelopment: "config/config.development.yml",
	environmentStaging:     "config/config.staging.yml",
	environmentProduction:  "config/config.production.yml",
}

// Credential environment variables, overriding the YAML account block. The
// prefix matches the account file convention of the gateway deployments.
const (
	envBrokerID = "CTP_BROKER_ID"
	envAppID    = "CTP_APP_ID"
	envAuthCode = "CTP_AUTH_CODE"
	envUserID   = "CTP_INVESTOR_ID"
	envPassword = "CTP_PASSWORD"
)

// LoadConfig reads the YAML configuration, applies environment credential
// overrides and fills defaults. An environment specific file is preferred
// when one exists for the current APP_ENV.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if IsProductionLike(AppEnvironment()) {
		if cfg.Account.BrokerID == "" || cfg.Account.UserID == "" || cfg.Account.Password == "" {
			return nil, fmt.Errorf("incomplete account credentials for environment %q", AppEnvironment())
		}
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(envBrokerID); v != "" {
		c.Account.BrokerID = v
	}
	if v := os.Getenv(envAppID); v != "" {
		c.Account.AppID = v
	}
	if v := os.Getenv(envAuthCode); v != "" {
		c.Account.AuthCode = v
	}
	if v := os.Getenv(envUserID); v != "" {
		c.Account.UserID = v
	}
	if v := os.Getenv(envPassword); v != "" {
		c.Account.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.Ctpgate.Name == "" {
		c.Ctpgate.Name = "ctpgate"
	}
	if c.Bridge.CallTimeout <= 0 {
		c.Bridge.CallTimeout = 30 * time.Second
	}
	if c.Bridge.QueryInterval <= 0 {
		c.Bridge.QueryInterval = time.Second
	}
	if c.Catalog.DataDir == "" {
		c.Catalog.DataDir = "data"
	}
	if c.Market.QueryDeadline <= 0 {
		c.Market.QueryDeadline = 5 * time.Second
	}
	if c.Market.PollInterval <= 0 {
		c.Market.PollInterval = 100 * time.Millisecond
	}
	if c.Market.ResubscribeAfter <= 0 {
		c.Market.ResubscribeAfter = 2 * time.Second
	}
	if len(c.Market.ClosedTimes) == 0 {
		c.Market.ClosedTimes = []string{"11:30:00", "15:00:00", "02:30:00", "06:00:00"}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":7000"
	}
	if c.Schedule.Location == "" {
		c.Schedule.Location = "Asia/Shanghai"
	}
	if len(c.Schedule.LoginTimes) == 0 {
		c.Schedule.LoginTimes = []string{"08:40", "20:40"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}
