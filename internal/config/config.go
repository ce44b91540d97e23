package config

import (
	"fmt"
	"time"

	"ironwill/pkg/config"
)

// AppConfig 应用级配置
type AppConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	Timezone string `yaml:"timezone"`
	LogLevel string `yaml:"log_level"`
}

// WorkerConfig 后台任务配置
type WorkerConfig struct {
	Port             string        `yaml:"port"` // health + metrics
	NightlyCron      string        `yaml:"nightly_cron"`
	OutboxInterval   time.Duration `yaml:"outbox_interval"`
	OutboxMaxRetries int           `yaml:"outbox_max_retries"`
	DedupTTL         time.Duration `yaml:"dedup_ttl"`
}

// StatsConfig 统计缓存配置
type StatsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type Config struct {
	App    AppConfig           `yaml:"app"`
	Store  config.StoreConfig  `yaml:"store"`
	DB     config.DBConfig     `yaml:"db"`
	Redis  config.RedisConfig  `yaml:"redis"`
	MQ     config.MQConfig     `yaml:"mq"`
	JWT    config.JWTConfig    `yaml:"jwt"`
	Server config.ServerConfig `yaml:"server"`
	Otel   config.OtelConfig   `yaml:"otel"`
	Worker WorkerConfig        `yaml:"worker"`
	Stats  StatsConfig         `yaml:"stats"`
}

// Load reads base.yaml plus the CONFIG_ENV overlay from CONFIG_DIR and
// applies the environment overrides.
func Load() (*Config, error) {
	// 使用统一配置中心
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")
	return LoadFrom(env, configDir)
}

func LoadFrom(env, configDir string) (*Config, error) {
	tree, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(tree, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideStoreFromEnv(&cfg.Store)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideOtelFromEnv(&cfg.Otel)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "ironwill"
	}
	if c.App.Timezone == "" {
		c.App.Timezone = "UTC"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "postgres"
	}
	if c.Store.Driver == "sqlite" && c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "ironwill.db"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Worker.Port == "" {
		c.Worker.Port = ":9091"
	}
	if c.Worker.NightlyCron == "" {
		c.Worker.NightlyCron = "5 0 * * *"
	}
	if c.Worker.OutboxInterval <= 0 {
		c.Worker.OutboxInterval = time.Second
	}
	if c.Worker.OutboxMaxRetries <= 0 {
		c.Worker.OutboxMaxRetries = 5
	}
	if c.Worker.DedupTTL <= 0 {
		c.Worker.DedupTTL = time.Hour
	}
	if c.Stats.CacheTTL <= 0 {
		c.Stats.CacheTTL = 5 * time.Minute
	}
	if c.Otel.ServiceName == "" {
		c.Otel.ServiceName = c.App.Name
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("config: jwt.secret is required")
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("config: app.timezone: %w", err)
	}
	return nil
}

// Location returns the zone used to compute "today".
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
