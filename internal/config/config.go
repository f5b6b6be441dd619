package config

import (
	"log"
	"time"

	"coursemail/internal/quota"
	"coursemail/internal/retry"
	"coursemail/pkg/config"
)

type QuotaConfig struct {
	UserDailyLimit   int `yaml:"user_daily_limit"`
	SystemDailyLimit int `yaml:"system_daily_limit"`
	CooldownSeconds  int `yaml:"cooldown_seconds"`
}

type DispatcherConfig struct {
	BatchSize         int  `yaml:"batch_size"`
	IntervalSeconds   int  `yaml:"interval_seconds"`
	// SweepEnabled runs the periodic sweep in the worker. When off, jobs
	// rescheduled by backoff or a quota delay are only picked up again by an
	// external caller of POST /internal/dispatch.
	SweepEnabled      bool `yaml:"sweep_enabled"`
	BaseBackoffMs     int  `yaml:"base_backoff_ms"`
	MaxBackoffSeconds int  `yaml:"max_backoff_seconds"`
	// Delay applied after a quota or cooldown rejection.
	CapacityDelaySeconds int `yaml:"capacity_delay_seconds"`
	StaleAfterSeconds    int `yaml:"stale_after_seconds"`
	// Shared secret expected in X-Dispatch-Token by POST /internal/dispatch.
	Token string `yaml:"token"`
	// Trigger selects how committed jobs reach the worker: "outbox", "direct" or "none".
	Trigger string `yaml:"trigger"`
}

const (
	TriggerOutbox = "outbox"
	TriggerDirect = "direct"
	TriggerNone   = "none"
)

type StatsConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	TopUsers        int `yaml:"top_users"`
	RecentEmails    int `yaml:"recent_emails"`
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	TimeoutSeconds   int `yaml:"timeout_seconds"`
}

type Config struct {
	DB         config.DBConfig     `yaml:"db"`
	MQ         config.MQConfig     `yaml:"mq"`
	Redis      config.RedisConfig  `yaml:"redis"`
	SMTP       config.SMTPConfig   `yaml:"smtp"`
	JWT        config.JWTConfig    `yaml:"jwt"`
	Server     config.ServerConfig `yaml:"server"`
	Quota      QuotaConfig         `yaml:"quota"`
	Dispatcher DispatcherConfig    `yaml:"dispatcher"`
	Stats      StatsConfig         `yaml:"stats"`
	Breaker    BreakerConfig       `yaml:"breaker"`
	Log        struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads the configuration for CONFIG_ENV from CONFIG_DIR and exits on error.
func Load() *Config {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfg, err := LoadFrom(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func LoadFrom(env, configDir string) (*Config, error) {
	tree, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := config.Decode(tree, &cfg); err != nil {
		return nil, err
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideSMTPFromEnv(&cfg.SMTP)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	defLimits := quota.DefaultLimits()
	if c.Quota.UserDailyLimit <= 0 {
		c.Quota.UserDailyLimit = defLimits.UserDaily
	}
	if c.Quota.SystemDailyLimit <= 0 {
		c.Quota.SystemDailyLimit = defLimits.SystemDaily
	}
	if c.Quota.CooldownSeconds <= 0 {
		c.Quota.CooldownSeconds = int(defLimits.Cooldown / time.Second)
	}
	if c.Dispatcher.BatchSize <= 0 {
		c.Dispatcher.BatchSize = 20
	}
	if c.Dispatcher.IntervalSeconds <= 0 {
		c.Dispatcher.IntervalSeconds = 10
	}
	switch c.Dispatcher.Trigger {
	case TriggerOutbox, TriggerDirect, TriggerNone:
	default:
		c.Dispatcher.Trigger = TriggerOutbox
	}
	if c.Dispatcher.StaleAfterSeconds <= 0 {
		c.Dispatcher.StaleAfterSeconds = 600
	}
	if c.Stats.CacheTTLSeconds <= 0 {
		c.Stats.CacheTTLSeconds = 30
	}
	if c.Stats.TopUsers <= 0 {
		c.Stats.TopUsers = 10
	}
	if c.Stats.RecentEmails <= 0 {
		c.Stats.RecentEmails = 20
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Warnings lists settings that are valid but lose behaviour in the worker.
func (c *Config) Warnings() []string {
	var out []string
	if !c.Dispatcher.SweepEnabled {
		out = append(out, "dispatcher.sweep_enabled is false: rescheduled jobs need an external scheduler calling POST /internal/dispatch")
	}
	if c.SMTP.LogOnly {
		out = append(out, "smtp.log_only is true: jobs are marked SENT without delivery")
	}
	return out
}

func (c *Config) QuotaLimits() quota.Limits {
	return quota.Limits{
		UserDaily:   c.Quota.UserDailyLimit,
		SystemDaily: c.Quota.SystemDailyLimit,
		Cooldown:    time.Duration(c.Quota.CooldownSeconds) * time.Second,
	}
}

func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.Dispatcher.BaseBackoffMs > 0 {
		p.BaseDelay = time.Duration(c.Dispatcher.BaseBackoffMs) * time.Millisecond
	}
	if c.Dispatcher.MaxBackoffSeconds > 0 {
		p.MaxDelay = time.Duration(c.Dispatcher.MaxBackoffSeconds) * time.Second
	}
	if c.Dispatcher.CapacityDelaySeconds > 0 {
		p.CapacityDelay = time.Duration(c.Dispatcher.CapacityDelaySeconds) * time.Second
	}
	return p
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Dispatcher.IntervalSeconds) * time.Second
}

func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Dispatcher.StaleAfterSeconds) * time.Second
}

func (c *Config) StatsCacheTTL() time.Duration {
	return time.Duration(c.Stats.CacheTTLSeconds) * time.Second
}
