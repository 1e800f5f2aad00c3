// Package config loads settings from baton.yaml and BATON_* environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"go-baton/internal/domain"

	"github.com/spf13/viper"
)

// AgentConfig declares one agent for the registry. Provider selects the
// invoker implementation: "builtin" uses Action to pick a built-in handler,
// "anthropic" calls the Messages API.
type AgentConfig struct {
	Name         string   `mapstructure:"name"`
	Capabilities []string `mapstructure:"capabilities"`
	Provider     string   `mapstructure:"provider"`
	Action       string   `mapstructure:"action"`
	Model        string   `mapstructure:"model"`
	SystemPrompt string   `mapstructure:"system_prompt"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type OrchestratorConfig struct {
	Workers int `mapstructure:"workers"`
}

type PolicyConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
}

type ConnectionConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	HighWater    int           `mapstructure:"high_water"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Policy       PolicyConfig       `mapstructure:"policy"`
	Connection   ConnectionConfig   `mapstructure:"connection"`
	Agents       []AgentConfig      `mapstructure:"agents"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("orchestrator.workers", 4)
	v.SetDefault("policy.timeout", 60*time.Second)
	v.SetDefault("policy.max_retries", 3)
	v.SetDefault("policy.backoff_base", 250*time.Millisecond)
	v.SetDefault("policy.backoff_cap", 10*time.Second)
	v.SetDefault("connection.queue_size", 256)
	v.SetDefault("connection.high_water", 192)
	v.SetDefault("connection.grace_period", 30*time.Second)
	v.SetDefault("connection.ping_interval", 30*time.Second)
	v.SetDefault("connection.write_timeout", 10*time.Second)
}

// Load reads baton.yaml from the working directory (missing file is fine)
// and applies BATON_* environment overrides, e.g. BATON_SERVER_ADDR.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("baton")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/baton")

	v.SetEnvPrefix("BATON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Agents) == 0 {
		cfg.Agents = defaultAgents()
	}
	return &cfg, nil
}

// DefaultPolicy converts the policy section into the step policy applied to
// routed pipelines.
func (c *Config) DefaultPolicy() domain.StepPolicy {
	return domain.StepPolicy{
		Timeout:     c.Policy.Timeout,
		MaxRetries:  c.Policy.MaxRetries,
		BackoffBase: c.Policy.BackoffBase,
		BackoffCap:  c.Policy.BackoffCap,
	}
}

// defaultAgents covers the built-in handlers so the server is usable with
// no config file at all.
func defaultAgents() []AgentConfig {
	return []AgentConfig{
		{Name: "summarizer", Capabilities: []string{"summarize"}, Provider: "builtin", Action: "summarize"},
		{Name: "keyworder", Capabilities: []string{"keywords"}, Provider: "builtin", Action: "keywords"},
		{Name: "sentiment-scorer", Capabilities: []string{"sentiment"}, Provider: "builtin", Action: "sentiment"},
	}
}
