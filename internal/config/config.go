package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Sources   []SourceConfig  `yaml:"sources" mapstructure:"sources"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Quota     QuotaConfig     `yaml:"quota" mapstructure:"quota"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// SourceConfig is the per-source static descriptor. Immutable after load;
// call Load again to pick up environment changes.
type SourceConfig struct {
	Code                string  `yaml:"code" mapstructure:"code"`
	DisplayName         string  `yaml:"display_name" mapstructure:"display_name"`
	BaseURL             string  `yaml:"base_url" mapstructure:"base_url"`
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSeconds      int     `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	RateLimitRPS        float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	Priority            int     `yaml:"priority" mapstructure:"priority"`
	RequiresCredentials bool    `yaml:"requires_credentials" mapstructure:"requires_credentials"`
	APIKey              string  `yaml:"api_key" mapstructure:"api_key"`
}

// SearchConfig configures the orchestrator and classification filter.
type SearchConfig struct {
	GlobalTimeoutSecs    int     `yaml:"global_timeout_secs" mapstructure:"global_timeout_secs"`
	MaxPagesPerSource    int     `yaml:"max_pages_per_source" mapstructure:"max_pages_per_source"`
	PageSize             int     `yaml:"page_size" mapstructure:"page_size"`
	ArbiterMode          string  `yaml:"arbiter_mode" mapstructure:"arbiter_mode"`
	ArbiterTimeoutSecs   int     `yaml:"arbiter_timeout_secs" mapstructure:"arbiter_timeout_secs"`
	EscalationThreshold  float64 `yaml:"escalation_threshold" mapstructure:"escalation_threshold"`
	MaxConcurrentArbiter int     `yaml:"max_concurrent_arbiter" mapstructure:"max_concurrent_arbiter"`
}

// RetryConfig configures per-source retry behavior.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// CircuitConfig configures per-source circuit breakers.
type CircuitConfig struct {
	DegradedThreshold int `yaml:"degraded_threshold" mapstructure:"degraded_threshold"`
	FailureThreshold  int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs  int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// CacheConfig configures the two-tier result cache.
type CacheConfig struct {
	Driver             string `yaml:"driver" mapstructure:"driver"` // "redis", "postgres", or "none"
	RedisURL           string `yaml:"redis_url" mapstructure:"redis_url"`
	DatabaseURL        string `yaml:"database_url" mapstructure:"database_url"`
	FreshTTLHours      int    `yaml:"fresh_ttl_hours" mapstructure:"fresh_ttl_hours"`
	HardTTLHours       int    `yaml:"hard_ttl_hours" mapstructure:"hard_ttl_hours"`
	MemoryMaxEntries   int    `yaml:"memory_max_entries" mapstructure:"memory_max_entries"`
	MaxRevalidations   int    `yaml:"max_revalidations" mapstructure:"max_revalidations"`
	HotAccessThreshold int    `yaml:"hot_access_threshold" mapstructure:"hot_access_threshold"`
}

// QuotaConfig configures caller-level request budgets.
type QuotaConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"` // "memory" or "redis"
	RedisURL        string `yaml:"redis_url" mapstructure:"redis_url"`
	WindowDays      int    `yaml:"window_days" mapstructure:"window_days"`
	MaxTrackedKeys  int    `yaml:"max_tracked_keys" mapstructure:"max_tracked_keys"`
	DefaultLimit    int    `yaml:"default_limit" mapstructure:"default_limit"`
	PlanTTLMinutes  int    `yaml:"plan_ttl_minutes" mapstructure:"plan_ttl_minutes"`
	PlanEndpointURL string `yaml:"plan_endpoint_url" mapstructure:"plan_endpoint_url"`
}

// AnthropicConfig holds Anthropic API settings for the relevance arbiter.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	HaikuModel string `yaml:"haiku_model" mapstructure:"haiku_model"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LICITA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("search.global_timeout_secs", 60)
	v.SetDefault("search.max_pages_per_source", 20)
	v.SetDefault("search.page_size", 50)
	v.SetDefault("search.arbiter_mode", "standard")
	v.SetDefault("search.arbiter_timeout_secs", 10)
	v.SetDefault("search.escalation_threshold", 0.4)
	v.SetDefault("search.max_concurrent_arbiter", 4)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("circuit.degraded_threshold", 3)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	v.SetDefault("cache.driver", "redis")
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.fresh_ttl_hours", 4)
	v.SetDefault("cache.hard_ttl_hours", 24)
	v.SetDefault("cache.memory_max_entries", 1024)
	v.SetDefault("cache.max_revalidations", 8)
	v.SetDefault("cache.hot_access_threshold", 10)

	v.SetDefault("quota.driver", "memory")
	v.SetDefault("quota.window_days", 30)
	v.SetDefault("quota.max_tracked_keys", 10000)
	v.SetDefault("quota.default_limit", 200)
	v.SetDefault("quota.plan_ttl_minutes", 15)

	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")

	v.SetDefault("sources", defaultSources())

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// defaultSources registers the government portals the service ships with.
// Priority is the dedup tie-breaker: lower wins. Portal da Transparência is
// opt-in because it requires an API key.
func defaultSources() []map[string]any {
	return []map[string]any{
		{
			"code":            "pncp",
			"display_name":    "Portal Nacional de Contratações Públicas",
			"base_url":        "https://pncp.gov.br/api/consulta",
			"enabled":         true,
			"timeout_seconds": 20,
			"rate_limit_rps":  5.0,
			"priority":        1,
		},
		{
			"code":            "comprasnet",
			"display_name":    "Compras.gov.br Dados Abertos",
			"base_url":        "https://compras.dados.gov.br",
			"enabled":         true,
			"timeout_seconds": 20,
			"rate_limit_rps":  3.0,
			"priority":        2,
		},
		{
			"code":                 "transparencia",
			"display_name":         "Portal da Transparência",
			"base_url":             "https://api.portaldatransparencia.gov.br/api-de-dados",
			"enabled":              false,
			"timeout_seconds":      15,
			"rate_limit_rps":       1.0,
			"priority":             3,
			"requires_credentials": true,
		},
	}
}

// Validate checks that the configuration is usable for the given run mode.
// Modes: "search" (CLI one-shot), "serve" (HTTP API).
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "search", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	enabled := 0
	for _, s := range c.Sources {
		if !s.Enabled {
			continue
		}
		enabled++
		if s.Code == "" {
			problems = append(problems, "sources[].code is required")
		}
		if s.BaseURL == "" {
			problems = append(problems, "sources."+s.Code+".base_url is required")
		}
		if s.RequiresCredentials && s.APIKey == "" {
			problems = append(problems, "sources."+s.Code+".api_key is required (requires_credentials)")
		}
	}
	if enabled == 0 {
		problems = append(problems, "at least one source must be enabled")
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		problems = append(problems, "retry.max_attempts must be between 1 and 10")
	}
	if c.Circuit.DegradedThreshold >= c.Circuit.FailureThreshold {
		problems = append(problems, "circuit.degraded_threshold must be < circuit.failure_threshold")
	}
	if t := c.Search.EscalationThreshold; t < 0 || t > 1 {
		problems = append(problems, "search.escalation_threshold must be in [0, 1]")
	}
	switch c.Search.ArbiterMode {
	case "standard", "conservative", "off":
	default:
		problems = append(problems, "search.arbiter_mode must be standard, conservative, or off")
	}
	if c.Search.ArbiterMode != "off" && c.Anthropic.Key == "" {
		problems = append(problems, "anthropic.key is required unless search.arbiter_mode is off")
	}
	if c.Cache.FreshTTLHours > c.Cache.HardTTLHours {
		problems = append(problems, "cache.fresh_ttl_hours must be <= cache.hard_ttl_hours")
	}

	if len(problems) > 0 {
		return eris.New("config: invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
