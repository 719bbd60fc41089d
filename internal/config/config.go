// Package config loads research.yaml via viper with environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Research ResearchConfig `mapstructure:"research"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	HTTPPort    int `mapstructure:"http_port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LLMConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	APIKeyEnv  string        `mapstructure:"api_key_env"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type ToolsConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	SearchURL    string        `mapstructure:"search_url"`
	NewsURL      string        `mapstructure:"news_url"`
	NewsKeyEnv   string        `mapstructure:"news_key_env"`
	FinancialURL string        `mapstructure:"financial_url"`
}

type ResearchConfig struct {
	MaxIterations       int     `mapstructure:"max_iterations"`
	MaxCitations        int     `mapstructure:"max_citations"`
	NormalConfidence    float64 `mapstructure:"normal_confidence"`
	ForcedConfidence    float64 `mapstructure:"forced_confidence"`
	MaxObservationChars int     `mapstructure:"max_observation_chars"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from CONFIG_PATH (default ./config/research.yaml).
// A missing file is not an error: defaults plus env overrides apply.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/research.yaml"
	}
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && fileExists(cfgPath) {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 2112)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "research")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "research")
	v.SetDefault("postgres.password", "research")
	v.SetDefault("postgres.database", "research")
	v.SetDefault("postgres.ssl_mode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 3)

	v.SetDefault("tools.timeout", 30*time.Second)
	v.SetDefault("tools.max_retries", 3)
	v.SetDefault("tools.search_url", "http://localhost:8888/search")
	v.SetDefault("tools.news_url", "https://newsapi.org/v2/everything")
	v.SetDefault("tools.news_key_env", "NEWS_API_KEY")
	v.SetDefault("tools.financial_url", "https://stooq.com/q/l/")

	v.SetDefault("research.max_iterations", 10)
	v.SetDefault("research.max_citations", 20)
	v.SetDefault("research.normal_confidence", 0.8)
	v.SetDefault("research.forced_confidence", 0.6)
	v.SetDefault("research.max_observation_chars", 4000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func applyEnvOverrides(cfg *Config) {
	if s := os.Getenv("TEMPORAL_HOST_PORT"); s != "" {
		cfg.Temporal.HostPort = s
	}
	if s := os.Getenv("POSTGRES_HOST"); s != "" {
		cfg.Postgres.Host = s
	}
	if s := os.Getenv("POSTGRES_PASSWORD"); s != "" {
		cfg.Postgres.Password = s
	}
	if s := os.Getenv("REDIS_ADDR"); s != "" {
		cfg.Redis.Addr = s
	}
	if s := os.Getenv("LLM_BASE_URL"); s != "" {
		cfg.LLM.BaseURL = s
	}
	if p := os.Getenv("HTTP_PORT"); p != "" {
		var n int
		_, _ = fmt.Sscanf(p, "%d", &n)
		if n > 0 {
			cfg.Server.HTTPPort = n
		}
	}
	if p := os.Getenv("METRICS_PORT"); p != "" {
		var n int
		_, _ = fmt.Sscanf(p, "%d", &n)
		if n > 0 {
			cfg.Server.MetricsPort = n
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
