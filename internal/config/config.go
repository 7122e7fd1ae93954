package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	Log       LogConfig `mapstructure:"log"`
	AI        AIConfig
	Agent     AgentConfig     `mapstructure:"agent"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool   `mapstructure:"-"`
	MigrateOnly  bool   `mapstructure:"-"`
	ConfigDir    string `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

// AIConfig 文本生成服务（OpenAI 兼容接口）
type AIConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
}

func (c AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AgentConfig AI Agent 协调子系统
type AgentConfig struct {
	SessionGapMinutes             int      `mapstructure:"session_gap_minutes"`
	RecentEventLimit              int      `mapstructure:"recent_event_limit"`
	MasterySmoothing              float64  `mapstructure:"mastery_smoothing"`
	FoundationalConcepts          []string `mapstructure:"foundational_concepts"`
	RecommendationCacheTTLSeconds int      `mapstructure:"recommendation_cache_ttl_seconds"`
	BulkConcurrency               int      `mapstructure:"bulk_concurrency"`
	NotificationBuffer            int      `mapstructure:"notification_buffer"`
	IdleTimeoutMinutes            int      `mapstructure:"idle_timeout_minutes"`
	TraceRecommendations          bool     `mapstructure:"trace_recommendations"`
}

func (c AgentConfig) SessionGap() time.Duration {
	return time.Duration(c.SessionGapMinutes) * time.Minute
}

func (c AgentConfig) RecommendationCacheTTL() time.Duration {
	return time.Duration(c.RecommendationCacheTTLSeconds) * time.Second
}

func (c AgentConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// LogConfig 日志文件轮转；Level 为空时按 server.mode 决定
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultAgentConfig 与 configs/config.yaml 中的默认值保持一致
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		SessionGapMinutes:             60,
		RecentEventLimit:              50,
		MasterySmoothing:              0.3,
		FoundationalConcepts:          []string{"basic_arithmetic", "algebra_fundamentals", "geometry_basics"},
		RecommendationCacheTTLSeconds: 1800,
		BulkConcurrency:               8,
		NotificationBuffer:            256,
	}
}

func setDefaults(v *viper.Viper) {
	def := DefaultAgentConfig()
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("log.file", "logs/agent.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("ai.timeout_seconds", 300)
	v.SetDefault("ai.max_tokens", 1000)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("agent.session_gap_minutes", def.SessionGapMinutes)
	v.SetDefault("agent.recent_event_limit", def.RecentEventLimit)
	v.SetDefault("agent.mastery_smoothing", def.MasterySmoothing)
	v.SetDefault("agent.foundational_concepts", def.FoundationalConcepts)
	v.SetDefault("agent.recommendation_cache_ttl_seconds", def.RecommendationCacheTTLSeconds)
	v.SetDefault("agent.bulk_concurrency", def.BulkConcurrency)
	v.SetDefault("agent.notification_buffer", def.NotificationBuffer)
	v.SetDefault("agent.idle_timeout_minutes", 0)
	v.SetDefault("rate_limit.max_requests", 1000)
	v.SetDefault("rate_limit.window_minutes", 1)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("K12_AGENT")
	v.AutomaticEnv()
	setDefaults(v)

	// Database
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("log.level", "LOG_LEVEL")

	// AI
	v.BindEnv("ai.base_url", "AI_BASE_URL")
	v.BindEnv("ai.api_key", "AI_API_KEY")
	v.BindEnv("ai.model", "AI_MODEL")
	v.BindEnv("ai.timeout_seconds", "AI_AGENT_TIMEOUT")

	// Agent
	v.BindEnv("agent.recommendation_cache_ttl_seconds", "AI_RECOMMENDATION_CACHE_TTL")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.ConfigDir = path

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if err := cfg.Agent.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c AgentConfig) Validate() error {
	if c.MasterySmoothing <= 0 || c.MasterySmoothing > 1 {
		return fmt.Errorf("agent.mastery_smoothing must be in (0,1], got %v", c.MasterySmoothing)
	}
	if c.SessionGapMinutes <= 0 {
		return fmt.Errorf("agent.session_gap_minutes must be positive, got %d", c.SessionGapMinutes)
	}
	if c.BulkConcurrency <= 0 {
		return fmt.Errorf("agent.bulk_concurrency must be positive, got %d", c.BulkConcurrency)
	}
	return nil
}
