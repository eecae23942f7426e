package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	DataDir   string          `mapstructure:"data_dir"`
}

// TelegramConfig configures the messaging transport.
type TelegramConfig struct {
	BotToken string  `mapstructure:"bot_token"`
	AllowIDs []int64 `mapstructure:"allow_ids"` // empty = open
	Debug    bool    `mapstructure:"debug"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LLMConfig configures the OpenAI-compatible provider.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	ChatModel   string        `mapstructure:"chat_model"`
	EmbedModel  string        `mapstructure:"embed_model"`
	VisionModel string        `mapstructure:"vision_model"`
	SpeechModel string        `mapstructure:"speech_model"` // TTS model
	Voice       string        `mapstructure:"voice"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SearchConfig configures the SearXNG-compatible search provider.
type SearchConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPConfig configures the health/stats server.
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AgentConfig configures the orchestrator.
type AgentConfig struct {
	MaxToolRounds int           `mapstructure:"max_tool_rounds"` // bounded tool loop (default 5)
	MobileWordCap int           `mapstructure:"mobile_word_cap"` // soft reply cap (default 50)
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`
}

// MemoryConfig configures short-term conversation memory.
type MemoryConfig struct {
	ContextTTL        time.Duration `mapstructure:"context_ttl"`       // default 1h
	AnalysisInterval  int           `mapstructure:"analysis_interval"` // deep interest analysis every N user messages
	SummaryMaxPerUser int           `mapstructure:"summary_max_per_user"`
}

// KnowledgeConfig configures the vector knowledge base.
type KnowledgeConfig struct {
	MaxAgeDays          int     `mapstructure:"max_age_days"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	FreshnessBoostHours int     `mapstructure:"freshness_boost_hours"`
}

// BrowserConfig configures the autonomous crawler.
type BrowserConfig struct {
	MaxPagesPerHour int           `mapstructure:"max_pages_per_hour"`
	HubCooldown     time.Duration `mapstructure:"hub_cooldown"`
	LinkStale       time.Duration `mapstructure:"link_stale"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
}

// QueueConfig configures the outbound action queue.
type QueueConfig struct {
	RateLimitDelay    time.Duration `mapstructure:"rate_limit_delay"`
	MaxRetries        int           `mapstructure:"max_retries"`
	ProactiveCooldown time.Duration `mapstructure:"proactive_cooldown"`
}

// SchedulerConfig configures the tick loop.
type SchedulerConfig struct {
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
	BatchFlushTicks     int           `mapstructure:"batch_flush_ticks"`
}

// Load reads configuration in layers: defaults, then ~/.magpie/config.yaml,
// then ./config.yaml, then MAGPIE_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".magpie")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	localPath := "config.yaml"
	if _, err := os.Stat(localPath); err == nil {
		v2 := viper.New()
		v2.SetConfigFile(localPath)
		if err := v2.ReadInConfig(); err == nil {
			_ = v.MergeConfigMap(v2.AllSettings())
		}
	}

	v.SetEnvPrefix("MAGPIE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "magpie.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 18790)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.chat_model", "gpt-4o-mini")
	v.SetDefault("llm.embed_model", "text-embedding-3-small")
	v.SetDefault("llm.vision_model", "gpt-4o-mini")
	v.SetDefault("llm.speech_model", "tts-1")
	v.SetDefault("llm.voice", "alloy")
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("search.base_url", "http://localhost:8888")
	v.SetDefault("search.timeout", "20s")

	v.SetDefault("agent.max_tool_rounds", 5)
	v.SetDefault("agent.mobile_word_cap", 50)
	v.SetDefault("agent.tool_timeout", "30s")

	v.SetDefault("memory.context_ttl", "1h")
	v.SetDefault("memory.analysis_interval", 5)
	v.SetDefault("memory.summary_max_per_user", 10)

	v.SetDefault("knowledge.max_age_days", 90)
	v.SetDefault("knowledge.similarity_threshold", 0.6)
	v.SetDefault("knowledge.freshness_boost_hours", 24)

	v.SetDefault("browser.max_pages_per_hour", 20)
	v.SetDefault("browser.hub_cooldown", "2h")
	v.SetDefault("browser.link_stale", "24h")
	v.SetDefault("browser.fetch_timeout", "30s")

	v.SetDefault("queue.rate_limit_delay", "2s")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.proactive_cooldown", "15m")

	v.SetDefault("scheduler.tick_interval", "1m")
	v.SetDefault("scheduler.maintenance_interval", "5m")
	v.SetDefault("scheduler.batch_flush_ticks", 30)
}
