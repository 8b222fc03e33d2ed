package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"foresight/pkg/errors"
)

type Config struct {
	App           AppConfig
	Server        ServerConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	AI            AIConfig
	Search        SearchConfig
	Market        MarketConfig
	Notify        NotifyConfig
	Research      ResearchConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"foresight"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
}

type ServerConfig struct {
	Port int `envconfig:"HTTP_PORT" default:"8080"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Enabled  bool   `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"foresight"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
}

type AIConfig struct {
	OpenRouterKey   string        `envconfig:"OPENROUTER_API_KEY" required:"true"`
	BaseURL         string        `envconfig:"OPENROUTER_BASE_URL" default:"https://openrouter.ai/api/v1"`
	QueryModel      string        `envconfig:"AI_QUERY_MODEL" default:"google/gemini-2.0-flash-001"`
	AnalysisModel   string        `envconfig:"AI_ANALYSIS_MODEL" default:"google/gemini-2.0-flash-001"`
	ExtractionModel string        `envconfig:"AI_EXTRACTION_MODEL" default:"google/gemini-2.0-flash-001"`
	Timeout         time.Duration `envconfig:"AI_TIMEOUT" default:"3m"`
	ReqPerMinute    float64       `envconfig:"AI_REQ_PER_MINUTE" default:"60"`
}

type SearchConfig struct {
	BraveKey     string        `envconfig:"BRAVE_API_KEY" required:"true"`
	BaseURL      string        `envconfig:"BRAVE_BASE_URL" default:"https://api.search.brave.com/res/v1"`
	Timeout      time.Duration `envconfig:"SEARCH_TIMEOUT" default:"30s"`
	ReqPerMinute float64       `envconfig:"SEARCH_REQ_PER_MINUTE" default:"30"`
}

type MarketConfig struct {
	GammaBaseURL string        `envconfig:"GAMMA_BASE_URL" default:"https://gamma-api.polymarket.com"`
	Timeout      time.Duration `envconfig:"MARKET_TIMEOUT" default:"15s"`
}

type NotifyConfig struct {
	Enabled     bool   `envconfig:"NOTIFY_ENABLED" default:"false"`
	ResendKey   string `envconfig:"RESEND_API_KEY"`
	FromAddress string `envconfig:"NOTIFY_FROM_ADDRESS" default:"research@foresight.local"`
}

// ResearchConfig contains knobs for the research pipeline.
// Defaults mirror production: sequential queries per iteration to stay
// inside search API quotas, bounded prompt budgets for model context limits.
type ResearchConfig struct {
	DefaultMaxIterations int           `envconfig:"RESEARCH_DEFAULT_MAX_ITERATIONS" default:"3"`
	MaxMaxIterations     int           `envconfig:"RESEARCH_MAX_MAX_ITERATIONS" default:"10"`
	QueriesPerIteration  int           `envconfig:"RESEARCH_QUERIES_PER_ITERATION" default:"5"`
	ResultsPerQuery      int           `envconfig:"RESEARCH_RESULTS_PER_QUERY" default:"10"`
	AnalysisCharBudget   int           `envconfig:"RESEARCH_ANALYSIS_CHAR_BUDGET" default:"20000"`
	FinalCharBudget      int           `envconfig:"RESEARCH_FINAL_CHAR_BUDGET" default:"25000"`
	QueuePollInterval    time.Duration `envconfig:"RESEARCH_QUEUE_POLL_INTERVAL" default:"15s"`
	WriteRetryAttempts   int           `envconfig:"RESEARCH_WRITE_RETRY_ATTEMPTS" default:"3"`
	WriteRetryBackoff    time.Duration `envconfig:"RESEARCH_WRITE_RETRY_BACKOFF" default:"500ms"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables.
// It first tries to load a .env file (useful for local development).
func Load() (*Config, error) {
	// .env is optional; environment variables win
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "process environment config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Research.DefaultMaxIterations < 1 {
		return errors.Wrapf(errors.ErrInvalidInput, "RESEARCH_DEFAULT_MAX_ITERATIONS must be >= 1, got %d", c.Research.DefaultMaxIterations)
	}
	if c.Research.QueriesPerIteration < 1 {
		return errors.Wrapf(errors.ErrInvalidInput, "RESEARCH_QUERIES_PER_ITERATION must be >= 1, got %d", c.Research.QueriesPerIteration)
	}
	if c.Notify.Enabled && c.Notify.ResendKey == "" {
		return errors.Wrap(errors.ErrInvalidInput, "RESEND_API_KEY required when NOTIFY_ENABLED=true")
	}
	return nil
}
