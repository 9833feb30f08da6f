package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backend names accepted by JOBPILOT_STORE.
const (
	StoreFile      = "file"
	StoreMemory    = "memory"
	StoreSurrealDB = "surrealdb"
	StoreRedis     = "redis"
	StorePostgres  = "postgres"
)

// LLM provider names accepted by JOBPILOT_LLM_PROVIDER.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogleAI  = "googleai"
	ProviderBedrock   = "bedrock"
)

// Config holds all process configuration values. User settings (resume,
// queries, assistant mode) live in the settings store, not here.
type Config struct {
	// Daemon
	ListenAddr string        `env:"JOBPILOT_ADDR" envDefault:"127.0.0.1:7878"`
	ServerURL  string        `env:"JOBPILOT_SERVER_URL" envDefault:"http://127.0.0.1:7878"`
	JobTimeout time.Duration `env:"JOBPILOT_JOB_TIMEOUT" envDefault:"2m"`

	// Persistence
	Store        string `env:"JOBPILOT_STORE" envDefault:"file"`
	StateFile    string `env:"JOBPILOT_STATE_FILE"`
	SettingsFile string `env:"JOBPILOT_SETTINGS_FILE"`

	// SurrealDB connection
	SurrealDBURL       string `env:"SURREALDB_URL" envDefault:"ws://localhost:8000/rpc"`
	SurrealDBNamespace string `env:"SURREALDB_NAMESPACE" envDefault:"jobpilot"`
	SurrealDBDatabase  string `env:"SURREALDB_DATABASE" envDefault:"automation"`
	SurrealDBUser      string `env:"SURREALDB_USER" envDefault:"root"`
	SurrealDBPass      string `env:"SURREALDB_PASS" envDefault:"root"`
	SurrealDBAuthLevel string `env:"SURREALDB_AUTH_LEVEL" envDefault:"root"`

	// Redis
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisKey      string `env:"JOBPILOT_REDIS_KEY" envDefault:"jobpilot:state"`

	// Postgres
	PostgresDSN string `env:"POSTGRES_DSN" envDefault:"postgres://localhost:5432/jobpilot"`

	// Chrome
	ChromeRemoteURL   string `env:"CHROME_REMOTE_URL"`
	ChromeHeadless    bool   `env:"CHROME_HEADLESS" envDefault:"false"`
	ChromeUserDataDir string `env:"CHROME_USER_DATA_DIR"`

	// LLM provider for the "provider" assistant mode
	LLMProvider     string `env:"JOBPILOT_LLM_PROVIDER" envDefault:"ollama"`
	LLMModel        string `env:"JOBPILOT_LLM_MODEL" envDefault:"llama3.1"`
	OllamaHost      string `env:"OLLAMA_HOST" envDefault:"http://localhost:11434"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	GoogleAPIKey    string `env:"GOOGLE_API_KEY"`

	// Scheduling
	FetchCron        string `env:"JOBPILOT_FETCH_CRON"`
	AutostartOnFetch bool   `env:"JOBPILOT_AUTOSTART_ON_FETCH" envDefault:"false"`

	// Logging
	LogFile     string     `env:"JOBPILOT_LOG_FILE" envDefault:"/tmp/jobpilot.log"`
	LogLevelRaw string     `env:"JOBPILOT_LOG_LEVEL" envDefault:"INFO"`
	LogLevel    slog.Level
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; variables already set in
// the environment take precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.LogLevel = parseLogLevel(cfg.LogLevelRaw)
	cfg.Store = strings.ToLower(cfg.Store)
	cfg.LLMProvider = strings.ToLower(cfg.LLMProvider)
	if cfg.StateFile == "" {
		cfg.StateFile = defaultStateFile()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}

	return cfg, nil
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "jobpilot-state.json"
	}
	return filepath.Join(dir, "jobpilot", "state.json")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
