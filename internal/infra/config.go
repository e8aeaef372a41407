package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

// Config represents application configuration loaded from environment variables.
// It is built once at startup and handed to every constructor that needs it.
type Config struct {
	AppEnv      string
	Port        string
	StoreDriver string
	DatabaseURL string
	SQLitePath  string
	ArtifactDir string

	StageTimeout       time.Duration
	SegmentSeconds     int
	SubStepConcurrency int
	ProviderRetries    int

	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	ReaperInterval     time.Duration
	StaleJobAfter      time.Duration

	FFmpegPath string

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIOrg         string
	GeminiAPIKey      string
	GeminiBaseURL     string
	DashScopeAPIKey   string
	DashScopeBaseURL  string
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	AssemblyAIAPIKey  string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
}

// DotEnvFiles are loaded in order; variables already set are never overridden.
var DotEnvFiles = []string{".env", ".env.local"}

// LoadDotEnv loads each file that exists. A missing file is skipped, a malformed one is an error.
func LoadDotEnv(files ...string) error {
	for _, name := range files {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", name, err)
		}
	}
	return nil
}

// LoadConfig loads .env files when present, then reads the environment and applies defaults.
func LoadConfig() (*Config, error) {
	if err := LoadDotEnv(DotEnvFiles...); err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./genpipe.db"),
		ArtifactDir:        getEnv("ARTIFACT_DIR", "./artifacts"),
		StageTimeout:       getEnvDuration("STAGE_TIMEOUT", 30*time.Minute),
		SegmentSeconds:     getEnvInt("SEGMENT_SECONDS", 600),
		SubStepConcurrency: getEnvInt("SUBSTEP_CONCURRENCY", 2),
		ProviderRetries:    getEnvInt("PROVIDER_RETRIES", 2),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		ReaperInterval:     getEnvDuration("REAPER_INTERVAL", time.Minute),
		StaleJobAfter:      getEnvDuration("STALE_JOB_AFTER", 45*time.Minute),
		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		OpenAIAPIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:          os.Getenv("OPENAI_ORG"),
		GeminiAPIKey:       strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		DashScopeAPIKey:    strings.TrimSpace(os.Getenv("DASHSCOPE_API_KEY")),
		DashScopeBaseURL:   getEnv("DASHSCOPE_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		ElevenLabsAPIKey:   strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		ElevenLabsBaseURL:  getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"),
		AssemblyAIAPIKey:   strings.TrimSpace(os.Getenv("ASSEMBLYAI_API_KEY")),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:        splitList(os.Getenv("CORS_ORIGINS")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for store driver %q", c.StoreDriver)
		}
	case StoreDriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for store driver %q", c.StoreDriver)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("STAGE_TIMEOUT must be positive")
	}
	if c.SegmentSeconds <= 0 {
		return fmt.Errorf("SEGMENT_SECONDS must be positive")
	}
	if c.SubStepConcurrency < 1 {
		c.SubStepConcurrency = 1
	}
	if c.WorkerConcurrency < 1 {
		c.WorkerConcurrency = 1
	}
	if c.ProviderRetries < 0 {
		c.ProviderRetries = 0
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
