package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API, the batch workers and the CLI.
type Config struct {
	Port string

	// AuthTokens maps bearer tokens to the actor id they authenticate.
	AuthTokens map[string]string

	DatabaseURL         string
	DatabaseAutoMigrate bool

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisLeasePrefix string
	LeaseTTLSeconds  int

	ContentProvider string

	OpenRouterAPIKey        string
	OpenRouterBaseURL       string
	OpenRouterModel         string
	OpenRouterFallbackModel string
	OpenRouterSiteURL       string
	OpenRouterAppName       string
	OpenRouterMaxRetries    int

	GeminiAPIKey string
	GeminiModel  string

	GenerationTimeoutMS  int
	WorkerItemDelayMS    int
	WorkerRetryBackoffMS int
	QueueMaxAttempts     int
	DefaultCostPerRegion float64

	ContentMinQualityScore float64

	RegionCatalogPath string

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	LogLevel       string
	LogDevelopment bool

	WorkerEnabled bool
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthTokens: parseAuthTokens(getEnv("API_AUTH_TOKENS", "")),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseAutoMigrate: getEnvBool("DATABASE_AUTO_MIGRATE", true),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisLeasePrefix: getEnv("REDIS_LEASE_PREFIX", "regionqueue:lease:"),
		LeaseTTLSeconds:  getEnvInt("LEASE_TTL_SECONDS", 60),

		ContentProvider: strings.ToLower(getEnv("CONTENT_PROVIDER", "openrouter")),

		OpenRouterAPIKey:        getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:       getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModel:         getEnv("OPENROUTER_MODEL", "openai/gpt-4.1-mini"),
		OpenRouterFallbackModel: getEnv("OPENROUTER_FALLBACK_MODEL", ""),
		OpenRouterSiteURL:       getEnv("OPENROUTER_SITE_URL", ""),
		OpenRouterAppName:       getEnv("OPENROUTER_APP_NAME", "Region Queue"),
		OpenRouterMaxRetries:    getEnvInt("OPENROUTER_MAX_RETRIES", 2),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		GenerationTimeoutMS:  getEnvInt("GENERATION_TIMEOUT_MS", 120000),
		WorkerItemDelayMS:    getEnvInt("WORKER_ITEM_DELAY_MS", 2000),
		WorkerRetryBackoffMS: getEnvInt("WORKER_RETRY_BACKOFF_MS", 1000),
		QueueMaxAttempts:     getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		DefaultCostPerRegion: getEnvFloat("DEFAULT_COST_PER_REGION", 0.05),

		ContentMinQualityScore: getEnvFloat("CONTENT_MIN_QUALITY_SCORE", 0.5),

		RegionCatalogPath: getEnv("REGION_CATALOG_PATH", ""),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogDevelopment: getEnvBool("LOG_DEVELOPMENT", false),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
	}
}

func (c Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutMS) * time.Millisecond
}

func (c Config) WorkerItemDelay() time.Duration {
	return time.Duration(c.WorkerItemDelayMS) * time.Millisecond
}

func (c Config) WorkerRetryBackoff() time.Duration {
	return time.Duration(c.WorkerRetryBackoffMS) * time.Millisecond
}

func (c Config) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

// parseAuthTokens reads "token:actor,token2:actor2". A bare token authenticates
// as an actor with the same name.
func parseAuthTokens(raw string) map[string]string {
	tokens := make(map[string]string)
	for _, entry := range splitList(raw) {
		token, actor, found := strings.Cut(entry, ":")
		token = strings.TrimSpace(token)
		actor = strings.TrimSpace(actor)
		if token == "" {
			continue
		}
		if !found || actor == "" {
			actor = token
		}
		tokens[token] = actor
	}
	return tokens
}

func splitList(raw string) []string {
	values := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
