package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings read from the environment.
type Config struct {
	Port    string
	GinMode string

	StorageBackend string
	DataDir        string
	SQLitePath     string
	DatabaseDSN    string
	SupabaseURL    string
	SupabaseKey    string

	SessionBackend  string
	HubBackend      string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	JWTSecret       string
	SessionTTLHours int

	AIProvider     string
	CozeAPIURL     string
	CozeAPIKey     string
	CozeBotCoach   string
	CozeBotLounge  string
	OpenAIKey      string
	OpenAIModel    string
	OpenAIBaseURL  string
	DefaultLang    string
	CookieSecure   bool
	SweepUnbinding bool
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("WARNING: no .env file found, using process environment")
	}

	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", ""),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "json")),
		DataDir:        getEnv("DATA_DIR", "data"),
		SQLitePath:     getEnv("SQLITE_PATH", "betweenus.db"),
		DatabaseDSN:    getEnv("DATABASE_DSN", ""),
		SupabaseURL:    getEnv("SUPABASE_URL", ""),
		SupabaseKey:    getEnv("SUPABASE_KEY", ""),

		SessionBackend:  strings.ToLower(getEnv("SESSION_BACKEND", "memory")),
		HubBackend:      strings.ToLower(getEnv("HUB_BACKEND", "local")),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		SessionTTLHours: getEnvInt("SESSION_TTL_HOURS", 72),

		AIProvider:    strings.ToLower(getEnv("AI_PROVIDER", "coze")),
		CozeAPIURL:    getEnv("COZE_API_URL", DefaultCozeAPIURL),
		CozeAPIKey:    getEnv("COZE_API_KEY", ""),
		CozeBotCoach:  getEnv("COZE_BOT_ID_COACH", ""),
		CozeBotLounge: getEnv("COZE_BOT_ID_LOUNGE", ""),
		OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		DefaultLang:   getEnv("DEFAULT_LANG", "zh"),

		CookieSecure:   getEnvBool("COOKIE_SECURE", false),
		SweepUnbinding: getEnvBool("SWEEP_UNBINDING", true),
	}

	if cfg.CozeAPIKey == "" && cfg.AIProvider == "coze" {
		log.Println("WARNING: COZE_API_KEY is empty, AI replies will report the service as unconfigured")
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("WARNING: %s=%q is not an integer, using %d", key, value, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("WARNING: %s=%q is not a boolean, using %t", key, value, fallback)
		return fallback
	}
	return b
}
