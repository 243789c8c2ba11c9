package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	LogLevel    string

	// OpenAI backs transcription, generation and synthesis.
	OpenAIKey   string
	OpenAIModel string

	// Collaborator endpoints.
	AuthServiceURL string
	JobMarketURL   string
	JobMarketKey   string

	// Session store. Empty SQLitePath selects the in-memory store.
	SQLitePath string

	// Blob storage. Empty URL selects the in-memory store.
	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	// Sequencer policy overrides.
	ConfidenceThreshold float64
	ShutdownTimeout     time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using process environment")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set - transcription, generation and synthesis will not work")
	}
	model := os.Getenv("OPENAI_MODEL")

	authURL := os.Getenv("AUTH_SERVICE_URL")
	if authURL == "" {
		log.Warn().Msg("AUTH_SERVICE_URL not set - falling back to DEV_TOKEN static auth")
	}

	jobMarketURL := os.Getenv("JOB_MARKET_URL")
	jobMarketKey := os.Getenv("JOB_MARKET_API_KEY")

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		log.Warn().Msg("SQLITE_PATH not set - sessions are kept in memory and lost on restart")
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_KEY")
	bucket := os.Getenv("SUPABASE_BUCKET")
	if bucket == "" {
		bucket = "session-audio"
	}
	if supabaseURL == "" {
		log.Warn().Msg("SUPABASE_URL not set - audio artifacts are kept in memory")
	}

	threshold := 0.55
	if v := os.Getenv("CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f < 1 {
			threshold = f
		} else {
			log.Warn().Str("value", v).Msg("ignoring invalid CONFIDENCE_THRESHOLD")
		}
	}

	log.Info().Str("http_address", addr).Str("log_level", level).Msg("config loaded")
	return Config{
		HTTPAddress:         addr,
		LogLevel:            level,
		OpenAIKey:           openAIKey,
		OpenAIModel:         model,
		AuthServiceURL:      authURL,
		JobMarketURL:        jobMarketURL,
		JobMarketKey:        jobMarketKey,
		SQLitePath:          sqlitePath,
		SupabaseURL:         supabaseURL,
		SupabaseKey:         supabaseKey,
		SupabaseBucket:      bucket,
		ConfidenceThreshold: threshold,
		ShutdownTimeout:     10 * time.Second,
	}
}
