package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	OpenAIKey       string
	ChatModel       string
	ClassifyModel   string
	SpecialistModel string
	VisionModel     string
	EmbeddingModel  string

	DatabaseURL string

	AvatarWSURL          string
	AvatarAPIKey         string
	AvatarPersonaID      string
	DisableBrains        bool
	DisableFillerPhrases bool

	PatientLocality string
	PatientRegion   string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set - model calls will not work")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Warn().Msg("DATABASE_URL not set - knowledge and clinician retrieval disabled")
	}

	avatarURL := os.Getenv("AVATAR_WS_URL")
	avatarKey := os.Getenv("AVATAR_API_KEY")
	if avatarURL != "" && avatarKey == "" {
		log.Warn().Msg("AVATAR_API_KEY not set - avatar session will not authenticate")
	}

	log.Info().Str("http_address", addr).Msg("config loaded")
	return Config{
		HTTPAddress:          addr,
		OpenAIKey:            openAIKey,
		ChatModel:            envOr("OPENAI_MODEL_CHAT", "gpt-4o"),
		ClassifyModel:        envOr("OPENAI_MODEL_CLASSIFY", "gpt-4o-mini"),
		SpecialistModel:      envOr("OPENAI_MODEL_SPECIALIST", "gpt-4o-mini"),
		VisionModel:          envOr("OPENAI_MODEL_VISION", "gpt-4o-mini"),
		EmbeddingModel:       envOr("OPENAI_MODEL_EMBEDDING", "text-embedding-3-small"),
		DatabaseURL:          dbURL,
		AvatarWSURL:          avatarURL,
		AvatarAPIKey:         avatarKey,
		AvatarPersonaID:      os.Getenv("AVATAR_PERSONA_ID"),
		DisableBrains:        os.Getenv("AVATAR_DISABLE_BRAINS") != "false",
		DisableFillerPhrases: os.Getenv("AVATAR_DISABLE_FILLER_PHRASES") == "true",
		PatientLocality:      envOr("PATIENT_LOCALITY", "Boston"),
		PatientRegion:        envOr("PATIENT_REGION", "MA"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
