// Package config loads server configuration from the environment, with
// optional .env support for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Backend identifiers accepted by the LLM_BACKEND and STORE_BACKEND
// environment variables.
const (
	LLMBackendLlama  = "llama"
	LLMBackendGemini = "gemini"
	LLMBackendMock   = "mock"

	StoreBackendMemory = "memory"
	StoreBackendMongo  = "mongo"
)

// Config holds every runtime setting the server reads.
type Config struct {
	Port string

	LLMBackend   string
	LlamaBaseURL string
	GeminiAPIKey string
	GeminiModel  string

	StoreBackend  string
	MongoURI      string
	MongoDatabase string

	FreeTextTemperature   float64
	StructuredTemperature float64
	MaxTokens             int
	ChatDeadline          time.Duration
	ProcessingDeadline    time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() Config {
	godotenv.Load()

	return Config{
		Port: getEnv("PORT", "8080"),

		LLMBackend:   getEnv("LLM_BACKEND", LLMBackendLlama),
		LlamaBaseURL: getEnv("LLAMA_BASE_URL", "http://localhost:8081"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  os.Getenv("GEMINI_MODEL"),

		StoreBackend:  getEnv("STORE_BACKEND", StoreBackendMemory),
		MongoURI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGODB_DATABASE", "easygp"),

		FreeTextTemperature:   getEnvFloat("FREE_TEXT_TEMPERATURE", 0.7),
		StructuredTemperature: getEnvFloat("STRUCTURED_TEMPERATURE", 0.2),
		MaxTokens:             getEnvInt("MAX_TOKENS", 500),
		ChatDeadline:          getEnvDuration("CHAT_DEADLINE", 60*time.Second),
		ProcessingDeadline:    getEnvDuration("PROCESSING_DEADLINE", 15*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
