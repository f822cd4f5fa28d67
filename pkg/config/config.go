package config

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort            string
	LogLevel            string
	DBPath              string
	EmbeddingsAPIURL    string
	EmbeddingsAPIKey    string
	EmbeddingsModel     string
	WeaviateHost        string
	WeaviateScheme      string
	VectorSearchTimeout string
	TenantID            string
}

func getEnv(key, defaultValue string, printEnv bool) string {
	logger := log.Default()
	value := os.Getenv(key)
	if printEnv {
		logger.Info("Env", "key", key, "value", value)
	}
	if value == "" {
		return defaultValue
	}
	return value
}

func LoadConfig(printEnv bool) (*Config, error) {
	_ = godotenv.Load()

	conf := &Config{
		HTTPPort:            getEnv("HTTP_PORT", "44810", printEnv),
		LogLevel:            getEnv("LOG_LEVEL", "debug", printEnv),
		DBPath:              getEnv("DB_PATH", "./output/sqlite/lorekeeper.db", printEnv),
		EmbeddingsAPIURL:    getEnv("EMBEDDINGS_API_URL", "https://api.openai.com/v1", printEnv),
		EmbeddingsAPIKey:    getEnv("EMBEDDINGS_API_KEY", "", printEnv),
		EmbeddingsModel:     getEnv("EMBEDDINGS_MODEL", "text-embedding-3-small", printEnv),
		WeaviateHost:        getEnv("WEAVIATE_HOST", "localhost:51414", printEnv),
		WeaviateScheme:      getEnv("WEAVIATE_SCHEME", "http", printEnv),
		VectorSearchTimeout: getEnv("VECTOR_SEARCH_TIMEOUT", "10s", printEnv),
		TenantID:            getEnv("TENANT_ID", "default", printEnv),
	}

	return conf, nil
}
