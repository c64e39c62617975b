package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey string
	MySQLDSN     string
	HistoryDBURL string
	HTTPPort     string
	LogLevel     string

	SQLModel       string
	AnswerModel    string
	DocModel       string
	EmbeddingModel string

	DBPoolSize     int
	DBPoolOverflow int

	GuardEnabled bool
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		MySQLDSN:     getEnv("MYSQL_DSN", "root:your_new_password@tcp(localhost:3306)/poc?parseTime=true"),
		HistoryDBURL: getEnv("HISTORY_DATABASE_URL", "apexcise_history.db"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),

		SQLModel:       getEnv("LLM_SQL_MODEL", "gemini-1.5-flash-latest"),
		AnswerModel:    getEnv("LLM_ANSWER_MODEL", "gemini-1.5-pro-latest"),
		DocModel:       getEnv("LLM_DOC_MODEL", "gemini-1.5-flash-latest"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-004"),

		DBPoolSize:     getEnvAsInt("DB_POOL_SIZE", 20),
		DBPoolOverflow: getEnvAsInt("DB_POOL_OVERFLOW", 40),

		GuardEnabled: getEnvAsBool("GUARD_ENABLED", false),
	}

	if AppConfig.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable is required")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
