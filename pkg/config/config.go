package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	GoogleApiKey   string
	DatabaseURL    string
	ReasoningModel string
	FastModel      string
	EmbeddingModel string
	EmbeddingDim   int
	CollectionName string
	Port           string

	// Retrieval
	TopK             int
	RRFK             int
	RRFWeightSum     float64
	SearchTimeout    time.Duration
	SQLSearchTimeout time.Duration

	// Rerank
	RerankEnabled  bool
	RerankTopN     int
	RerankMinScore float64
	RerankTimeout  time.Duration

	// Generation
	GenerationTimeout time.Duration

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration
	BreakerErrorRate        float64
	BreakerWindowSize       int

	// Self-RAG
	ComplexityThreshold   float64
	RegenerationThreshold float64
	RollbackMargin        float64
	MinQualityToAnswer    float64
	WiderSearchMultiplier int

	// Router
	RuleFile        string
	RouterCacheSize int
	RouterCacheTTL  time.Duration

	// Session
	MaxExchanges int
}

func Load() *Config {
	return &Config{
		GoogleApiKey:   getEnv("GOOGLE_API_KEY", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ReasoningModel: getEnv("REASONING_MODEL", "gemini-3-pro-preview"),
		FastModel:      getEnv("FAST_MODEL", "gemini-3-flash-preview"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		EmbeddingDim:   getEnvAsInt("EMBEDDING_DIMENSION", 1536),
		CollectionName: getEnv("COLLECTION_NAME", "knowledge_base"),
		Port:           getEnv("PORT", "3000"),

		TopK:             getEnvAsInt("TOP_K", 5),
		RRFK:             getEnvAsInt("RRF_K", 60),
		RRFWeightSum:     getEnvAsFloat("RRF_WEIGHT_SUM", 1.0),
		SearchTimeout:    getEnvAsDuration("SEARCH_TIMEOUT", 10*time.Second),
		SQLSearchTimeout: getEnvAsDuration("SQL_SEARCH_TIMEOUT", 5*time.Second),

		RerankEnabled:  getEnvAsBool("RERANK_ENABLED", true),
		RerankTopN:     getEnvAsInt("RERANK_TOP_N", 5),
		RerankMinScore: getEnvAsFloat("RERANK_MIN_SCORE", 0.0),
		RerankTimeout:  getEnvAsDuration("RERANK_TIMEOUT", 5*time.Second),

		GenerationTimeout: getEnvAsDuration("GENERATION_TIMEOUT", 60*time.Second),

		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerSuccessThreshold: getEnvAsInt("BREAKER_SUCCESS_THRESHOLD", 2),
		BreakerTimeout:          getEnvAsDuration("BREAKER_TIMEOUT", 30*time.Second),
		BreakerErrorRate:        getEnvAsFloat("BREAKER_ERROR_RATE", 0.5),
		BreakerWindowSize:       getEnvAsInt("BREAKER_WINDOW_SIZE", 20),

		ComplexityThreshold:   getEnvAsFloat("COMPLEXITY_THRESHOLD", 0.45),
		RegenerationThreshold: getEnvAsFloat("REGENERATION_THRESHOLD", 0.60),
		RollbackMargin:        getEnvAsFloat("ROLLBACK_MARGIN", -0.10),
		MinQualityToAnswer:    getEnvAsFloat("MIN_QUALITY_TO_ANSWER", 0.40),
		WiderSearchMultiplier: getEnvAsInt("WIDER_SEARCH_MULTIPLIER", 2),

		RuleFile:        getEnv("ROUTER_RULE_FILE", "configs/router_rules.json"),
		RouterCacheSize: getEnvAsInt("ROUTER_CACHE_SIZE", 512),
		RouterCacheTTL:  getEnvAsDuration("ROUTER_CACHE_TTL", 10*time.Minute),

		MaxExchanges: getEnvAsInt("MAX_EXCHANGES", 5),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
