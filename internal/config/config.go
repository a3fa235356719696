package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration, built once in main and passed
// explicitly into handlers and services. Treated as read-only after startup.
type Config struct {
	Port        string
	Environment string
	CORSOrigins string

	// Knowledge base
	AWSRegion       string
	KnowledgeBaseID string
	ModelARN        string

	// DynamoDB
	ConversationTable string
	UserTable         string
	DateIndex         string
	FeedbackIndex     string

	// Admin auth (Cognito user pool JWKS). Empty disables admin auth,
	// dev only.
	CognitoJWKSURL string

	// Streaming
	StreamTimeout     time.Duration // ceiling for one upstream generation call
	KeepAliveInterval time.Duration
	DefaultResults    int // numberOfResults when the client omits it
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "dev"),
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),

		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		KnowledgeBaseID: getEnv("KNOWLEDGE_BASE_ID", ""),
		ModelARN:        getEnv("MODEL_ARN", "global.amazon.nova-2-lite-v1:0"),

		ConversationTable: getEnv("CONVERSATION_HISTORY_TABLE", "conversation-history"),
		UserTable:         getEnv("USER_TABLE_NAME", "user-information"),
		DateIndex:         getEnv("DATE_INDEX", "date-timestamp-index"),
		FeedbackIndex:     getEnv("FEEDBACK_INDEX", "feedback-timestamp-index"),

		CognitoJWKSURL: getEnv("COGNITO_JWKS_URL", ""),

		StreamTimeout:     getDuration("STREAM_TIMEOUT", 120*time.Second),
		KeepAliveInterval: getDuration("KEEPALIVE_INTERVAL", 10*time.Second),
		DefaultResults:    getInt("DEFAULT_NUMBER_OF_RESULTS", 5),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
