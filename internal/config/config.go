package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	HTTPPort string
}

type DynamoDBConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	RoomTable       string
	MemberTable     string
	ModeratorTable  string
	MessageTable    string
	UserTable       string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

func Load() *Config {
	// .env is optional; deployments set real environment variables.
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	return &Config{
		Server: ServerConfig{
			HTTPPort: getEnv("HTTP_PORT", ":8080"),
		},
		DynamoDB: DynamoDBConfig{
			Region:          getEnv("AWS_REGION", "us-west-2"),
			Endpoint:        getEnv("DYNAMODB_ENDPOINT", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RoomTable:       getEnv("DYNAMODB_ROOM_TABLE", "rooms"),
			MemberTable:     getEnv("DYNAMODB_MEMBER_TABLE", "room_members"),
			ModeratorTable:  getEnv("DYNAMODB_MODERATOR_TABLE", "room_moderators"),
			MessageTable:    getEnv("DYNAMODB_MESSAGE_TABLE", "messages"),
			UserTable:       getEnv("DYNAMODB_USER_TABLE", "users"),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
