// Standalone helper for local development: creates the service tables
// against DynamoDB Local. Run with: go run ./internal/scripts
package main

import (
	"flag"
	"log"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"go.uber.org/zap"

	"github.com/learnhub/rooms-service/internal/config"
	"github.com/learnhub/rooms-service/internal/migration"
)

func main() {
	recreate := flag.Bool("recreate", false, "drop existing tables first")
	flag.Parse()

	cfg := config.Load()

	endpoint := cfg.DynamoDB.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:8000"
	}

	sess, err := session.NewSession(&aws.Config{
		Region:   aws.String(cfg.DynamoDB.Region),
		Endpoint: aws.String(endpoint),
		Credentials: credentials.NewStaticCredentials(
			"fakeAccessKeyId",
			"fakeSecretAccessKey",
			"",
		),
	})
	if err != nil {
		log.Fatalf("Failed to create AWS session: %v", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	migrator := migration.NewDynamoDBMigrator(dynamodb.New(sess), &cfg.DynamoDB, logger)
	if *recreate {
		if err := migrator.DropTables(); err != nil {
			logger.Fatal("failed to drop tables", zap.Error(err))
		}
	}
	if err := migrator.CreateTables(); err != nil {
		logger.Fatal("failed to create tables", zap.Error(err))
	}
	logger.Info("all tables created")
}
