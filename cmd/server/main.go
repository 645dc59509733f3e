package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"go.uber.org/zap"

	"github.com/learnhub/rooms-service/internal/config"
	"github.com/learnhub/rooms-service/internal/migration"
	"github.com/learnhub/rooms-service/internal/repository"
	"github.com/learnhub/rooms-service/internal/server"
	"github.com/learnhub/rooms-service/internal/service"
)

const presenceReconcileInterval = time.Minute

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DynamoDB client
	awsConfig := &aws.Config{Region: aws.String(cfg.DynamoDB.Region)}
	if cfg.DynamoDB.AccessKeyID != "" && cfg.DynamoDB.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			cfg.DynamoDB.AccessKeyID,
			cfg.DynamoDB.SecretAccessKey,
			"",
		)
	}
	if cfg.DynamoDB.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.DynamoDB.Endpoint)
		logger.Info("using DynamoDB endpoint", zap.String("endpoint", cfg.DynamoDB.Endpoint))
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		logger.Fatal("failed to create AWS session", zap.Error(err))
	}
	dynamoClient := dynamodb.New(sess)

	migrator := migration.NewDynamoDBMigrator(dynamoClient, &cfg.DynamoDB, logger)
	if err := migrator.CreateTables(); err != nil {
		logger.Fatal("failed to create DynamoDB tables", zap.Error(err))
	}

	// Redis client, shared by cache, presence, sessions and pub/sub.
	redisClient, err := repository.NewRedisClient(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Repositories
	store := repository.NewDynamoDBRepository(dynamoClient, cfg.DynamoDB, logger)
	cache := repository.NewCacheService(redisClient, logger)
	presence := repository.NewPresenceTracker(redisClient, logger)
	sessions := repository.NewSessionStore(redisClient)
	notifier := repository.NewRedisNotifier(redisClient, logger)

	// Core service
	roomService := service.NewRoomService(store, cache, notifier, logger)

	// Realtime fan-out
	hub := server.NewHub(logger)
	go hub.Run()
	gateway := server.NewEventGateway(redisClient, hub, logger)
	go gateway.Run(ctx)

	// Periodic presence reconciliation; stale entries also expire via TTL.
	go func() {
		ticker := time.NewTicker(presenceReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				presence.ReconcileAll(ctx)
			}
		}
	}()

	// HTTP server
	handler := server.NewHandler(roomService, presence, logger)
	auth := server.NewAuthMiddleware(sessions, logger)
	wsHandler := server.NewWebSocketHandler(roomService, hub, presence, sessions, logger)
	router := server.NewRouter(handler, auth, wsHandler, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPPort,
		Handler: router,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("addr", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	logger.Info("rooms service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server forced to shutdown", zap.Error(err))
	}
	hub.Close()

	logger.Info("stopped")
}
