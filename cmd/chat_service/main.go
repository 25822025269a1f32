package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_stream_service/internal/chat/app"
	"chat_stream_service/internal/chat/repository"
	"chat_stream_service/internal/chat/router"
	"chat_stream_service/pkg/config"
	"chat_stream_service/pkg/database"
	"chat_stream_service/pkg/logger"
	"chat_stream_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatService, config.EnvConfig.ChatServiceLogPath)
	cfg, err := config.LoadConfig[config.Chat](config.EnvConfig.ChatService, config.EnvConfig.ChatServiceYAMLPath)
	if err != nil {
		logger.Log.Fatal("load config failed", zap.Error(err))
	}
	token.SetSecret(cfg.JWTSecret)

	ctx := context.Background()

	// 1. message store
	var msgRepo repository.MessageRepository
	switch cfg.Store.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.Database)
		db, err := database.NewPostgresConnection(database.Connection{
			ConnectStr:    dsn,
			RetryCount:    cfg.Postgres.RetryCount,
			RetryInterval: time.Duration(cfg.Postgres.RetryInterval) * time.Second,
		})
		if err != nil {
			logger.Log.Fatal("Unable to connect to postgreSQL database after retries", zap.Error(err))
		}
		msgRepo, err = repository.NewGormMessageRepository(db)
		if err != nil {
			logger.Log.Fatal("postgres migrate failed", zap.Error(err))
		}
	default:
		uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoSQL.User, cfg.MongoSQL.Password, cfg.MongoSQL.Host, cfg.MongoSQL.Port)
		mongo, err := database.NewMongoDB(ctx,
			database.Connection{
				ConnectStr:    uri,
				RetryCount:    cfg.MongoSQL.RetryCount,
				RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval) * time.Second,
			},
			cfg.MongoSQL.Database)
		if err != nil {
			logger.Log.Fatal(
				"Unable to connect to mongoDB database after retries",
				zap.String("host", cfg.MongoSQL.Host),
				zap.Error(err),
			)
		}
		defer mongo.Close(ctx)
		if err := repository.EnsureIndexes(ctx, mongo.Database); err != nil {
			logger.Log.Fatal("mongo ensure indexes failed", zap.Error(err))
		}
		msgRepo = repository.NewMongoMessageRepository(mongo.Database)
	}

	// 2. Redis 連線 (Pub/Sub)
	redisClient, err := database.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.RedisDB)
	if err != nil {
		logger.Log.Fatal("connect redis err", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	defer redisClient.Close()

	// 3. MinIO attachments
	minioClient, err := database.NewMinIOConnection(database.MinIOConnection{
		Endpoint:      cfg.MinIO.Endpoint,
		User:          cfg.MinIO.User,
		Password:      cfg.MinIO.Password,
		BucketName:    cfg.MinIO.BucketName,
		UseSSL:        cfg.MinIO.UseSSL,
		RetryCount:    cfg.MinIO.RetryCount,
		RetryInterval: time.Duration(cfg.MinIO.RetryInterval) * time.Second,
	})
	if err != nil {
		logger.Log.Fatal("connect minio err", zap.String("endpoint", cfg.MinIO.Endpoint), zap.Error(err))
	}

	// 4. UseCases
	pub := repository.NewRedisPubSub(redisClient)
	messageUC := app.NewMessageUseCase(msgRepo, pub)
	attachmentUC := app.NewAttachmentUseCase(
		repository.NewMinIOAttachmentRepository(minioClient, cfg.MinIO.PublicURL),
		cfg.Store.MaxUploadBytes,
	)

	// 5. Fiber
	r := fiber.New(fiber.Config{BodyLimit: bodyLimit(cfg.Store.MaxUploadBytes)})
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Log.Fatal("Failed to open access log", zap.Error(err))
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file, // 将日志输出到文件
	}))

	router.RegisterRoutes(r,
		app.NewChatHTTPHandler(messageUC, attachmentUC),
		app.NewChatWebsocketHandler(messageUC, pub),
	)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Log.Info("shutting down")
		if err := r.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Log.Error("shutdown failed", zap.Error(err))
		}
	}()

	port := ":" + cfg.Port
	logger.Log.Info("Chat Service listening", zap.String("port", port), zap.String("store", storeName(cfg.Store.Driver)))
	if err := r.Listen(port); err != nil {
		logger.Log.Fatal("Failed to start Fiber", zap.Error(err))
	}
}

func storeName(driver string) string {
	if driver == "postgres" {
		return driver
	}
	return "mongo"
}

// bodyLimit leave room for the multipart framing around an upload
func bodyLimit(maxUpload int64) int {
	if maxUpload <= 0 {
		return fiber.DefaultBodyLimit
	}
	return int(maxUpload) + 64*1024
}
