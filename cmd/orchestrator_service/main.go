package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transcode_pipeline_service/internal/orchestrator/app"
	"transcode_pipeline_service/internal/orchestrator/domain"
	"transcode_pipeline_service/internal/orchestrator/repository"
	"transcode_pipeline_service/pkg/config"
	"transcode_pipeline_service/pkg/database"
	"transcode_pipeline_service/pkg/logger"
	testtool "transcode_pipeline_service/pkg/test_tool"

	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.Orchestrator, config.EnvConfig.OrchestratorLogPath)

	cfg := config.LoadConfig[config.Orchestrator](config.EnvConfig.Orchestrator, config.EnvConfig.OrchestratorYAMLPath)

	testtool.StartPprof()

	// 1. 連線 PostgreSQL
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		cfg.PostgreSQL.Host, cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Database, cfg.PostgreSQL.Port)
	db, err := database.NewPGConnection(database.Connection{
		ConnectStr: dsn,

		RetryCount:    cfg.PostgreSQL.RetryCount,
		RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to postgreSQL database after retries",
			zap.String("address", fmt.Sprintf("[%s]", dsn)),
			zap.Error(err),
		)
	}

	// 自動遷移工作資料表
	jobRepo := repository.NewJobRepo(db)
	if err := jobRepo.AutoMigrate(); err != nil {
		log.Fatalf("資料表遷移失敗: %v", err)
	}

	// 2. 連線 Redis（分布式鎖）
	masterName, sentinelAddrs := config.GetRedisSetting()
	redisClient, err := database.NewRedisClient(masterName, sentinelAddrs, cfg.Redis.RedisDB)
	if err != nil {
		logger.Log.Fatal("Unable to connect to redis", zap.Error(err))
	}
	lockProvider := database.NewRedisLockProvider(redisClient)

	// 3. 連線 RabbitMQ（上傳事件佇列）
	rabbitURL := fmt.Sprintf("amqp://%s:%s@%s:%s/", cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.IP, cfg.RabbitMQ.Port)
	conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
		ConnectStr:    rabbitURL,
		RetryCount:    cfg.RabbitMQ.RetryCount,
		RetryInterval: cfg.RabbitMQ.RetryInterval,
	})
	if err != nil {
		log.Fatalf("RabbitMQ 連線失敗: %v", err)
	}
	defer conn.Close()

	rabbitChannel, err := database.GetRabbitMQChannelWithRetry(conn, cfg.RabbitMQ.RetryCount, cfg.RabbitMQ.RetryInterval)
	if err != nil {
		log.Fatalf("取得 RabbitMQ Channel 失敗: %v", err)
	}
	defer rabbitChannel.Close()

	// 先初始化一個 queue name = video.uploaded
	if _, err := rabbitChannel.QueueDeclare(
		domain.UploadQueueName, // queue name
		true,                   // durable
		false,                  // autoDelete
		false,                  // exclusive
		false,                  // noWait
		nil,                    // arguments
	); err != nil {
		log.Fatalf("Queue Declare failed: %v", err)
	}
	rabbitRepo := database.NewRabbitRepository(rabbitChannel)

	// 4. 建立 Kafka Publisher（完成/失敗事件）
	kafkaPublisher, err := database.NewKafkaPublisherWithRetry(database.KafkaConnection{
		Brokers:       cfg.KafKa.Brokers,
		Topic:         domain.TranscodedTopic, // 連線檢查用
		RetryCount:    cfg.KafKa.RetryCount,
		RetryInterval: cfg.KafKa.RetryInterval,
	})
	if err != nil {
		log.Fatalf("Kafka Publisher 建立失敗: %v", err)
	}
	defer kafkaPublisher.Close()

	// 5. 初始化 MinIO 客戶端（原始檔下載、轉碼結果上傳）
	minioClient, err := database.NewMinIOConnection(database.MinIOConnection{
		Endpoint:   fmt.Sprintf("%s:%d", cfg.MinIO.Host, cfg.MinIO.Port),
		User:       cfg.MinIO.User,
		Password:   cfg.MinIO.Password,
		BucketName: cfg.MinIO.BucketName,
		UseSSL:     cfg.MinIO.UseSSL,

		RetryCount:    cfg.MinIO.RetryCount,
		RetryInterval: cfg.MinIO.RetryInterval,
	})
	if err != nil {
		logger.Log.Fatal("Unable to connect to minio after retries", zap.Error(err))
	}

	engine := app.NewFFmpegEngine(minioClient, selectProfiles(cfg.Processor.Profiles))

	coordinator := app.NewCoordinator(jobRepo, lockProvider, rabbitRepo, cfg.Lock.TTL)
	processor := app.NewProcessor(jobRepo, engine, cfg.Processor.PollInterval, cfg.Processor.EngineRetryCount)
	notifier := app.NewNotifier(jobRepo, kafkaPublisher,
		cfg.Notifier.PollInterval, cfg.Notifier.SettleTime,
		cfg.Notifier.PublishRetryCount, cfg.Notifier.MaxAttempts)

	// 使用 context 控制三個背景工作的生命週期
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go coordinator.StartConsumer(ctx)
	go processor.Run(ctx)
	go notifier.Run(ctx)

	logger.Log.Info("orchestrator service started",
		zap.String("upload_queue", domain.UploadQueueName),
		zap.String("transcoded_topic", domain.TranscodedTopic),
	)

	// 等待中斷訊號後優雅關閉
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Log.Info("shutting down", zap.String("signal", sig.String()))
	cancel()

	// 給背景工作一點時間結束當前批次
	time.Sleep(time.Second)
}

// selectProfiles 依設定名稱挑選輸出畫質，未指定時用預設
func selectProfiles(names []string) []app.EncodeProfile {
	if len(names) == 0 {
		return nil
	}
	var selected []app.EncodeProfile
	for _, name := range names {
		for _, p := range app.DefaultProfiles {
			if p.Name == name {
				selected = append(selected, p)
			}
		}
	}
	return selected
}
