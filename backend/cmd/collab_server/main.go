package main

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"collabEngine/backend/internal/cache"
	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/httpapi/handlers"
	"collabEngine/backend/internal/httpapi/middleware"
	"collabEngine/backend/internal/logger"
	"collabEngine/backend/internal/store"
	"collabEngine/backend/internal/ws"
)

type CollabConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
}

func initConfig() (*CollabConfig, error) {
	cfg := &CollabConfig{}
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	defer logger.Sync()

	cfg, err := initConfig()
	if err != nil {
		logger.Errorf("init config failed: %v", err)
		return
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		logger.Errorf("failed to connect to redis: %v", err)
		return
	}
	defer rdb.Close()

	// DSN 需要带 parseTime=true（编辑日志按 timestamp 扫回 time.Time）
	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		logger.Errorf("failed to connect to database: %v", err)
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Errorf("failed to get sql.DB: %v", err)
		return
	}
	defer sqlDB.Close()

	// === Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		logger.Errorf("failed to connect kafka: %v", err)
		return
	}
	defer producer.Close()

	presenceCache := cache.NewRedisPresence(rdb)
	hub := ws.NewHub(presenceCache)
	documentStore := store.NewDocumentStore(db)
	editStore := store.NewEditStore(sqlDB)

	kafkaSem := collab.NewSemaphoreControl()
	wsSem := collab.NewSemaphoreControl()

	// Kafka 本地队列 + worker 重试发送
	kafkaDispatcher := collab.NewKafkaDispatcher(
		producer,
		cfg.Kafka.Topic,
		kafkaSem,
		collab.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		},
	)

	svc := collab.NewEngine(documentStore, editStore, kafkaDispatcher)
	manager := ws.NewManager(hub, svc, documentStore, wsSem)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	authed := r.Group("/")
	authed.Use(middleware.AuthMiddleware())
	// dashboard 流（document_created / document_shared）
	authed.GET("/ws/documents", manager.DashboardConnect)
	// 单文档协作房间
	authed.GET("/ws/document/:documentID", manager.DocumentConnect)

	// 文档服务落库后回调，事件推给 dashboard 订阅者
	events := handlers.NewDocumentEvents(hub)
	authed.POST("/internal/documents/created", events.Created)
	authed.POST("/internal/documents/shared", events.Shared)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}
