package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/Entitlement-microservice/config"
	"github.com/Dhoini/Entitlement-microservice/internal/api/rest"
	"github.com/Dhoini/Entitlement-microservice/internal/api/rest/handlers"
	"github.com/Dhoini/Entitlement-microservice/internal/api/rest/middleware"
	"github.com/Dhoini/Entitlement-microservice/internal/integration/stripe"
	"github.com/Dhoini/Entitlement-microservice/internal/kafka"
	"github.com/Dhoini/Entitlement-microservice/internal/kafka/producer"
	"github.com/Dhoini/Entitlement-microservice/internal/metrics"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/internal/repository/postgres"
	"github.com/Dhoini/Entitlement-microservice/internal/service"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

var log *logger.Logger

func init() {
	// Пропускаем ошибку, если .env файл не найден
	_ = godotenv.Load()

	logLevel := logger.INFO
	if os.Getenv("DEBUG") == "true" {
		logLevel = logger.DEBUG
	}
	log = logger.New(logLevel)
}

func main() {
	defer log.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализация Prometheus
	promRegistry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(promRegistry, log)

	// Подключение к базе данных
	dbPool, err := postgres.NewConnection(ctx, cfg.Database.GetDSN(), postgres.PoolSettings{
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
	}, log)
	if err != nil {
		log.Fatal("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	// Отдельное sqlx-подключение для счетчиков использования
	usageStore, err := repository.NewSQLUsageStore(cfg.Database.GetDSN(), log)
	if err != nil {
		log.Fatal("Failed to connect usage store: %v", err)
	}
	defer usageStore.Close()

	// Подключение к Redis
	redisCache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	// Репозитории
	orgRepo := repository.NewCachedOrganizationRepository(
		repository.NewPostgresOrganizationRepository(dbPool, log),
		redisCache,
		log,
	)
	subRepo := repository.NewPostgresSubscriptionRepository(dbPool, log)
	eventRepo := repository.NewPostgresWebhookEventRepository(dbPool, log)

	// Инициализация Kafka продюсеров
	kafkaConfig := kafka.NewConfig(cfg.Kafka.Brokers)
	kafkaProducer, err := kafka.NewSyncProducer(kafkaConfig)
	if err != nil {
		log.Fatal("Failed to create Kafka producer: %v", err)
	}
	defer kafkaProducer.Close()
	billingProducer := producer.NewKafkaBillingProducer(kafkaProducer, cfg.Kafka.BillingTopic, log)

	usageProducer, err := kafka.NewUsageProducer(cfg.Kafka.Brokers, cfg.Kafka.UsageTopic, log)
	if err != nil {
		log.Fatal("Failed to create usage producer: %v", err)
	}
	defer usageProducer.Close()

	// Шлюз Stripe
	gateway, err := stripe.NewGateway(stripe.Config{
		APIKey:          cfg.Stripe.APIKey,
		WebhookSecret:   cfg.Stripe.WebhookSecret,
		CallTimeout:     time.Duration(cfg.Stripe.CallTimeout) * time.Second,
		SuccessURL:      cfg.Stripe.SuccessURL,
		CancelURL:       cfg.Stripe.CancelURL,
		PortalReturnURL: cfg.Stripe.PortalReturnURL,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize Stripe gateway: %v", err)
	}

	// Сервисы
	subscriptionService := service.NewSubscriptionService(orgRepo, subRepo, gateway, billingProducer, billingMetrics, log)
	webhookService := service.NewWebhookService(gateway, eventRepo, subRepo, orgRepo, billingProducer, billingMetrics, log)
	tenantService := service.NewTenantService(orgRepo, usageStore, redisCache, log)
	usageService := service.NewUsageService(usageStore, usageProducer, billingMetrics, cfg.Stripe.UpgradeURL, log)

	// Middleware и обработчики
	authMiddleware := middleware.NewJWTMiddleware(log, &middleware.DefaultTokenValidator{
		Secret: []byte(cfg.Auth.JWTSecret),
	})
	tenantMiddleware := middleware.NewTenantMiddleware(tenantService, log)

	restHandlers := rest.Handlers{
		Health:       handlers.NewHealthHandler(log),
		Plan:         handlers.NewPlanHandler(log),
		Subscription: handlers.NewSubscriptionHandler(subscriptionService, usageService, log),
		Usage:        handlers.NewUsageHandler(usageService, log),
		Webhook:      handlers.NewWebhookHandler(webhookService, time.Duration(cfg.Stripe.WebhookTimeout)*time.Second, log),
	}

	// Установка режима Gin
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Настройка маршрутизатора
	router := rest.SetupRouter(log, promRegistry, restHandlers, authMiddleware, tenantMiddleware)

	// Создание и запуск HTTP сервера
	server := rest.NewServer(router, cfg, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped gracefully")
}
