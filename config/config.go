package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config структура конфигурации приложения
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Port            string `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"readTimeout"`
	WriteTimeout    int    `mapstructure:"writeTimeout"`
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"`
}

// DatabaseConfig конфигурация базы данных
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// RedisConfig конфигурация Redis
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig конфигурация Kafka
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	BillingTopic string   `mapstructure:"billingTopic"`
	UsageTopic   string   `mapstructure:"usageTopic"`
}

// StripeConfig конфигурация Stripe
type StripeConfig struct {
	APIKey          string `mapstructure:"apiKey"`
	WebhookSecret   string `mapstructure:"webhookSecret"`
	CallTimeout     int    `mapstructure:"callTimeout"`    // секунды, для синхронных вызовов
	WebhookTimeout  int    `mapstructure:"webhookTimeout"` // секунды, для обработки вебхуков
	SuccessURL      string `mapstructure:"successURL"`
	CancelURL       string `mapstructure:"cancelURL"`
	PortalReturnURL string `mapstructure:"portalReturnURL"`
	UpgradeURL      string `mapstructure:"upgradeURL"`
}

// AuthConfig конфигурация аутентификации
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

// LoggingConfig конфигурация логгера
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Load загружает конфигурацию из файла и переменных окружения.
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// Пропускаем ошибку, если .env файл не найден
		_ = godotenv.Load()
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv() // Чтение переменных окружения

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Файл конфигурации опционален, значения по умолчанию и env достаточны
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Секреты всегда читаются из окружения, если заданы
	if v := os.Getenv("STRIPE_API_KEY"); v != "" {
		config.Stripe.APIKey = v
	}
	if v := os.Getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		config.Stripe.WebhookSecret = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}

	return &config, nil
}

// setDefaults задает значения конфигурации по умолчанию
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.readTimeout", 15)
	viper.SetDefault("server.writeTimeout", 15)
	viper.SetDefault("server.shutdownTimeout", 30)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.database", "entitlement_service")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 10)
	viper.SetDefault("database.minConns", 2)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("kafka.brokers", []string{"kafka:9092"})
	viper.SetDefault("kafka.billingTopic", "billing_events")
	viper.SetDefault("kafka.usageTopic", "usage_events")

	viper.SetDefault("stripe.callTimeout", 5)
	viper.SetDefault("stripe.webhookTimeout", 30)
	viper.SetDefault("stripe.upgradeURL", "/settings/billing/upgrade")

	viper.SetDefault("logging.level", "info")
}
