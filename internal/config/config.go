package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string
	// PublicDomain is the externally reachable base URL used to build
	// provider return/callback URLs.
	PublicDomain string
	DB           DBConfig
	ECPay        ECPayConfig
	LinePay      LinePayConfig
	Kafka        KafkaConfig
	Redis        RedisConfig
	Sweep        SweepConfig
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// ECPayConfig holds the ECPay merchant credentials and endpoint
type ECPayConfig struct {
	MerchantID  string
	HashKey     string
	HashIV      string
	CheckoutURL string
}

// LinePayConfig holds the LINE Pay channel credentials and endpoint
type LinePayConfig struct {
	ChannelID     string
	ChannelSecret string
	BaseURL       string
}

// KafkaConfig holds the Kafka connection settings for the event outbox
type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
}

// RedisConfig holds the optional Redis settings for the callback replay cache
type RedisConfig struct {
	Addr    string
	Enabled bool
}

// SweepConfig holds the periodic background task settings
type SweepConfig struct {
	PaymentInterval  time.Duration // how often the payment-timeout sweep runs
	PaymentWindow    time.Duration // how long an order may stay pending
	ShipmentInterval time.Duration // how often the auto-complete sweep runs
	ShipmentWindow   time.Duration // how long after delivery a shipment auto-completes
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)

	if !exists {
		return defaultValue, nil
	}

	d, err := time.ParseDuration(value)

	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return d, nil
}

// Load reads the configuration from environment variables and returns a Config struct.
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "8080"))

	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))

	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	paymentInterval, err := getEnvDuration("PAYMENT_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	paymentWindow, err := getEnvDuration("PAYMENT_TIMEOUT_WINDOW", 20*time.Minute)
	if err != nil {
		return nil, err
	}

	shipmentInterval, err := getEnvDuration("SHIPMENT_SWEEP_INTERVAL", 1*time.Hour)
	if err != nil {
		return nil, err
	}

	shipmentWindow, err := getEnvDuration("SHIPMENT_AUTOCOMPLETE_WINDOW", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:         port,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Env:          getEnv("APP_ENV", "development"),
		PublicDomain: getEnv("PUBLIC_DOMAIN", "http://localhost:8080"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "clevora"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		ECPay: ECPayConfig{
			MerchantID:  getEnv("ECPAY_MERCHANT_ID", ""),
			HashKey:     getEnv("ECPAY_HASH_KEY", ""),
			HashIV:      getEnv("ECPAY_HASH_IV", ""),
			CheckoutURL: getEnv("ECPAY_CHECKOUT_URL", "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5"),
		},
		LinePay: LinePayConfig{
			ChannelID:     getEnv("LINE_PAY_CHANNEL_ID", ""),
			ChannelSecret: getEnv("LINE_PAY_CHANNEL_SECRET", ""),
			BaseURL:       getEnv("LINE_PAY_BASE_URL", "https://sandbox-api-pay.line.me"),
		},
		Kafka: KafkaConfig{
			Brokers:     strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "clevora.order-events"),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			Enabled: getEnv("REDIS_ENABLED", "true") == "true",
		},
		Sweep: SweepConfig{
			PaymentInterval:  paymentInterval,
			PaymentWindow:    paymentWindow,
			ShipmentInterval: shipmentInterval,
			ShipmentWindow:   shipmentWindow,
		},
	}, nil
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}
