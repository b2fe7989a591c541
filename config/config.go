package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	Database          DatabaseConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	CardGate          CardGateConfig
	Stripe            StripeConfig
	CryptoPay         CryptoPayConfig
	BankTransfer      BankTransferConfig
	Sandbox           SandboxConfig
	Payments          PaymentsConfig
	Jobs              JobsConfig
	Telegram          TelegramConfig
	Kafka             KafkaConfig
	Redis             RedisConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type CardGateConfig struct {
	BaseURL         string
	MerchantPointID string
	Lang            string
	PrivateKeyPath  string
	PublicKeyPath   string
	HTTPTimeout     time.Duration
}

// Enabled reports whether any cardgate setting was provided. A partially
// configured cardgate is a startup error, not a silently disabled provider.
func (c CardGateConfig) Enabled() bool {
	return c.BaseURL != "" || c.PrivateKeyPath != "" || c.PublicKeyPath != ""
}

type StripeConfig struct {
	BaseURL                   string
	SecretKey                 string
	WebhookSecret             string
	ReturnBaseURL             string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

type CryptoPayConfig struct {
	BaseURL        string
	APIToken       string
	AcceptedAssets string
	InvoiceTTL     time.Duration
	HTTPTimeout    time.Duration
}

type BankTransferConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	HTTPTimeout   time.Duration
}

type SandboxConfig struct {
	Enabled       bool
	SuccessCard   string
	WebhookSecret string
}

type PaymentsConfig struct {
	WebhookTimeout      time.Duration
	ProbeInterval       time.Duration
	ProbeWindow         time.Duration
	ProbeTimeout        time.Duration
	ReconcileStaleAfter time.Duration
	JobBatchSize        int32
}

type JobsConfig struct {
	ReconcileInterval   time.Duration
	ProbeReportInterval time.Duration
}

type TelegramConfig struct {
	BotToken string
	ChatIDs  []int64
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	dsn := getEnv("DB_DSN", os.Getenv("MYSQL_DSN"))
	if dsn == "" {
		return nil, errors.New("DB_DSN environment variable is required")
	}

	driver := strings.ToLower(getEnv("DB_DRIVER", "mysql"))
	if driver != "mysql" && driver != "sqlite3" {
		return nil, errors.New("DB_DRIVER must be mysql or sqlite3")
	}

	chatIDs, err := getInt64ListEnv("TELEGRAM_ALERT_CHAT_IDS")
	if err != nil {
		return nil, err
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "payment-gateway"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		Database: DatabaseConfig{
			Driver:          driver,
			DSN:             dsn,
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("DB_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		CardGate: CardGateConfig{
			BaseURL:         getEnv("CARDGATE_BASE_URL", ""),
			MerchantPointID: getEnv("CARDGATE_MERCHANT_POINT_ID", ""),
			Lang:            getEnv("CARDGATE_LANG", "en"),
			PrivateKeyPath:  getEnv("CARDGATE_PRIVATE_KEY_PATH", ""),
			PublicKeyPath:   getEnv("CARDGATE_PUBLIC_KEY_PATH", ""),
			HTTPTimeout:     getSecondsEnv("CARDGATE_HTTP_TIMEOUT_SECONDS", 30*time.Second),
		},
		Stripe: StripeConfig{
			BaseURL:                   getEnv("STRIPE_BASE_URL", ""),
			SecretKey:                 getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:             getEnv("STRIPE_WEBHOOK_SECRET", ""),
			ReturnBaseURL:             getEnv("STRIPE_RETURN_BASE_URL", ""),
			SignatureToleranceSeconds: int64(getIntEnv("STRIPE_SIGNATURE_TOLERANCE_SECONDS", 300)),
			HTTPTimeout:               getSecondsEnv("STRIPE_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		CryptoPay: CryptoPayConfig{
			BaseURL:        getEnv("CRYPTOPAY_BASE_URL", ""),
			APIToken:       getEnv("CRYPTOPAY_API_TOKEN", ""),
			AcceptedAssets: getEnv("CRYPTOPAY_ACCEPTED_ASSETS", ""),
			InvoiceTTL:     getSecondsEnv("CRYPTOPAY_INVOICE_TTL_SECONDS", time.Hour),
			HTTPTimeout:    getSecondsEnv("CRYPTOPAY_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		BankTransfer: BankTransferConfig{
			BaseURL:       getEnv("BANKTRANSFER_BASE_URL", ""),
			APIKey:        getEnv("BANKTRANSFER_API_KEY", ""),
			WebhookSecret: getEnv("BANKTRANSFER_WEBHOOK_SECRET", ""),
			HTTPTimeout:   getSecondsEnv("BANKTRANSFER_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Sandbox: SandboxConfig{
			Enabled:       getBoolEnv("SANDBOX_ENABLED", false),
			SuccessCard:   getEnv("SANDBOX_SUCCESS_CARD", "4242424242424242"),
			WebhookSecret: getEnv("SANDBOX_WEBHOOK_SECRET", ""),
		},
		Payments: PaymentsConfig{
			WebhookTimeout:      getSecondsEnv("PAYMENTS_WEBHOOK_TIMEOUT_SECONDS", 10*time.Second),
			ProbeInterval:       getMinutesEnv("PAYMENTS_PROBE_INTERVAL_MINUTES", 5*time.Minute),
			ProbeWindow:         getMinutesEnv("PAYMENTS_PROBE_WINDOW_MINUTES", 2*time.Hour),
			ProbeTimeout:        getSecondsEnv("PAYMENTS_PROBE_TIMEOUT_SECONDS", 30*time.Second),
			ReconcileStaleAfter: getMinutesEnv("PAYMENTS_RECONCILE_STALE_AFTER_MINUTES", 15*time.Minute),
			JobBatchSize:        int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			ReconcileInterval:   getMinutesEnv("PAYMENTS_RECONCILE_INTERVAL_MINUTES", 10*time.Minute),
			ProbeReportInterval: getMinutesEnv("PAYMENTS_PROBE_REPORT_INTERVAL_MINUTES", 15*time.Minute),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatIDs:  chatIDs,
		},
		Kafka: KafkaConfig{
			Brokers: getListEnv("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_STATUS_TOPIC", "payment.status_changed"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			LockTTL:  getSecondsEnv("REDIS_LOCK_TTL_SECONDS", 30*time.Second),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var items []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func getInt64ListEnv(key string) ([]int64, error) {
	var items []int64
	for _, part := range getListEnv(key) {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, errors.New(key + " must be a comma separated list of integers")
		}
		items = append(items, n)
	}
	return items, nil
}
