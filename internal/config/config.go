package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"qms/registrar-queue/internal/queue"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Port        string
	DatabaseURL string
	StoreDriver string
	Migrate     bool

	SlotCapacity     int
	AdmissionOnError queue.AdmissionPolicy
	Timezone         string
	Location         *time.Location
	CatalogFile      string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	StatusCacheTTL time.Duration

	RabbitMQURL      string
	RabbitMQExchange string
	OutboxInterval   time.Duration
	OutboxBatchSize  int

	RateLimitPerMinute       int
	RateLimitBurst           int
	CreateRateLimitPerMinute int
	CreateRateLimitBurst     int

	LogLevel     string
	LogFormat    string
	OTelEndpoint string
	OTelInsecure bool
}

// Load reads configuration from the environment, after merging an optional
// .env file, and applies command-line overrides from args.
func Load(args []string) (Config, error) {
	flagSet := pflag.NewFlagSet("registrar-queue", pflag.ContinueOnError)
	envFile := flagSet.String("env-file", ".env", "dotenv file merged into the environment when present")
	port := flagSet.String("port", "", "HTTP listen port (PORT)")
	storeDriver := flagSet.String("store", "", "ticket store: postgres or memory (STORE_DRIVER)")
	catalogFile := flagSet.String("catalog", "", "YAML time window and checklist catalog (CATALOG_FILE)")
	migrate := flagSet.Bool("migrate", false, "apply database migrations before serving")
	if err := flagSet.Parse(args); err != nil {
		return Config{}, err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg := Config{
		Port:        readString("PORT", "8080"),
		DatabaseURL: os.Getenv("DB_DSN"),
		StoreDriver: readString("STORE_DRIVER", StorePostgres),
		Migrate:     readBool("DB_MIGRATE", false),

		SlotCapacity: readInt("SLOT_CAPACITY", queue.DefaultSlotCapacity),
		Timezone:     readString("APP_TIMEZONE", "UTC"),
		CatalogFile:  os.Getenv("CATALOG_FILE"),

		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        readInt("REDIS_DB", 0),
		StatusCacheTTL: readDurationSeconds("STATUS_CACHE_TTL_SECONDS", 5),

		RabbitMQURL:      os.Getenv("RABBITMQ_URL"),
		RabbitMQExchange: readString("RABBITMQ_EXCHANGE", "registrar.tickets"),
		OutboxInterval:   readDurationSeconds("OUTBOX_INTERVAL_SECONDS", 2),
		OutboxBatchSize:  readInt("OUTBOX_BATCH_SIZE", 50),

		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		CreateRateLimitPerMinute: readInt("CREATE_RATE_LIMIT_PER_MIN", 20),
		CreateRateLimitBurst:     readInt("CREATE_RATE_LIMIT_BURST", 5),

		LogLevel:     readString("LOG_LEVEL", "info"),
		LogFormat:    readString("LOG_FORMAT", "json"),
		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelInsecure: readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}

	if flagSet.Changed("port") {
		cfg.Port = *port
	}
	if flagSet.Changed("store") {
		cfg.StoreDriver = *storeDriver
	}
	if flagSet.Changed("catalog") {
		cfg.CatalogFile = *catalogFile
	}
	if flagSet.Changed("migrate") {
		cfg.Migrate = *migrate
	}

	policy, err := queue.ParseAdmissionPolicy(strings.ToLower(os.Getenv("ADMISSION_ON_ERROR")))
	if err != nil {
		return Config{}, err
	}
	cfg.AdmissionOnError = policy

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	cfg.Location = location

	switch cfg.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DB_DSN is required for the postgres store")
		}
	default:
		return Config{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if cfg.SlotCapacity <= 0 {
		return Config{}, fmt.Errorf("SLOT_CAPACITY must be positive, got %d", cfg.SlotCapacity)
	}
	if cfg.OutboxInterval <= 0 {
		return Config{}, errors.New("OUTBOX_INTERVAL_SECONDS must be positive")
	}
	return cfg, nil
}

// Admission returns the slot admission rule configured for the service.
func (c Config) Admission() queue.Admission {
	return queue.Admission{Capacity: c.SlotCapacity, OnError: c.AdmissionOnError}
}

func readString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
