package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type SyncTransport string

const (
	TransportHTTP SyncTransport = "http"
	TransportAMQP SyncTransport = "amqp"
	TransportNone SyncTransport = "none"
)

type Config struct {
	Port               int
	DatabaseURL        string
	OfflineDBPath      string
	DefaultWarehouseID string

	SyncTransport   SyncTransport
	SyncEndpointURL string
	SyncAPIKey      string
	AMQPURL         string
	SyncQueue       string
	SyncWorkers     int
	SyncTimeout     time.Duration
	SyncInterval    time.Duration
	SyncMaxAttempts int
	SyncQueueSize   int

	KafkaBrokers string
	KafkaTopic   string

	LogLevel  string
	LogPretty bool
}

// Load reads .env from the working directory when present, then the process
// environment. Environment variables win over the file.
func Load() (Config, error) {
	return LoadFrom(filepath.Join(".", ".env"))
}

func LoadFrom(envPath string) (Config, error) {
	values := map[string]string{}
	if _, err := os.Stat(envPath); err == nil {
		fileValues, err := godotenv.Read(envPath)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", envPath, err)
		}
		values = fileValues
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("stat %s: %w", envPath, err)
	}
	get := func(key string) string {
		return firstNonEmpty(os.Getenv(key), values[key])
	}

	cfg := Config{
		DatabaseURL:        get("DATABASE_URL"),
		OfflineDBPath:      orDefault(get("OFFLINE_DB_PATH"), "./offline.db"),
		DefaultWarehouseID: get("DEFAULT_WAREHOUSE_ID"),
		SyncTransport:      SyncTransport(strings.ToLower(orDefault(get("SYNC_TRANSPORT"), string(TransportNone)))),
		SyncEndpointURL:    get("SYNC_ENDPOINT_URL"),
		SyncAPIKey:         get("SYNC_API_KEY"),
		AMQPURL:            get("AMQP_URL"),
		SyncQueue:          orDefault(get("SYNC_QUEUE"), "offline_transactions"),
		KafkaBrokers:       get("KAFKA_BROKERS"),
		KafkaTopic:         orDefault(get("KAFKA_TOPIC"), "pharmacy.invoices"),
		LogLevel:           orDefault(get("LOG_LEVEL"), "info"),
	}

	var err error
	if cfg.Port, err = positiveInt("PORT", get("PORT"), 8080); err != nil {
		return Config{}, err
	}
	if cfg.SyncWorkers, err = positiveInt("SYNC_WORKERS", get("SYNC_WORKERS"), 4); err != nil {
		return Config{}, err
	}
	if cfg.SyncMaxAttempts, err = positiveInt("SYNC_MAX_ATTEMPTS", get("SYNC_MAX_ATTEMPTS"), 10); err != nil {
		return Config{}, err
	}
	if cfg.SyncQueueSize, err = positiveInt("SYNC_QUEUE_SIZE", get("SYNC_QUEUE_SIZE"), 64); err != nil {
		return Config{}, err
	}
	if cfg.SyncTimeout, err = duration("SYNC_TIMEOUT", get("SYNC_TIMEOUT"), 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SyncInterval, err = duration("SYNC_INTERVAL", get("SYNC_INTERVAL"), time.Minute); err != nil {
		return Config{}, err
	}
	if raw := get("LOG_PRETTY"); raw != "" {
		if cfg.LogPretty, err = strconv.ParseBool(raw); err != nil {
			return Config{}, fmt.Errorf("invalid LOG_PRETTY: %q", raw)
		}
	}

	switch cfg.SyncTransport {
	case TransportNone:
	case TransportHTTP:
		if cfg.SyncEndpointURL == "" {
			return Config{}, fmt.Errorf("SYNC_ENDPOINT_URL is required when SYNC_TRANSPORT=http")
		}
	case TransportAMQP:
		if cfg.AMQPURL == "" {
			return Config{}, fmt.Errorf("AMQP_URL is required when SYNC_TRANSPORT=amqp")
		}
	default:
		return Config{}, fmt.Errorf("invalid SYNC_TRANSPORT: %q", cfg.SyncTransport)
	}

	return cfg, nil
}

func positiveInt(key, raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, nil
}

func duration(key, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func firstNonEmpty(candidates ...string) string {
	for _, candidate := range candidates {
		if value := strings.TrimSpace(candidate); value != "" {
			return value
		}
	}
	return ""
}
