package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	AppHost   string
	HTTPPort  string
	GRPCPort  string
	AppEnv    string
	LogLevel  string
	LogFormat string

	// SearchServiceURL: если задан, тикеты отправляются в search-service для индексации (POST /search/index/ticket).
	SearchServiceURL string

	// Kafka: события жизненного цикла тикета. Пустой список брокеров: продюсер выключен.
	KafkaBrokers     []string
	KafkaTopicTicket string

	// Redis stream для ленты изменений тикетов между инстансами. Пустой RedisURL: выключено.
	RedisURL    string
	RedisStream string

	// SupporterJWTSecret: HMAC-секрет токенов саппортеров. Пустой, проверка выключена (dev).
	SupporterJWTSecret string

	AllowedOrigins []string

	DB struct {
		Driver     string
		Host       string
		Port       string
		User       string
		Password   string
		Database   string
		SSLMode    string
		SQLitePath string
	}

	Session SessionConfig
}

// SessionConfig: параметры живой сессии чата.
type SessionConfig struct {
	TypingTimeout           time.Duration
	TypingDebounce          time.Duration
	RelayTimeout            time.Duration
	SendQueueSize           int
	MaxProtocolErrors       int
	AssignmentIdleTimeout   time.Duration
	AssignmentSweepInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:            getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:           firstEnv("APP_PORT", "HTTP_PORT", "5001"),
		GRPCPort:           getEnv("GRPC_PORT", "9101"),
		AppEnv:             getEnv("APP_ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		SearchServiceURL:   getEnv("SEARCH_SERVICE_URL", ""),
		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicTicket:   getEnv("KAFKA_TOPIC_TICKET", "support.tickets"),
		RedisURL:           getEnv("REDIS_URL", ""),
		RedisStream:        getEnv("REDIS_STREAM", "support.tickets"),
		SupporterJWTSecret: getEnv("SUPPORTER_JWT_SECRET", ""),
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "*")),
	}
	cfg.DB.Driver = getEnv("DB_DRIVER", DriverPostgres)
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "support_service")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.DB.SQLitePath = getEnv("DB_SQLITE_PATH", "./data/support.db")

	var err error
	s := &cfg.Session
	if s.TypingTimeout, err = getDuration("TYPING_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if s.TypingDebounce, err = getDuration("TYPING_DEBOUNCE", time.Second); err != nil {
		return nil, err
	}
	if s.RelayTimeout, err = getDuration("RELAY_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if s.AssignmentIdleTimeout, err = getDuration("ASSIGNMENT_IDLE_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if s.AssignmentSweepInterval, err = getDuration("ASSIGNMENT_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if s.SendQueueSize, err = getInt("WS_SEND_QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	if s.MaxProtocolErrors, err = getInt("WS_MAX_PROTOCOL_ERRORS", 5); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.Host == "" || c.DB.Database == "" {
			return errors.New("config: DB_HOST and DB_DATABASE are required")
		}
		if c.AppEnv == "production" && c.DB.Password == "" {
			return errors.New("config: in production DB_PASSWORD is required")
		}
	case DriverSQLite:
		if c.DB.SQLitePath == "" {
			return errors.New("config: DB_SQLITE_PATH is required for sqlite")
		}
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.DB.Driver)
	}
	if c.AppEnv == "production" && c.SupporterJWTSecret == "" {
		return errors.New("config: in production SUPPORTER_JWT_SECRET is required")
	}
	if c.Session.TypingTimeout <= 0 || c.Session.RelayTimeout <= 0 {
		return errors.New("config: TYPING_TIMEOUT and RELAY_TIMEOUT must be positive")
	}
	if c.Session.SendQueueSize <= 0 {
		return errors.New("config: WS_SEND_QUEUE_SIZE must be positive")
	}
	return nil
}

func (c *Config) DSN() string {
	if c.DB.Driver == DriverSQLite {
		return c.DB.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func (c *Config) GRPCAddr() string {
	return c.AppHost + ":" + c.GRPCPort
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

// splitList разбивает "a, b,c" на слайс без пустых элементов.
func splitList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
