package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Midtrans    MidtransConfig
	Checkout    CheckoutConfig
	RateLimit   RateLimitConfig
	Idempotency IdempotencyConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type MidtransConfig struct {
	BaseURL   string
	ServerKey string
}

type CheckoutConfig struct {
	Timeout time.Duration
}

type RateLimitConfig struct {
	// Max requests allowed per key within Window.
	Max    int
	Window time.Duration
}

type IdempotencyConfig struct {
	// TTL bounds how long a saved checkout result is replayed for the
	// same Idempotency-Key.
	TTL time.Duration
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverHost := os.Getenv("SERVER_HOST")
	if serverHost == "" {
		serverHost = "localhost"
	}

	serverPortStr := os.Getenv("SERVER_PORT")
	if serverPortStr == "" {
		serverPortStr = "8080"
	}

	serverPort, err := strconv.Atoi(serverPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid SERVER_PORT: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host: serverHost,
		Port: serverPort,
	}

	postgresHost := os.Getenv("POSTGRES_HOST")
	if postgresHost == "" {
		postgresHost = "localhost"
	}

	postgresPortStr := os.Getenv("POSTGRES_PORT")
	if postgresPortStr == "" {
		postgresPortStr = "5432"
	}

	postgresPort, err := strconv.Atoi(postgresPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid POSTGRES_PORT: %w", op, err)
	}

	postgresUser := os.Getenv("POSTGRES_USER")
	if postgresUser == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
	}

	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
	}

	postgresDB := os.Getenv("POSTGRES_DB")
	if postgresDB == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
	}

	postgresSSLMode := os.Getenv("POSTGRES_SSLMODE")
	if postgresSSLMode == "" {
		postgresSSLMode = "disable"
	}

	postgresCfg := PostgresConfig{
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
		Host:     postgresHost,
		Port:     postgresPort,
		SSLMode:  postgresSSLMode,
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisCfg := RedisConfig{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}

	midtransBaseURL := os.Getenv("MIDTRANS_BASE_URL")
	if midtransBaseURL == "" {
		midtransBaseURL = "https://api.sandbox.midtrans.com"
	}

	midtransServerKey := os.Getenv("MIDTRANS_SERVER_KEY")
	if midtransServerKey == "" {
		return nil, fmt.Errorf("%s: missing MIDTRANS_SERVER_KEY", op)
	}

	midtransCfg := MidtransConfig{
		BaseURL:   midtransBaseURL,
		ServerKey: midtransServerKey,
	}

	checkoutTimeout := 30 * time.Second
	if s := os.Getenv("CHECKOUT_TIMEOUT_SEC"); s != "" {
		sec, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid CHECKOUT_TIMEOUT_SEC: %w", op, err)
		}
		checkoutTimeout = time.Duration(sec) * time.Second
	}

	rateLimitMax := 10
	if s := os.Getenv("RATE_LIMIT_MAX"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid RATE_LIMIT_MAX: %w", op, err)
		}
		rateLimitMax = n
	}

	rateLimitWindow := 1 * time.Minute
	if s := os.Getenv("RATE_LIMIT_WINDOW_SEC"); s != "" {
		sec, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid RATE_LIMIT_WINDOW_SEC: %w", op, err)
		}
		rateLimitWindow = time.Duration(sec) * time.Second
	}

	idemTTL := 2 * time.Hour
	if s := os.Getenv("IDEMPOTENCY_TTL_SEC"); s != "" {
		sec, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid IDEMPOTENCY_TTL_SEC: %w", op, err)
		}
		idemTTL = time.Duration(sec) * time.Second
	}

	return &Config{
		Server:      serverCfg,
		Postgres:    postgresCfg,
		Redis:       redisCfg,
		Midtrans:    midtransCfg,
		Checkout:    CheckoutConfig{Timeout: checkoutTimeout},
		RateLimit:   RateLimitConfig{Max: rateLimitMax, Window: rateLimitWindow},
		Idempotency: IdempotencyConfig{TTL: idemTTL},
	}, nil
}
