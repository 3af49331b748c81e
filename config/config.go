package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Daraja     DarajaConfig
	Reconcile  ReconcileConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Cloudinary CloudinaryConfig
	Firebase   FirebaseConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    int // requests per minute per client IP
}

type DatabaseConfig struct {
	Driver          string // mysql, postgres or sqlite
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

// DarajaConfig holds Safaricom STK push credentials. Amounts are whole shillings.
type DarajaConfig struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	PartyB          string
	TransactionType string
	CallbackURL     string // public URL of POST /api/v1/webhooks/mpesa
	MinAmount       int64
	MaxAmount       int64
	RequestTimeout  time.Duration
}

type ReconcileConfig struct {
	PollMinInterval time.Duration // minimum gap between status queries for one attempt
	SweepInterval   time.Duration // 0 disables the background sweeper
	SweepAge        time.Duration
	SweepBatch      int
	EffectsTimeout  time.Duration
}

type RedisConfig struct {
	Addr     string // empty uses the in-process poll throttle
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string // empty disables settlement events
	Topic   string
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

type FirebaseConfig struct {
	ServiceAccountPath string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         env("PORT", "8099"),
			Env:          env("APP_ENV", "development"),
			ReadTimeout:  envDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: envDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			RateLimit:    envInt("RATE_LIMIT_PER_MINUTE", 100),
		},
		Database: DatabaseConfig{
			Driver:          env("DB_DRIVER", "mysql"),
			DSN:             env("DB_DSN", "paybridge:paybridge@tcp(localhost:3306)/paybridge?charset=utf8mb4&parseTime=True&loc=UTC"),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		JWT: JWTConfig{
			AccessSecret: env("JWT_ACCESS_SECRET", "change-me-in-production"),
			AccessExpiry: envDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			Issuer:       env("JWT_ISSUER", "paybridge"),
		},
		Daraja: DarajaConfig{
			BaseURL:         env("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:     env("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:  env("MPESA_CONSUMER_SECRET", ""),
			ShortCode:       env("MPESA_SHORTCODE", "174379"),
			PassKey:         env("MPESA_PASSKEY", ""),
			PartyB:          env("MPESA_PARTY_B", ""),
			TransactionType: env("MPESA_TRANSACTION_TYPE", "CustomerPayBillOnline"),
			CallbackURL:     env("MPESA_CALLBACK_URL", "https://pay.example.com/api/v1/webhooks/mpesa"),
			MinAmount:       int64(envInt("MPESA_MIN_AMOUNT", 1)),
			MaxAmount:       int64(envInt("MPESA_MAX_AMOUNT", 250000)),
			RequestTimeout:  envDuration("MPESA_REQUEST_TIMEOUT", 5*time.Second),
		},
		Reconcile: ReconcileConfig{
			PollMinInterval: envDuration("RECONCILE_POLL_MIN_INTERVAL", 3*time.Second),
			SweepInterval:   envDuration("RECONCILE_SWEEP_INTERVAL", 30*time.Second),
			SweepAge:        envDuration("RECONCILE_SWEEP_AGE", 2*time.Minute),
			SweepBatch:      envInt("RECONCILE_SWEEP_BATCH", 50),
			EffectsTimeout:  envDuration("RECONCILE_EFFECTS_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     env("REDIS_ADDR", ""),
			Password: env("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   env("KAFKA_TOPIC", "payment.settled"),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: env("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:    env("CLOUDINARY_API_KEY", ""),
			APISecret: env("CLOUDINARY_API_SECRET", ""),
			Folder:    env("CLOUDINARY_RECEIPT_FOLDER", "receipts"),
		},
		Firebase: FirebaseConfig{
			ServiceAccountPath: env("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		},
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
