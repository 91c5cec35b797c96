package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dhr/workerauth/internal/hash"
)

const (
	EnvProduction = "production"

	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"

	SMSProviderSNS = "sns"
	SMSProviderLog = "log"

	HashHMACSHA256 = hash.AlgorithmHMACSHA256
	HashBLAKE2b    = hash.AlgorithmBLAKE2b
)

type Config struct {
	Env      string
	LogLevel string
	Server   ServerConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	JWT      JWTConfig
	OTP      OTPConfig
	SMS      SMSConfig
	Users    UsersConfig
}

type ServerConfig struct {
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	CORSAllowedOrigins []string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

type JWTConfig struct {
	SecretKey     string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	// RefreshStore selects where refresh token state lives.
	RefreshStore string
}

type OTPConfig struct {
	Store             string
	Expiry            time.Duration
	MaxAttempts       int
	HashAlgorithm     string
	HashSecret        string
	DeliveryTimeout   time.Duration
	SweepInterval     time.Duration
	RequireRegistered bool
	ExposeCode        bool
}

type SMSConfig struct {
	Provider string
	Region   string
	SenderID string
}

type UsersConfig struct {
	Directory string
	// Seed is a comma separated list of phone:name pairs registered at startup.
	Seed string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", EnvProduction),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "ap-south-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "WorkerAuth"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			DSN:      getEnv("PG_DSN", ""),
			MaxConns: int32(getEnvAsInt("PG_MAX_CONNS", 10)),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", ""),
			AccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
			RefreshStore:  getEnv("REFRESH_TOKEN_STORE", BackendMemory),
		},
		OTP: OTPConfig{
			Store:             getEnv("OTP_STORE", BackendMemory),
			Expiry:            getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			MaxAttempts:       getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			HashAlgorithm:     getEnv("OTP_HASH_ALGORITHM", HashHMACSHA256),
			HashSecret:        getEnv("OTP_HASH_SECRET", ""),
			DeliveryTimeout:   getEnvAsDuration("OTP_DELIVERY_TIMEOUT", 10*time.Second),
			SweepInterval:     getEnvAsDuration("OTP_SWEEP_INTERVAL", time.Minute),
			RequireRegistered: getEnvAsBool("OTP_REQUIRE_REGISTERED", false),
			ExposeCode:        getEnvAsBool("OTP_EXPOSE_CODE", false),
		},
		SMS: SMSConfig{
			Provider: getEnv("SMS_PROVIDER", SMSProviderLog),
			Region:   getEnv("SMS_REGION", "ap-south-1"),
			SenderID: getEnv("SMS_SENDER_ID", ""),
		},
		Users: UsersConfig{
			Directory: getEnv("USER_DIRECTORY", BackendMemory),
			Seed:      getEnv("USER_SEED", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.OTP.HashSecret == "" {
		return fmt.Errorf("OTP_HASH_SECRET environment variable is required")
	}

	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}

	if c.OTP.Expiry <= 0 {
		return fmt.Errorf("OTP_EXPIRY must be positive")
	}

	if err := oneOf("OTP_STORE", c.OTP.Store, BackendMemory, BackendRedis, BackendDynamoDB, BackendPostgres); err != nil {
		return err
	}
	if err := oneOf("USER_DIRECTORY", c.Users.Directory, BackendMemory, BackendDynamoDB, BackendPostgres); err != nil {
		return err
	}
	if err := oneOf("REFRESH_TOKEN_STORE", c.JWT.RefreshStore, BackendMemory, BackendRedis, BackendDynamoDB); err != nil {
		return err
	}
	if err := oneOf("SMS_PROVIDER", c.SMS.Provider, SMSProviderSNS, SMSProviderLog); err != nil {
		return err
	}
	if err := oneOf("OTP_HASH_ALGORITHM", c.OTP.HashAlgorithm, HashHMACSHA256, HashBLAKE2b); err != nil {
		return err
	}

	if c.IsProduction() && c.OTP.ExposeCode {
		return fmt.Errorf("OTP_EXPOSE_CODE cannot be enabled when APP_ENV=%s", EnvProduction)
	}

	if (c.OTP.Store == BackendPostgres || c.Users.Directory == BackendPostgres) && c.Postgres.DSN == "" {
		return fmt.Errorf("PG_DSN is required when a postgres backend is selected")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// UsesRedis reports whether any component needs a redis connection.
func (c *Config) UsesRedis() bool {
	return c.OTP.Store == BackendRedis || c.JWT.RefreshStore == BackendRedis
}

// UsesPostgres reports whether any component needs a postgres pool.
func (c *Config) UsesPostgres() bool {
	return c.OTP.Store == BackendPostgres || c.Users.Directory == BackendPostgres
}

// UsesDynamoDB reports whether any component needs a DynamoDB client.
func (c *Config) UsesDynamoDB() bool {
	return c.OTP.Store == BackendDynamoDB || c.Users.Directory == BackendDynamoDB || c.JWT.RefreshStore == BackendDynamoDB
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
