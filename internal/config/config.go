package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"sealed_chat/internal/utils/log"
)

type (
	Config struct {
		HTTPAddr   string
		ServerHost string

		Mongo       MongoConfig
		Redis       RedisConfig
		Certificate CertificateConfig
		Admin       AdminConfig
		Client      ClientConfig
		Log         log.Config
	}

	MongoConfig struct {
		URI      string
		Database string
		Timeout  time.Duration
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	CertificateConfig struct {
		Validity          time.Duration
		RenewBefore       time.Duration
		SigningAlgorithm  string // RSA-2048 or Ed25519
		RevocationBackend string // redis or memory
		SigningKeyName    string
	}

	ClientConfig struct {
		DeviceID          uint32
		PreferSealed      bool
		StateTTL          time.Duration
		RevocationRefresh time.Duration
	}

	// AdminConfig guards the revoke endpoint with basic auth. An empty
	// PasswordHash disables revocation over HTTP.
	AdminConfig struct {
		User         string
		PasswordHash string // kdf.PasswordHash string form
	}
)

const (
	AlgorithmRSA2048 = "RSA-2048"
	AlgorithmEd25519 = "Ed25519"

	RevocationRedis  = "redis"
	RevocationMemory = "memory"
)

// Load reads the configuration from the environment, falling back to the
// defaults of a local single-node setup.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:   getEnv("HTTP_ADDR", "localhost:9090"),
		ServerHost: getEnv("SERVER_HOST", "localhost:9090"),
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGO_DB", "mydb"),
			Timeout:  getEnvAsDuration("MONGO_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Certificate: CertificateConfig{
			Validity:          getEnvAsDuration("CERT_VALIDITY", 24*time.Hour),
			RenewBefore:       getEnvAsDuration("CERT_RENEW_BEFORE", 6*time.Hour),
			SigningAlgorithm:  getEnv("CERT_SIGNING_ALGORITHM", AlgorithmRSA2048),
			RevocationBackend: getEnv("REVOCATION_BACKEND", RevocationRedis),
			SigningKeyName:    getEnv("SIGNING_KEY_NAME", "sender-certificate"),
		},
		Admin: AdminConfig{
			User:         getEnv("ADMIN_USER", "admin"),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Client: ClientConfig{
			DeviceID:          uint32(getEnvAsInt("DEVICE_ID", 1)),
			PreferSealed:      getEnvAsBool("SEALED_SENDER", true),
			StateTTL:          getEnvAsDuration("SESSION_STATE_TTL", 7*24*time.Hour),
			RevocationRefresh: getEnvAsDuration("REVOCATION_REFRESH", time.Minute),
		},
		Log: log.Config{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Certificate.Validity <= 0 {
		return fmt.Errorf("CERT_VALIDITY must be positive, got %s", c.Certificate.Validity)
	}
	if c.Certificate.RenewBefore < 0 || c.Certificate.RenewBefore >= c.Certificate.Validity {
		return fmt.Errorf("CERT_RENEW_BEFORE must be in [0, %s), got %s", c.Certificate.Validity, c.Certificate.RenewBefore)
	}

	switch c.Certificate.SigningAlgorithm {
	case AlgorithmRSA2048, AlgorithmEd25519:
	default:
		return fmt.Errorf("unsupported CERT_SIGNING_ALGORITHM %q", c.Certificate.SigningAlgorithm)
	}

	if c.Client.DeviceID == 0 {
		return fmt.Errorf("DEVICE_ID must be positive")
	}

	switch c.Certificate.RevocationBackend {
	case RevocationRedis, RevocationMemory:
	default:
		return fmt.Errorf("unsupported REVOCATION_BACKEND %q", c.Certificate.RevocationBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
