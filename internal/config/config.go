package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ctilinker/internal/util"

	"github.com/go-playground/validator"
)

const (
	StorageFS = "fs"
	StorageS3 = "s3"

	AdapterOpenAI = "openai"
	AdapterOllama = "ollama"
)

// Config holds the settings shared by the linker, worker and server binaries.
type Config struct {
	Debug   bool
	LogFile string

	AIAdapter             string `validate:"oneof=openai ollama"`
	Model                 string `validate:"required"`
	ChatURL               string
	ChatKey               string
	MaxConcurrentRequests int `validate:"min=1"`
	PricesFile            string
	Thinking              string `validate:"omitempty,oneof=minimal low medium high"`

	OracleDelay   time.Duration `validate:"min=0"`
	OracleTimeout time.Duration `validate:"min=0"`
	MaxTries      int           `validate:"min=1"`
	RetryBackoff  time.Duration `validate:"min=0"`
	ParallelFiles int           `validate:"min=1"`

	Storage      string `validate:"oneof=fs s3"`
	InputDir     string
	OutputDir    string
	S3           S3Config
	InputPrefix  string
	OutputPrefix string

	DatabaseURL string
	LockTTL     time.Duration `validate:"min=0"`

	RabbitMQ RabbitMQConfig

	Port   string `validate:"required"`
	APIKey string
}

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

type RabbitMQConfig struct {
	User     string
	Password string
	Host     string
	Port     string
}

// URL returns the AMQP connection URL.
func (r RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", r.User, r.Password, r.Host, r.Port)
}

// Enabled reports whether a broker host is configured.
func (r RabbitMQConfig) Enabled() bool {
	return r.Host != ""
}

var validate = validator.New()

// Load reads and validates the configuration from the environment. Call
// util.LoadEnv first to pick up a .env file.
func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the configuration without validating it, so callers can
// apply overrides first.
func FromEnv() *Config {
	return &Config{
		Debug:   util.GetEnvBool("DEBUG", false),
		LogFile: util.GetEnv("LOG_FILE"),

		AIAdapter:             util.GetEnvString("AI_ADAPTER", AdapterOpenAI),
		Model:                 util.GetEnv("AI_CHAT_MODEL"),
		ChatURL:               util.GetEnv("AI_CHAT_URL"),
		ChatKey:               util.GetEnv("AI_CHAT_KEY"),
		MaxConcurrentRequests: util.GetEnvInt("AI_MAX_CONCURRENT_REQUESTS", 4),
		PricesFile:            util.GetEnv("PRICES_FILE"),
		Thinking:              util.GetEnv("AI_THINKING"),

		OracleDelay:   util.GetEnvDuration("ORACLE_DELAY", time.Second),
		OracleTimeout: util.GetEnvDuration("ORACLE_TIMEOUT", 2*time.Minute),
		MaxTries:      util.GetEnvInt("ORACLE_MAX_TRIES", 3),
		RetryBackoff:  util.GetEnvDuration("ORACLE_RETRY_BACKOFF", 2*time.Second),
		ParallelFiles: util.GetEnvInt("PARALLEL_FILES", 4),

		Storage:   util.GetEnvString("STORAGE", StorageFS),
		InputDir:  util.GetEnv("INPUT_DIR"),
		OutputDir: util.GetEnv("OUTPUT_DIR"),
		S3: S3Config{
			Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("AWS_BUCKET"),
		},
		InputPrefix:  util.GetEnvString("INPUT_PREFIX", "input"),
		OutputPrefix: util.GetEnvString("OUTPUT_PREFIX", "output"),

		DatabaseURL: util.GetEnv("DATABASE_URL"),
		LockTTL:     util.GetEnvDuration("LOCK_TTL", 30*time.Second),

		RabbitMQ: RabbitMQConfig{
			User:     util.GetEnvString("RABBITMQ_USER", "guest"),
			Password: util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			Host:     util.GetEnv("RABBITMQ_HOST"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},

		Port:   util.GetEnvString("PORT", "8080"),
		APIKey: util.GetEnv("API_KEY"),
	}
}

// Validate checks field constraints and the settings the selected storage
// backend needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Storage {
	case StorageFS:
		if c.InputDir == "" || c.OutputDir == "" {
			return errors.New("invalid configuration: INPUT_DIR and OUTPUT_DIR are required for fs storage")
		}
		if c.InputDir == c.OutputDir {
			return errors.New("invalid configuration: INPUT_DIR and OUTPUT_DIR must differ")
		}
	case StorageS3:
		if c.S3.Bucket == "" {
			return errors.New("invalid configuration: AWS_BUCKET is required for s3 storage")
		}
		if c.InputPrefix == c.OutputPrefix {
			return errors.New("invalid configuration: INPUT_PREFIX and OUTPUT_PREFIX must differ")
		}
	}
	return nil
}
