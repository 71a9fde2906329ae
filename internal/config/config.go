package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost        string `envconfig:"DB_HOST" default:"postgres"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"rafflekeeper"`
	DBPass        string `envconfig:"DB_PASS" default:"password"`
	DBName        string `envconfig:"DB_NAME" default:"rafflekeeper"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Ledger
	RPCURL           string        `envconfig:"RPC_URL"`
	StudyFundAddress string        `envconfig:"STUDY_FUND_ADDRESS"`
	AdminPrivateKey  string        `envconfig:"ADMIN_PRIVATE_KEY"`
	ChainID          int64         `envconfig:"CHAIN_ID" default:"0"` // 0 = ask the node
	LedgerTimeout    time.Duration `envconfig:"LEDGER_TIMEOUT" default:"30s"`

	// Settlement
	SettlementTimeout time.Duration `envconfig:"SETTLEMENT_TIMEOUT" default:"3m"`

	// Ingress
	WebhookSecret string `envconfig:"GOLDSKY_WEBHOOK_SECRET"`
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`

	// Queue
	QueueConcurrency  int           `envconfig:"QUEUE_CONCURRENCY" default:"4"`
	QueueMaxAttempts  int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"`
	QueueBackoffMS    int64         `envconfig:"QUEUE_BACKOFF_MS" default:"1000"`
	QueuePollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"1s"`
	QueueStuckAfter   time.Duration `envconfig:"QUEUE_STUCK_AFTER" default:"10m"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings every command needs. Ledger and ingress
// settings are checked by ValidateServe and ValidateSigner because the
// read-only commands can run without them.
func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.QueueMaxAttempts)
	}
	if c.QueueConcurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be at least 1, got %d", c.QueueConcurrency)
	}
	return nil
}

func (c *Config) ValidateLedger() error {
	if c.RPCURL == "" {
		return fmt.Errorf("%w: RPC_URL", ErrMissingRequired)
	}
	if c.StudyFundAddress == "" {
		return fmt.Errorf("%w: STUDY_FUND_ADDRESS", ErrMissingRequired)
	}
	return nil
}

func (c *Config) ValidateSigner() error {
	if err := c.ValidateLedger(); err != nil {
		return err
	}
	if c.AdminPrivateKey == "" {
		return fmt.Errorf("%w: ADMIN_PRIVATE_KEY", ErrMissingRequired)
	}
	return nil
}

func (c *Config) ValidateServe() error {
	if err := c.ValidateSigner(); err != nil {
		return err
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("%w: GOLDSKY_WEBHOOK_SECRET", ErrMissingRequired)
	}
	if c.SettlementTimeout <= 0 {
		return fmt.Errorf("SETTLEMENT_TIMEOUT must be positive, got %s", c.SettlementTimeout)
	}
	// The reaper must not reset a job whose settlement is still within its timeout.
	if c.QueueStuckAfter <= c.SettlementTimeout {
		return fmt.Errorf("QUEUE_STUCK_AFTER (%s) must exceed SETTLEMENT_TIMEOUT (%s)", c.QueueStuckAfter, c.SettlementTimeout)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) QueueBackoff() time.Duration {
	return time.Duration(c.QueueBackoffMS) * time.Millisecond
}
