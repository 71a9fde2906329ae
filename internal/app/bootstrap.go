package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"rafflekeeper/apps/backend/internal/config"
	"rafflekeeper/apps/backend/internal/ledger"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
)

type Dependencies struct {
	DB          *sql.DB
	NSQProducer *nsq.Producer
	Ledger      *ledger.Client
}

// Close releases everything Bootstrap opened.
func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.Ledger != nil {
		d.Ledger.Close()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

// Bootstrap opens every backing service the serve command needs.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	createTopics(cfg.NSQDHTTP)

	client, err := DialLedger(ctx, cfg, true)
	if err != nil {
		producer.Stop()
		_ = db.Close()
		return nil, err
	}

	return &Dependencies{
		DB:          db,
		NSQProducer: producer,
		Ledger:      client,
	}, nil
}

// OpenDatabase connects to Postgres, waiting for it to come up, and applies
// pending migrations.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	err = WithRetry(ctx, cfg.BootstrapRetryAttempts, retryDelay(cfg), func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := migrateUp(db, cfg.MigrationPath); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrateUp(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

// DialLedger connects to the contract. With signer set the admin key is
// loaded so the client can submit settlements.
func DialLedger(ctx context.Context, cfg *config.Config, signer bool) (*ledger.Client, error) {
	key := ""
	if signer {
		if err := cfg.ValidateSigner(); err != nil {
			return nil, err
		}
		key = cfg.AdminPrivateKey
	} else if err := cfg.ValidateLedger(); err != nil {
		return nil, err
	}

	var client *ledger.Client
	err := WithRetry(ctx, cfg.BootstrapRetryAttempts, retryDelay(cfg), func() error {
		c, err := ledger.Dial(ctx, cfg.RPCURL, cfg.StudyFundAddress, key, cfg.ChainID, cfg.LedgerTimeout)
		if err != nil {
			if ledger.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger client error: %w", err)
	}
	return client, nil
}

// WithRetry runs op up to attempts times, sleeping delay between failures.
// Errors wrapped with backoff.Permanent stop the loop at once.
func WithRetry(ctx context.Context, attempts int, delay time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx,
	)
	attempt := 0
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		attempt++
		slog.Warn("bootstrap step failed, retrying...", "attempt", attempt, "wait", wait, "error", err)
	})
}

func retryDelay(cfg *config.Config) time.Duration {
	return time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicRaffleSettle)
	}()
}
