package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"rafflekeeper/apps/backend/internal/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// IntegrationSuite starts Postgres (migrated) and, on request, an nsqd.
type IntegrationSuite struct {
	T       *testing.T
	DB      *sql.DB
	NSQ     *nsq.Producer
	NSQAddr string

	withNSQ       bool
	migrationPath string

	pgContainer  *postgres.PostgresContainer
	nsqContainer testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

// WithNSQ makes Setup also start nsqd and connect a producer to it.
func (s *IntegrationSuite) WithNSQ() *IntegrationSuite {
	s.withNSQ = true
	return s
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("rafflekeeper_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)
	s.migrationPath = fmt.Sprintf("file://%s/../../migrations", basepath)

	m, err := migrate.New(s.migrationPath, connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	if !s.withNSQ {
		return
	}

	// 2. NSQ
	nsqReq := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: nsqReq,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = nsqC

	nsqHost, err := nsqC.Host(ctx)
	require.NoError(s.T, err)
	nsqPort, err := nsqC.MappedPort(ctx, "4150")
	require.NoError(s.T, err)

	s.NSQAddr = fmt.Sprintf("%s:%s", nsqHost, nsqPort.Port())
	s.NSQ, err = nsq.NewProducer(s.NSQAddr, nsq.NewConfig())
	require.NoError(s.T, err)
}

// GetAppConfig returns a config pointing at the suite's containers with
// fast queue timings.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	ctx := context.Background()
	host, err := s.pgContainer.Host(ctx)
	require.NoError(s.T, err)
	port, err := s.pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)

	return &config.Config{
		DBHost:        host,
		DBPort:        port.Int(),
		DBUser:        "test",
		DBPass:        "test",
		DBName:        "rafflekeeper_test",
		MigrationPath: s.migrationPath,

		NSQDHost: s.NSQAddr,

		LedgerTimeout:     5 * time.Second,
		SettlementTimeout: 5 * time.Second,
		WebhookSecret:     "test-secret",
		ServerPort:        8081,

		QueueConcurrency:  2,
		QueueMaxAttempts:  3,
		QueueBackoffMS:    1000,
		QueuePollInterval: 50 * time.Millisecond,
		QueueStuckAfter:   time.Minute,

		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
}
