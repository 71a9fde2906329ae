package config_test

import (
	"errors"
	"testing"
	"time"

	"rafflekeeper/apps/backend/internal/config"

	"github.com/stretchr/testify/assert"
)

func validConfig() config.Config {
	return config.Config{
		DBHost:           "localhost",
		DBUser:           "user",
		DBName:           "db",
		QueueMaxAttempts: 3,
		QueueConcurrency: 1,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
		errIs   error
	}{
		{
			name:    "Valid Config",
			mutate:  func(c *config.Config) {},
			wantErr: false,
		},
		{
			name:    "Missing DBHost",
			mutate:  func(c *config.Config) { c.DBHost = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing DBUser",
			mutate:  func(c *config.Config) { c.DBUser = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing DBName",
			mutate:  func(c *config.Config) { c.DBName = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Zero Attempts",
			mutate:  func(c *config.Config) { c.QueueMaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "Zero Concurrency",
			mutate:  func(c *config.Config) { c.QueueConcurrency = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errIs != nil {
					assert.True(t, errors.Is(err, tt.errIs))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateServe(t *testing.T) {
	cfg := validConfig()
	cfg.RPCURL = "http://localhost:8545"
	cfg.StudyFundAddress = "0xBBe02596F093Ea9d4B6c942bB73C03c02B0D15E0"
	cfg.AdminPrivateKey = "deadbeef"
	cfg.SettlementTimeout = 3 * time.Minute
	cfg.QueueStuckAfter = 10 * time.Minute

	err := cfg.ValidateServe()
	assert.ErrorIs(t, err, config.ErrMissingRequired)
	assert.Contains(t, err.Error(), "GOLDSKY_WEBHOOK_SECRET")

	cfg.WebhookSecret = "s3cret"
	assert.NoError(t, cfg.ValidateServe())
}

func TestConfig_ValidateServe_StuckAfterExceedsSettlementTimeout(t *testing.T) {
	tests := []struct {
		name       string
		timeout    time.Duration
		stuckAfter time.Duration
		wantErr    string
	}{
		{"defaults", 3 * time.Minute, 10 * time.Minute, ""},
		{"equal", 5 * time.Minute, 5 * time.Minute, "QUEUE_STUCK_AFTER"},
		{"shorter", 10 * time.Minute, time.Minute, "QUEUE_STUCK_AFTER"},
		{"zero timeout", 0, 10 * time.Minute, "SETTLEMENT_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.RPCURL = "http://localhost:8545"
			cfg.StudyFundAddress = "0xBBe02596F093Ea9d4B6c942bB73C03c02B0D15E0"
			cfg.AdminPrivateKey = "deadbeef"
			cfg.WebhookSecret = "s3cret"
			cfg.SettlementTimeout = tt.timeout
			cfg.QueueStuckAfter = tt.stuckAfter

			err := cfg.ValidateServe()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
