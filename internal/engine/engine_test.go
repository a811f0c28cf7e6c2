package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okhunov/solpilot/internal/config"
	"github.com/okhunov/solpilot/internal/logger"
	"github.com/okhunov/solpilot/internal/store"
)

// New must be able to wire a full service without touching the network; an
// empty postgres URL selects the in-process store.
func TestNewWiresService(t *testing.T) {
	cfg := &config.Config{
		RPCList:              []string{"http://localhost:8899"},
		AggregatorURL:        "http://localhost:8080",
		ResendIntervalMs:     config.DefaultResendIntervalMs,
		StatusPollIntervalMs: config.DefaultStatusPollIntervalMs,
		ExpirySafetyMargin:   config.DefaultExpirySafetyMargin,
		TxFetchRetries:       config.DefaultTxFetchRetries,
		RPCRateLimit:         config.DefaultRPCRateLimit,
		DefaultSlippageBps:   config.DefaultSlippageBps,
		MaxUnlockAttempts:    config.DefaultMaxUnlockAttempts,
		AutolockMinutes:      config.DefaultAutolockMinutes,
		ClaimCooldownSec:     config.DefaultClaimCooldownSec,
	}
	logCfg := &logger.Config{
		LogFile:    filepath.Join(t.TempDir(), "engine.log"),
		MaxSize:    1,
		MaxAge:     1,
		MaxBackups: 1,
	}

	s, err := New(context.Background(), cfg, logCfg)
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.Client)
	assert.NotNil(t, s.Quotes)
	assert.NotNil(t, s.Sender)
	assert.NotNil(t, s.Swaps)
	assert.NotNil(t, s.Transfers)
	assert.NotNil(t, s.Locks)
	assert.NotNil(t, s.Claims)

	_, ok := s.Store.(*store.MemoryStore)
	assert.True(t, ok, "empty postgres_url must select the in-process store")
}
