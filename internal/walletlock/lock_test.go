package walletlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/okhunov/solpilot/internal/store"
)

const (
	testUser   = int64(42)
	testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
)

// newTestMachine returns a machine with a controllable clock.
func newTestMachine(t *testing.T) (*Machine, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMachine(store.NewMemoryStore(), DefaultPolicy(), zaptest.NewLogger(t))
	m.now = func() time.Time { return now }
	return m, &now
}

func TestStatusWithoutPassword(t *testing.T) {
	m, _ := newTestMachine(t)

	status, err := m.Status(context.Background(), testUser, testWallet, false)
	require.NoError(t, err)
	assert.Equal(t, StateUnlocked, status.State)
}

func TestStatusUnknownWalletIsUnlocked(t *testing.T) {
	m, _ := newTestMachine(t)

	status, err := m.Status(context.Background(), testUser, testWallet, true)
	require.NoError(t, err)
	assert.Equal(t, StateUnlocked, status.State)
	assert.Equal(t, 3, status.AttemptsRemaining)
}

func TestAutolockAfterInactivity(t *testing.T) {
	m, now := newTestMachine(t)
	ctx := context.Background()

	res, err := m.Attempt(ctx, testUser, testWallet, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnlocked, res.Outcome)

	// within the autolock window the wallet stays unlocked
	*now = now.Add(29 * time.Minute)
	status, err := m.Status(ctx, testUser, testWallet, true)
	require.NoError(t, err)
	assert.Equal(t, StateUnlocked, status.State)

	// past it, the wallet relocks on its own
	*now = now.Add(2 * time.Minute)
	status, err = m.Status(ctx, testUser, testWallet, true)
	require.NoError(t, err)
	assert.Equal(t, StateLocked, status.State)
}

func TestThreeFailuresTripSafetyLock(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	res, err := m.Attempt(ctx, testUser, testWallet, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWrongPassword, res.Outcome)
	assert.Equal(t, 2, res.AttemptsRemaining)

	res, err = m.Attempt(ctx, testUser, testWallet, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWrongPassword, res.Outcome)
	assert.Equal(t, 1, res.AttemptsRemaining)

	res, err = m.Attempt(ctx, testUser, testWallet, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSafetyLocked, res.Outcome)
	assert.Equal(t, 5*time.Minute, res.RetryAfter)

	status, err := m.Status(ctx, testUser, testWallet, true)
	require.NoError(t, err)
	assert.Equal(t, StateSafetyLocked, status.State)
	assert.Equal(t, 5*time.Minute, status.RetryAfter)
}

func TestAttemptDuringLockoutSkipsPasswordCheck(t *testing.T) {
	m, now := newTestMachine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Attempt(ctx, testUser, testWallet, false)
		require.NoError(t, err)
	}

	*now = now.Add(2 * time.Minute)

	// even a correct password bounces while the lockout runs
	res, err := m.Attempt(ctx, testUser, testWallet, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLockedOut, res.Outcome)
	assert.Equal(t, 3*time.Minute, res.RetryAfter)
}

func TestSafetyLockExpiresLazily(t *testing.T) {
	m, now := newTestMachine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Attempt(ctx, testUser, testWallet, false)
		require.NoError(t, err)
	}

	*now = now.Add(6 * time.Minute)

	res, err := m.Attempt(ctx, testUser, testWallet, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnlocked, res.Outcome)
}

func TestStaleAttemptsRestartTheCount(t *testing.T) {
	m, now := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Attempt(ctx, testUser, testWallet, false)
	require.NoError(t, err)
	_, err = m.Attempt(ctx, testUser, testWallet, false)
	require.NoError(t, err)

	// the window closes; the next failure counts as the first again
	*now = now.Add(2 * time.Minute)

	res, err := m.Attempt(ctx, testUser, testWallet, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWrongPassword, res.Outcome)
	assert.Equal(t, 2, res.AttemptsRemaining)
}

func TestLockoutEscalates(t *testing.T) {
	m, now := newTestMachine(t)
	ctx := context.Background()

	want := []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour, 6 * time.Hour, 24 * time.Hour, 24 * time.Hour}
	for _, lockout := range want {
		var res AttemptResult
		var err error
		for i := 0; i < 3; i++ {
			res, err = m.Attempt(ctx, testUser, testWallet, false)
			require.NoError(t, err)
		}
		assert.Equal(t, OutcomeSafetyLocked, res.Outcome)
		assert.Equal(t, lockout, res.RetryAfter)

		// let the lockout fully expire before the next round
		*now = now.Add(lockout + time.Minute)
	}
}

func TestCorrectPasswordResetsAttempts(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Attempt(ctx, testUser, testWallet, false)
	require.NoError(t, err)
	_, err = m.Attempt(ctx, testUser, testWallet, false)
	require.NoError(t, err)

	res, err := m.Attempt(ctx, testUser, testWallet, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnlocked, res.Outcome)

	// the counter restarted: two more failures do not trip the lock
	_, err = m.Attempt(ctx, testUser, testWallet, false)
	require.NoError(t, err)
	res, err = m.Attempt(ctx, testUser, testWallet, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWrongPassword, res.Outcome)
	assert.Equal(t, 1, res.AttemptsRemaining)
}

func TestResetOnPasswordChange(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Attempt(ctx, testUser, testWallet, false)
		require.NoError(t, err)
	}

	require.NoError(t, m.ResetOnPasswordChange(ctx, testUser, testWallet))

	status, err := m.Status(ctx, testUser, testWallet, true)
	require.NoError(t, err)
	assert.Equal(t, StateUnlocked, status.State)
}

func TestPerWalletAutolockOverride(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMachine(st, DefaultPolicy(), zaptest.NewLogger(t))
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := m.Attempt(ctx, testUser, testWallet, true)
	require.NoError(t, err)

	// shorten this wallet's timer to 5 minutes
	info, err := st.FindUnlockInfo(ctx, testUser, testWallet)
	require.NoError(t, err)
	info.AutolockTimerMinutes = 5
	require.NoError(t, st.UpsertUnlockInfo(ctx, info))

	now = now.Add(10 * time.Minute)
	status, err := m.Status(ctx, testUser, testWallet, true)
	require.NoError(t, err)
	assert.Equal(t, StateLocked, status.State)
}

func TestLockoutForEscalation(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 5*time.Minute, p.LockoutFor(0))
	assert.Equal(t, 15*time.Minute, p.LockoutFor(1))
	assert.Equal(t, time.Hour, p.LockoutFor(2))
	assert.Equal(t, 6*time.Hour, p.LockoutFor(3))
	assert.Equal(t, 24*time.Hour, p.LockoutFor(4))
	assert.Equal(t, 24*time.Hour, p.LockoutFor(10))
}
