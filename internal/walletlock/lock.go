// =============================
// File: internal/walletlock/lock.go
// =============================
package walletlock

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/okhunov/solpilot/internal/store"
)

// State is the lock machine's observable state.
type State int

const (
	StateUnlocked State = iota
	StateLocked
	StateSafetyLocked
)

func (s State) String() string {
	switch s {
	case StateUnlocked:
		return "unlocked"
	case StateLocked:
		return "locked"
	case StateSafetyLocked:
		return "safety_locked"
	default:
		return "unknown"
	}
}

// Status is the answer to "may this wallet's signer be used right now".
type Status struct {
	State             State
	AttemptsRemaining int
	RetryAfter        time.Duration // non-zero only while safety-locked
}

// AttemptOutcome classifies one unlock attempt. Wrong passwords and active
// lockouts are ordinary business outcomes, not errors; only storage
// failures raise.
type AttemptOutcome int

const (
	OutcomeUnlocked AttemptOutcome = iota
	OutcomeWrongPassword
	OutcomeSafetyLocked // this attempt tripped the safety lock
	OutcomeLockedOut    // attempted during an active lockout; password not checked
)

type AttemptResult struct {
	Outcome           AttemptOutcome
	AttemptsRemaining int
	RetryAfter        time.Duration
}

// Machine guards a password-protected wallet against brute-force unlocking
// and relocks it after inactivity. A wallet with no password set is always
// unlocked: the gate is opt-in.
//
// The read-modify-write over the unlock record is deliberately not atomic
// against concurrent attempts from the same user; the window is self-
// inflicted and accepted.
type Machine struct {
	store  store.UnlockInfoStore
	policy Policy
	logger *zap.Logger
	now    func() time.Time
}

func NewMachine(st store.UnlockInfoStore, policy Policy, logger *zap.Logger) *Machine {
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}
	return &Machine{
		store:  st,
		policy: policy,
		logger: logger.Named("walletlock"),
		now:    time.Now,
	}
}

// Status reports the current lock state without mutating anything.
// hasPassword tells the machine whether the wallet opted into the gate.
func (m *Machine) Status(ctx context.Context, userID int64, walletAddress string, hasPassword bool) (Status, error) {
	if !hasPassword {
		return Status{State: StateUnlocked, AttemptsRemaining: m.policy.MaxAttempts}, nil
	}

	info, err := m.store.FindUnlockInfo(ctx, userID, walletAddress)
	if err != nil {
		return Status{}, fmt.Errorf("failed to load unlock info: %w", err)
	}
	if info == nil {
		return Status{State: StateUnlocked, AttemptsRemaining: m.policy.MaxAttempts}, nil
	}

	now := m.now()

	if remaining := m.safetyLockRemaining(info, now); remaining > 0 {
		return Status{State: StateSafetyLocked, RetryAfter: remaining}, nil
	}

	if now.Sub(info.LastUnlockTime) > m.autolockTimer(info) {
		return Status{
			State:             StateLocked,
			AttemptsRemaining: m.attemptsRemaining(info, now),
		}, nil
	}

	return Status{State: StateUnlocked, AttemptsRemaining: m.policy.MaxAttempts}, nil
}

// Attempt processes one unlock attempt. passwordCorrect is supplied by the
// caller's opaque password verifier; during an active safety lock the
// password is not even considered.
func (m *Machine) Attempt(ctx context.Context, userID int64, walletAddress string, passwordCorrect bool) (AttemptResult, error) {
	info, err := m.store.FindUnlockInfo(ctx, userID, walletAddress)
	if err != nil {
		return AttemptResult{}, fmt.Errorf("failed to load unlock info: %w", err)
	}
	if info == nil {
		info = &store.UnlockInfo{UserID: userID, WalletAddress: walletAddress}
	}

	now := m.now()

	if remaining := m.safetyLockRemaining(info, now); remaining > 0 {
		return AttemptResult{Outcome: OutcomeLockedOut, RetryAfter: remaining}, nil
	}
	// An expired safety lock decays into a plain locked state.
	if info.SafetyLockMinutes > 0 {
		info.SafetyLockMinutes = 0
		info.UnlockAttempts = 0
	}

	if passwordCorrect {
		info.UnlockAttempts = 0
		info.LastUnlockTime = now
		info.LastUnlockAttempt = now
		if err := m.store.UpsertUnlockInfo(ctx, info); err != nil {
			return AttemptResult{}, fmt.Errorf("failed to save unlock info: %w", err)
		}
		return AttemptResult{Outcome: OutcomeUnlocked, AttemptsRemaining: m.policy.MaxAttempts}, nil
	}

	// Attempts only accumulate inside the window; stale ones restart the
	// count at one.
	if now.Sub(info.LastUnlockAttempt) <= m.policy.AttemptWindow {
		info.UnlockAttempts++
	} else {
		info.UnlockAttempts = 1
	}
	info.LastUnlockAttempt = now

	if info.UnlockAttempts >= m.policy.MaxAttempts {
		lockout := m.policy.LockoutFor(info.TotalSafetyLocks)
		info.SafetyLockMinutes = int(lockout / time.Minute)
		info.TotalSafetyLocks++
		if err := m.store.UpsertUnlockInfo(ctx, info); err != nil {
			return AttemptResult{}, fmt.Errorf("failed to save unlock info: %w", err)
		}
		m.logger.Warn("wallet safety-locked",
			zap.Int64("user_id", userID),
			zap.String("wallet", walletAddress),
			zap.Duration("lockout", lockout),
			zap.Int("total_safety_locks", info.TotalSafetyLocks))
		return AttemptResult{Outcome: OutcomeSafetyLocked, RetryAfter: lockout}, nil
	}

	if err := m.store.UpsertUnlockInfo(ctx, info); err != nil {
		return AttemptResult{}, fmt.Errorf("failed to save unlock info: %w", err)
	}
	return AttemptResult{
		Outcome:           OutcomeWrongPassword,
		AttemptsRemaining: m.policy.MaxAttempts - info.UnlockAttempts,
	}, nil
}

// ResetOnPasswordChange marks the wallet freshly unlocked. Every password
// set, change, or delete lands here.
func (m *Machine) ResetOnPasswordChange(ctx context.Context, userID int64, walletAddress string) error {
	info, err := m.store.FindUnlockInfo(ctx, userID, walletAddress)
	if err != nil {
		return fmt.Errorf("failed to load unlock info: %w", err)
	}
	if info == nil {
		info = &store.UnlockInfo{UserID: userID, WalletAddress: walletAddress}
	}
	now := m.now()
	info.LastUnlockTime = now
	info.LastUnlockAttempt = now
	info.UnlockAttempts = 0
	info.SafetyLockMinutes = 0
	if err := m.store.UpsertUnlockInfo(ctx, info); err != nil {
		return fmt.Errorf("failed to save unlock info: %w", err)
	}
	return nil
}

func (m *Machine) safetyLockRemaining(info *store.UnlockInfo, now time.Time) time.Duration {
	if info.SafetyLockMinutes <= 0 {
		return 0
	}
	until := info.LastUnlockAttempt.Add(time.Duration(info.SafetyLockMinutes) * time.Minute)
	if now.After(until) {
		return 0
	}
	return until.Sub(now)
}

func (m *Machine) autolockTimer(info *store.UnlockInfo) time.Duration {
	if info.AutolockTimerMinutes > 0 {
		return time.Duration(info.AutolockTimerMinutes) * time.Minute
	}
	return m.policy.AutolockDefault
}

func (m *Machine) attemptsRemaining(info *store.UnlockInfo, now time.Time) int {
	if now.Sub(info.LastUnlockAttempt) > m.policy.AttemptWindow {
		return m.policy.MaxAttempts
	}
	remaining := m.policy.MaxAttempts - info.UnlockAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}
