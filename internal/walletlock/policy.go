// internal/walletlock/policy.go
package walletlock

import "time"

// Policy holds the tunables of the wallet lock machine.
type Policy struct {
	AutolockDefault time.Duration // inactivity before an unlocked wallet relocks
	AttemptWindow   time.Duration // window inside which failed attempts accumulate
	MaxAttempts     int           // failed attempts before a safety lock
}

func DefaultPolicy() Policy {
	return Policy{
		AutolockDefault: 30 * time.Minute,
		AttemptWindow:   time.Minute,
		MaxAttempts:     3,
	}
}

// LockoutFor returns the safety-lock duration for a wallet with the given
// lockout history. Each successive safety lock in the wallet's lifetime is
// longer than the last.
func (p Policy) LockoutFor(totalSafetyLocks int) time.Duration {
	switch {
	case totalSafetyLocks <= 0:
		return 5 * time.Minute
	case totalSafetyLocks == 1:
		return 15 * time.Minute
	case totalSafetyLocks == 2:
		return time.Hour
	case totalSafetyLocks == 3:
		return 6 * time.Hour
	default:
		return 24 * time.Hour
	}
}
