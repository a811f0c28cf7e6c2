// =============================
// File: internal/referral/claim.go
// =============================
package referral

import (
	"sync"
	"time"
)

// ClaimGuard debounces per-user referral fee claims. A second request
// arriving inside the cooldown window is rejected outright, never queued;
// this prevents duplicate concurrent claims without holding a lock across
// the slow claim path.
type ClaimGuard struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[int64]time.Time
	now      func() time.Time
}

func NewClaimGuard(cooldown time.Duration) *ClaimGuard {
	return &ClaimGuard{
		cooldown: cooldown,
		last:     make(map[int64]time.Time),
		now:      time.Now,
	}
}

// TryAcquire reports whether the user may claim now, recording the attempt
// when allowed.
func (g *ClaimGuard) TryAcquire(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.last[userID]; ok && now.Sub(last) < g.cooldown {
		return false
	}
	g.last[userID] = now
	return true
}

// Remaining returns how long until the user may claim again.
func (g *ClaimGuard) Remaining(userID int64) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	last, ok := g.last[userID]
	if !ok {
		return 0
	}
	remaining := g.cooldown - g.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}
