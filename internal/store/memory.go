// internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used by tests and single-node setups.
// Writes are serialized by a mutex, matching the append-only persistence
// contract the engine assumes.
type MemoryStore struct {
	mu      sync.Mutex
	records []*TxRecord
	unlocks map[string]*UnlockInfo
	wallets map[int64]*WalletRecord
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		unlocks: make(map[string]*UnlockInfo),
		wallets: make(map[int64]*WalletRecord),
	}
}

func unlockKey(userID int64, walletAddress string) string {
	return fmt.Sprintf("%d/%s", userID, walletAddress)
}

func (s *MemoryStore) SaveTxRecord(_ context.Context, record *TxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.records = append(s.records, &clone)
	return nil
}

func (s *MemoryStore) ListTxRecords(_ context.Context, userID int64) ([]*TxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*TxRecord
	for _, r := range s.records {
		if r.UserID == userID {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindUnlockInfo(_ context.Context, userID int64, walletAddress string) (*UnlockInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.unlocks[unlockKey(userID, walletAddress)]
	if !ok {
		return nil, nil
	}
	clone := *info
	return &clone, nil
}

func (s *MemoryStore) UpsertUnlockInfo(_ context.Context, info *UnlockInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *info
	s.unlocks[unlockKey(info.UserID, info.WalletAddress)] = &clone
	return nil
}

func (s *MemoryStore) FindDefaultWallet(_ context.Context, userID int64) (*WalletRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	clone := *w
	return &clone, nil
}

// SetDefaultWallet seeds a wallet record, used by tests.
func (s *MemoryStore) SetDefaultWallet(w *WalletRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *w
	clone.IsDefault = true
	s.wallets[w.UserID] = &clone
}
