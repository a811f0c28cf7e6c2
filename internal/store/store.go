// =============================
// File: internal/store/store.go
// =============================
package store

import (
	"context"
	"errors"
	"time"
)

// Direction labels the economic intent of a persisted transaction record.
const (
	DirectionBuy      = "buy"
	DirectionSell     = "sell"
	DirectionTransfer = "transfer"
	DirectionWithdraw = "withdraw"
)

var ErrWalletNotFound = errors.New("wallet not found")

// TxRecord is the persisted outcome of one orchestrated operation. Every
// attempt produces exactly one record, including failed ones, so failure is
// always observable downstream.
type TxRecord struct {
	UserID        int64
	WalletAddress string
	Signature     string
	Mint          string
	Direction     string
	AmountIn      uint64
	AmountOut     uint64
	Success       bool
	Error         string
	// FunctionTime spans orchestrator entry to confirmation; ChainTime spans
	// the sender call to confirmation. The difference is pre-submission work.
	FunctionTime time.Duration
	ChainTime    time.Duration
	CreatedAt    time.Time
}

// NewTxRecord validates the fields every record must carry.
func NewTxRecord(userID int64, walletAddress, direction string) (*TxRecord, error) {
	if walletAddress == "" {
		return nil, errors.New("tx record requires a wallet address")
	}
	switch direction {
	case DirectionBuy, DirectionSell, DirectionTransfer, DirectionWithdraw:
	default:
		return nil, errors.New("unknown tx record direction: " + direction)
	}
	return &TxRecord{
		UserID:        userID,
		WalletAddress: walletAddress,
		Direction:     direction,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// UnlockInfo is the per-wallet unlock history. Created lazily on first
// password set, mutated only by the wallet lock machine, never deleted.
type UnlockInfo struct {
	UserID               int64
	WalletAddress        string
	LastUnlockTime       time.Time
	LastUnlockAttempt    time.Time
	UnlockAttempts       int
	SafetyLockMinutes    int // 0 when no safety lock is active
	TotalSafetyLocks     int
	AutolockTimerMinutes int // 0 means the configured default applies
}

// WalletRecord identifies a user's stored wallet.
type WalletRecord struct {
	UserID    int64
	Address   string
	Label     string
	IsDefault bool
}

// TxRecordStore persists orchestration outcomes append-only.
type TxRecordStore interface {
	SaveTxRecord(ctx context.Context, record *TxRecord) error
	ListTxRecords(ctx context.Context, userID int64) ([]*TxRecord, error)
}

// UnlockInfoStore persists wallet unlock state. FindUnlockInfo returns
// (nil, nil) when no record exists yet.
type UnlockInfoStore interface {
	FindUnlockInfo(ctx context.Context, userID int64, walletAddress string) (*UnlockInfo, error)
	UpsertUnlockInfo(ctx context.Context, info *UnlockInfo) error
}

// WalletStore resolves a user's wallets.
type WalletStore interface {
	FindDefaultWallet(ctx context.Context, userID int64) (*WalletRecord, error)
}

// Store bundles the collaborator interfaces the engine consumes.
type Store interface {
	TxRecordStore
	UnlockInfoStore
	WalletStore
}
