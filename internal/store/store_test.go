package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTxRecordValidates(t *testing.T) {
	record, err := NewTxRecord(7, "wallet-addr", DirectionBuy)
	require.NoError(t, err)
	assert.Equal(t, int64(7), record.UserID)
	assert.Equal(t, DirectionBuy, record.Direction)
	assert.False(t, record.CreatedAt.IsZero())

	_, err = NewTxRecord(7, "", DirectionBuy)
	require.Error(t, err)

	_, err = NewTxRecord(7, "wallet-addr", "stake")
	require.Error(t, err)
}

func TestMemoryStoreTxRecords(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := NewTxRecord(1, "wallet-a", DirectionBuy)
	require.NoError(t, err)
	first.Signature = "sig-1"
	require.NoError(t, s.SaveTxRecord(ctx, first))

	second, err := NewTxRecord(2, "wallet-b", DirectionSell)
	require.NoError(t, err)
	require.NoError(t, s.SaveTxRecord(ctx, second))

	records, err := s.ListTxRecords(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "sig-1", records[0].Signature)

	// mutating the saved record afterwards must not leak into the store
	first.Signature = "mutated"
	records, err = s.ListTxRecords(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "sig-1", records[0].Signature)
}

func TestMemoryStoreUnlockInfo(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// missing records read as nil, not an error
	info, err := s.FindUnlockInfo(ctx, 1, "wallet-a")
	require.NoError(t, err)
	assert.Nil(t, info)

	require.NoError(t, s.UpsertUnlockInfo(ctx, &UnlockInfo{
		UserID:         1,
		WalletAddress:  "wallet-a",
		UnlockAttempts: 2,
		LastUnlockTime: time.Now(),
	}))

	info, err = s.FindUnlockInfo(ctx, 1, "wallet-a")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 2, info.UnlockAttempts)

	// the same wallet address under another user is a separate record
	info, err = s.FindUnlockInfo(ctx, 2, "wallet-a")
	require.NoError(t, err)
	assert.Nil(t, info)

	// upsert overwrites in place
	require.NoError(t, s.UpsertUnlockInfo(ctx, &UnlockInfo{
		UserID:        1,
		WalletAddress: "wallet-a",
	}))
	info, err = s.FindUnlockInfo(ctx, 1, "wallet-a")
	require.NoError(t, err)
	assert.Zero(t, info.UnlockAttempts)
}

func TestMemoryStoreDefaultWallet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.FindDefaultWallet(ctx, 1)
	require.ErrorIs(t, err, ErrWalletNotFound)

	s.SetDefaultWallet(&WalletRecord{UserID: 1, Address: "wallet-a", Label: "main"})

	w, err := s.FindDefaultWallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "wallet-a", w.Address)
	assert.True(t, w.IsDefault)
}
