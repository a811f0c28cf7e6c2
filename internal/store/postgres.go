// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the Store backed by Postgres via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveTxRecord(ctx context.Context, record *TxRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tx_records (
			user_id, wallet_address, signature, mint, direction,
			amount_in, amount_out, success, error,
			function_time_ms, chain_time_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.UserID, record.WalletAddress, record.Signature, record.Mint,
		record.Direction, record.AmountIn, record.AmountOut, record.Success,
		record.Error, record.FunctionTime.Milliseconds(),
		record.ChainTime.Milliseconds(), record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save tx record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTxRecords(ctx context.Context, userID int64) ([]*TxRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, wallet_address, signature, mint, direction,
		       amount_in, amount_out, success, error,
		       function_time_ms, chain_time_ms, created_at
		FROM tx_records
		WHERE user_id = $1
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tx records: %w", err)
	}
	defer rows.Close()

	var out []*TxRecord
	for rows.Next() {
		var r TxRecord
		var functionMs, chainMs int64
		if err := rows.Scan(
			&r.UserID, &r.WalletAddress, &r.Signature, &r.Mint, &r.Direction,
			&r.AmountIn, &r.AmountOut, &r.Success, &r.Error,
			&functionMs, &chainMs, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tx record: %w", err)
		}
		r.FunctionTime = msToDuration(functionMs)
		r.ChainTime = msToDuration(chainMs)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindUnlockInfo(ctx context.Context, userID int64, walletAddress string) (*UnlockInfo, error) {
	var info UnlockInfo
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, wallet_address, last_unlock_time, last_unlock_attempt,
		       unlock_attempts, safety_lock_minutes, total_safety_locks,
		       autolock_timer_minutes
		FROM unlock_info
		WHERE user_id = $1 AND wallet_address = $2`,
		userID, walletAddress,
	).Scan(
		&info.UserID, &info.WalletAddress, &info.LastUnlockTime,
		&info.LastUnlockAttempt, &info.UnlockAttempts, &info.SafetyLockMinutes,
		&info.TotalSafetyLocks, &info.AutolockTimerMinutes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find unlock info: %w", err)
	}
	return &info, nil
}

func (s *PostgresStore) UpsertUnlockInfo(ctx context.Context, info *UnlockInfo) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO unlock_info (
			user_id, wallet_address, last_unlock_time, last_unlock_attempt,
			unlock_attempts, safety_lock_minutes, total_safety_locks,
			autolock_timer_minutes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, wallet_address) DO UPDATE SET
			last_unlock_time = EXCLUDED.last_unlock_time,
			last_unlock_attempt = EXCLUDED.last_unlock_attempt,
			unlock_attempts = EXCLUDED.unlock_attempts,
			safety_lock_minutes = EXCLUDED.safety_lock_minutes,
			total_safety_locks = EXCLUDED.total_safety_locks,
			autolock_timer_minutes = EXCLUDED.autolock_timer_minutes`,
		info.UserID, info.WalletAddress, info.LastUnlockTime,
		info.LastUnlockAttempt, info.UnlockAttempts, info.SafetyLockMinutes,
		info.TotalSafetyLocks, info.AutolockTimerMinutes,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert unlock info: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindDefaultWallet(ctx context.Context, userID int64) (*WalletRecord, error) {
	var w WalletRecord
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, address, label, is_default
		FROM wallets
		WHERE user_id = $1 AND is_default = TRUE`,
		userID,
	).Scan(&w.UserID, &w.Address, &w.Label, &w.IsDefault)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find default wallet: %w", err)
	}
	return &w, nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
