// =============================
// File: internal/sender/sender.go
// =============================
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/okhunov/solpilot/internal/metrics"
	"github.com/okhunov/solpilot/internal/solrpc"
)

// ErrExpired means the transaction's blockhash window closed before any
// confirmation was observed. It is the only recoverable sender outcome:
// the caller may retry with a fresh quote and blockhash. Любой другой
// сбой подтверждения — неоднозначная сетевая ошибка.
var ErrExpired = errors.New("blockhash window expired before confirmation")

// Receipt is the definitive confirmed outcome of one submission.
// A non-nil ProgramErr means the transaction landed on-chain but the
// program logic rejected it; that is a definite failure, distinct from
// ErrExpired and network errors, where the outcome is unknown.
type Receipt struct {
	Signature   solana.Signature
	Slot        uint64
	ProgramErr  error
	Transaction *rpc.GetTransactionResult
}

// RPC is the subset of the Solana RPC surface the sender needs.
type RPC interface {
	SendRawTransaction(ctx context.Context, txBytes []byte) (solana.Signature, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error)
	GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error)
}

// Options tune the resend/confirmation machinery. Zero values fall back
// to the reference intervals.
type Options struct {
	ResendInterval     time.Duration // fixed-interval re-submission cadence
	StatusPollInterval time.Duration // signature status polling cadence
	ExpirySafetyMargin uint64        // blocks subtracted from the true expiry
	TxFetchRetries     uint          // bounded retries for the record fetch
	TxFetchBackoff     time.Duration // minimum backoff between record fetches
}

func (o *Options) applyDefaults() {
	if o.ResendInterval <= 0 {
		o.ResendInterval = 2 * time.Second
	}
	if o.StatusPollInterval <= 0 {
		o.StatusPollInterval = 2 * time.Second
	}
	if o.ExpirySafetyMargin == 0 {
		o.ExpirySafetyMargin = 150
	}
	if o.TxFetchRetries == 0 {
		o.TxFetchRetries = 5
	}
	if o.TxFetchBackoff <= 0 {
		o.TxFetchBackoff = time.Second
	}
}

// Sender submits signed transactions and drives them to a definitive
// terminal outcome: confirmed, expired, or a network error.
type Sender struct {
	client  RPC
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    Options
}

func NewSender(client RPC, opts Options, m *metrics.Metrics, logger *zap.Logger) *Sender {
	opts.applyDefaults()
	return &Sender{
		client:  client,
		logger:  logger.Named("tx-sender"),
		metrics: m,
		opts:    opts,
	}
}

// Send submits the signed bytes once synchronously, keeps re-submitting the
// identical bytes in the background, and races two confirmation strategies
// against the blockhash window. The blockhash is fixed for the lifetime of
// the submission; the bytes are never re-signed.
//
// On return the resend loop has been cancelled and joined, whatever the
// outcome. ErrExpired is returned when the window closed unconfirmed; any
// other error is an ambiguous network failure.
func (s *Sender) Send(ctx context.Context, txBytes []byte, window solrpc.Window) (*Receipt, error) {
	sig, err := s.client.SendRawTransaction(ctx, txBytes)
	if err != nil {
		s.metrics.RecordSubmission("send_error")
		return nil, fmt.Errorf("failed to submit transaction: %w", err)
	}
	start := time.Now()

	s.logger.Info("transaction submitted",
		zap.String("signature", sig.String()),
		zap.Uint64("last_valid_block_height", window.LastValidBlockHeight))

	resendCtx, stopResend := context.WithCancel(ctx)
	var resendDone sync.WaitGroup
	resendDone.Add(1)
	go func() {
		defer resendDone.Done()
		s.resendLoop(resendCtx, txBytes)
	}()
	defer resendDone.Wait()
	defer stopResend()

	status, strategy, err := raceFirst(ctx,
		namedStrategy[*rpc.SignatureStatusesResult]{
			name: "window-wait",
			run: func(raceCtx context.Context) (*rpc.SignatureStatusesResult, error) {
				return s.waitWithinWindow(raceCtx, sig, window)
			},
		},
		namedStrategy[*rpc.SignatureStatusesResult]{
			name: "status-poll",
			run: func(raceCtx context.Context) (*rpc.SignatureStatusesResult, error) {
				return s.pollStatus(raceCtx, sig)
			},
		},
	)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			s.metrics.RecordExpiry()
			s.metrics.RecordSubmission("expired")
			s.logger.Warn("transaction expired unconfirmed",
				zap.String("signature", sig.String()),
				zap.Duration("elapsed", time.Since(start)))
			return nil, ErrExpired
		}
		s.metrics.RecordSubmission("network_error")
		return nil, fmt.Errorf("failed to confirm transaction %s: %w", sig, err)
	}

	s.metrics.RecordConfirmationWin(strategy)
	s.metrics.RecordConfirmationTime(time.Since(start).Seconds())

	receipt := &Receipt{Signature: sig, Slot: status.Slot}
	if status.Err != nil {
		receipt.ProgramErr = fmt.Errorf("transaction failed on-chain: %v", status.Err)
	}

	// The node that confirmed the signature may lag the node serving
	// transaction lookups, so the record fetch is retried.
	record, err := s.fetchTransactionRecord(ctx, sig)
	if err != nil {
		s.metrics.RecordSubmission("network_error")
		return nil, fmt.Errorf("confirmed transaction %s not retrievable: %w", sig, err)
	}
	receipt.Transaction = record
	receipt.Slot = record.Slot
	if record.Meta != nil && record.Meta.Err != nil && receipt.ProgramErr == nil {
		receipt.ProgramErr = fmt.Errorf("transaction failed on-chain: %v", record.Meta.Err)
	}

	s.metrics.RecordSubmission("confirmed")
	s.logger.Info("transaction confirmed",
		zap.String("signature", sig.String()),
		zap.String("strategy", strategy),
		zap.Duration("elapsed", time.Since(start)))
	return receipt, nil
}

// resendLoop re-submits the identical bytes at a fixed cadence until
// cancelled. Individual submission errors are logged and ignored: the
// cluster rejects duplicates of an already-processed transaction harmlessly.
func (s *Sender) resendLoop(ctx context.Context, txBytes []byte) {
	ticker := time.NewTicker(s.opts.ResendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.client.SendRawTransaction(ctx, txBytes); err != nil {
				if !solrpc.IsAlreadyProcessedError(err) {
					s.logger.Debug("resend attempt failed", zap.Error(err))
				}
				continue
			}
			s.metrics.RecordResend()
		}
	}
}

// waitWithinWindow is the expiry-bounded confirmation strategy. It watches
// the cluster block height against the window's ceiling, reduced by the
// safety margin so near-expiry is detected before the window truly closes,
// and resolves with ErrExpired once the ceiling is passed.
func (s *Sender) waitWithinWindow(ctx context.Context, sig solana.Signature, window solrpc.Window) (*rpc.SignatureStatusesResult, error) {
	deadline := window.LastValidBlockHeight
	if deadline > s.opts.ExpirySafetyMargin {
		deadline -= s.opts.ExpirySafetyMargin
	}

	ticker := time.NewTicker(s.opts.StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			height, err := s.client.GetBlockHeight(ctx)
			if err != nil {
				s.logger.Warn("block height check failed", zap.Error(err))
				continue
			}
			if height > deadline {
				return nil, ErrExpired
			}

			status, err := s.client.GetSignatureStatus(ctx, sig)
			if err != nil || status == nil {
				continue
			}
			if confirmed(status) {
				return status, nil
			}
		}
	}
}

// pollStatus is the fallback strategy: query the signature status until it
// reports confirmed. It never decides expiry; that is the window watcher's
// job.
func (s *Sender) pollStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	ticker := time.NewTicker(s.opts.StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			status, err := s.client.GetSignatureStatus(ctx, sig)
			if err != nil {
				s.logger.Warn("status poll failed", zap.Error(err))
				continue
			}
			if status != nil && confirmed(status) {
				return status, nil
			}
		}
	}
}

func confirmed(status *rpc.SignatureStatusesResult) bool {
	return status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		status.ConfirmationStatus == rpc.ConfirmationStatusFinalized
}

// fetchTransactionRecord retries the record lookup with exponential backoff
// because confirmation can be observed on a node that has not yet served the
// transaction to its peers.
func (s *Sender) fetchTransactionRecord(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.TxFetchBackoff

	return backoff.Retry(ctx,
		func() (*rpc.GetTransactionResult, error) {
			record, err := s.client.GetTransaction(ctx, sig)
			if err != nil {
				return nil, err
			}
			if record == nil {
				return nil, errors.New("transaction record not yet available")
			}
			return record, nil
		},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(s.opts.TxFetchRetries),
	)
}
