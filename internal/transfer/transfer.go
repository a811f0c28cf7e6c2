// =============================
// File: internal/transfer/transfer.go
// =============================
package transfer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/okhunov/solpilot/internal/sender"
	"github.com/okhunov/solpilot/internal/solrpc"
	"github.com/okhunov/solpilot/internal/store"
	"github.com/okhunov/solpilot/internal/wallet"
)

// DefaultFeeLamports is the fixed fallback used when the network fee
// estimator is unavailable. The orchestrator never proceeds on a zero fee
// assumption.
const DefaultFeeLamports = 5_000

// RPC is the subset of the Solana RPC surface direct transfers need.
type RPC interface {
	GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.UiTokenAmount, error)
	GetLatestBlockhash(ctx context.Context) (solrpc.Window, error)
	GetFeeForMessage(ctx context.Context, msgBase64 string) (uint64, error)
}

// TxSender drives a signed transaction to a terminal outcome.
type TxSender interface {
	Send(ctx context.Context, txBytes []byte, window solrpc.Window) (*sender.Receipt, error)
}

// Params describes one direct value transfer.
type Params struct {
	UserID    int64
	Signer    wallet.Signer
	Recipient solana.PublicKey
	Amount    uint64           // lamports for SOL, smallest units for tokens
	Mint      solana.PublicKey // zero for native SOL
}

// Result reports a confirmed transfer.
type Result struct {
	Receipt     *sender.Receipt
	Transferred uint64
	FeeLamports uint64
}

// Orchestrator builds, signs, and submits direct transfers.
type Orchestrator struct {
	client  RPC
	sender  TxSender
	records store.TxRecordStore
	logger  *zap.Logger
}

func NewOrchestrator(client RPC, txSender TxSender, records store.TxRecordStore, logger *zap.Logger) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if txSender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	if records == nil {
		return nil, fmt.Errorf("record store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Orchestrator{
		client:  client,
		sender:  txSender,
		records: records,
		logger:  logger.Named("transfer"),
	}, nil
}

// TransferSOL sends native value after verifying balance covers amount plus
// the estimated network fee.
func (o *Orchestrator) TransferSOL(ctx context.Context, p Params) (res *Result, err error) {
	start := time.Now()
	record, recErr := store.NewTxRecord(p.UserID, p.Signer.PublicKey().String(), store.DirectionTransfer)
	if recErr != nil {
		return nil, recErr
	}
	record.AmountIn = p.Amount
	defer o.finalizeRecord(record, start, &err)

	if p.Recipient.IsZero() {
		return nil, ErrInvalidAddress
	}

	window, err := o.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(p.Amount, p.Signer.PublicKey(), p.Recipient).Build(),
		},
		window.Blockhash,
		solana.TransactionPayer(p.Signer.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	fee := o.estimateFee(ctx, tx)

	balance, err := o.client.GetBalance(ctx, p.Signer.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve balance: %w", err)
	}
	if balance < p.Amount+fee {
		return nil, &InsufficientBalanceError{Required: p.Amount + fee, Available: balance}
	}

	receipt, err := o.signAndSend(ctx, p.Signer, tx, window, record)
	if err != nil {
		return nil, err
	}
	return &Result{Receipt: receipt, Transferred: p.Amount, FeeLamports: fee}, nil
}

// WithdrawAll transfers the whole balance minus the fixed minimum fee.
// A balance at or below the minimum fee is rejected before any transaction
// is constructed; this is the one place underflow must be guarded.
func (o *Orchestrator) WithdrawAll(ctx context.Context, p Params) (res *Result, err error) {
	start := time.Now()
	record, recErr := store.NewTxRecord(p.UserID, p.Signer.PublicKey().String(), store.DirectionWithdraw)
	if recErr != nil {
		return nil, recErr
	}
	defer o.finalizeRecord(record, start, &err)

	if p.Recipient.IsZero() {
		return nil, ErrInvalidAddress
	}

	balance, err := o.client.GetBalance(ctx, p.Signer.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve balance: %w", err)
	}
	if balance <= DefaultFeeLamports {
		return nil, &InsufficientBalanceError{Required: DefaultFeeLamports + 1, Available: balance}
	}
	amount := balance - DefaultFeeLamports
	record.AmountIn = amount

	window, err := o.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(amount, p.Signer.PublicKey(), p.Recipient).Build(),
		},
		window.Blockhash,
		solana.TransactionPayer(p.Signer.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	receipt, err := o.signAndSend(ctx, p.Signer, tx, window, record)
	if err != nil {
		return nil, err
	}
	return &Result{Receipt: receipt, Transferred: amount, FeeLamports: DefaultFeeLamports}, nil
}

// TransferToken sends SPL tokens, creating the recipient's associated token
// account idempotently when it does not exist yet.
func (o *Orchestrator) TransferToken(ctx context.Context, p Params) (res *Result, err error) {
	start := time.Now()
	record, recErr := store.NewTxRecord(p.UserID, p.Signer.PublicKey().String(), store.DirectionTransfer)
	if recErr != nil {
		return nil, recErr
	}
	record.Mint = p.Mint.String()
	record.AmountIn = p.Amount
	defer o.finalizeRecord(record, start, &err)

	if p.Recipient.IsZero() || p.Mint.IsZero() {
		return nil, ErrInvalidAddress
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(p.Signer.PublicKey(), p.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive source token account: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(p.Recipient, p.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive recipient token account: %w", err)
	}

	holdings, err := o.tokenHoldings(ctx, sourceATA)
	if err != nil {
		return nil, err
	}
	if holdings < p.Amount {
		return nil, &InsufficientBalanceError{Required: p.Amount, Available: holdings}
	}

	window, err := o.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			createATAIdempotentInstruction(p.Signer.PublicKey(), p.Recipient, p.Mint),
			token.NewTransferInstruction(p.Amount, sourceATA, destATA, p.Signer.PublicKey(), nil).Build(),
		},
		window.Blockhash,
		solana.TransactionPayer(p.Signer.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	fee := o.estimateFee(ctx, tx)
	balance, err := o.client.GetBalance(ctx, p.Signer.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve balance: %w", err)
	}
	if balance < fee {
		return nil, &InsufficientBalanceError{Required: fee, Available: balance}
	}

	receipt, err := o.signAndSend(ctx, p.Signer, tx, window, record)
	if err != nil {
		return nil, err
	}
	return &Result{Receipt: receipt, Transferred: p.Amount, FeeLamports: fee}, nil
}

// estimateFee asks the network for the message fee, falling back to the
// fixed default when the estimator is unavailable.
func (o *Orchestrator) estimateFee(ctx context.Context, tx *solana.Transaction) uint64 {
	msgBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		o.logger.Warn("failed to encode message for fee estimate", zap.Error(err))
		return DefaultFeeLamports
	}
	fee, err := o.client.GetFeeForMessage(ctx, base64.StdEncoding.EncodeToString(msgBytes))
	if err != nil || fee == 0 {
		o.logger.Debug("fee estimator unavailable, using default",
			zap.Uint64("default", DefaultFeeLamports),
			zap.Error(err))
		return DefaultFeeLamports
	}
	return fee
}

func (o *Orchestrator) signAndSend(
	ctx context.Context,
	signer wallet.Signer,
	tx *solana.Transaction,
	window solrpc.Window,
	record *store.TxRecord,
) (*sender.Receipt, error) {
	if err := signer.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	chainStart := time.Now()
	receipt, err := o.sender.Send(ctx, txBytes, window)
	record.ChainTime = time.Since(chainStart)
	if err != nil {
		return nil, err
	}
	record.Signature = receipt.Signature.String()
	if receipt.ProgramErr != nil {
		return nil, fmt.Errorf("transfer landed but failed on-chain: %w", receipt.ProgramErr)
	}
	return receipt, nil
}

func (o *Orchestrator) finalizeRecord(record *store.TxRecord, start time.Time, errp *error) {
	record.FunctionTime = time.Since(start)
	if *errp != nil {
		record.Success = false
		record.Error = (*errp).Error()
	} else {
		record.Success = true
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), 5*time.Second)
	defer cancel()
	if saveErr := o.records.SaveTxRecord(saveCtx, record); saveErr != nil {
		o.logger.Error("failed to persist tx record",
			zap.String("signature", record.Signature),
			zap.Error(saveErr))
	}
}

func (o *Orchestrator) tokenHoldings(ctx context.Context, ata solana.PublicKey) (uint64, error) {
	amount, err := o.client.GetTokenAccountBalance(ctx, ata)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to resolve token balance: %w", err)
	}
	if amount == nil {
		return 0, nil
	}
	return strconv.ParseUint(amount.Amount, 10, 64)
}

// createATAIdempotentInstruction builds the associated-token-program create
// instruction with the idempotent discriminator, so an existing account is
// a no-op instead of a failure.
func createATAIdempotentInstruction(payer, owner, mint solana.PublicKey) solana.Instruction {
	ata, _, _ := solana.FindAssociatedTokenAddress(owner, mint)

	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		[]*solana.AccountMeta{
			{PublicKey: payer, IsWritable: true, IsSigner: true},
			{PublicKey: ata, IsWritable: true, IsSigner: false},
			{PublicKey: owner, IsWritable: false, IsSigner: false},
			{PublicKey: mint, IsWritable: false, IsSigner: false},
			{PublicKey: solana.SystemProgramID, IsWritable: false, IsSigner: false},
			{PublicKey: solana.TokenProgramID, IsWritable: false, IsSigner: false},
			{PublicKey: solana.SysVarRentPubkey, IsWritable: false, IsSigner: false},
		},
		[]byte{1}, // instruction code 1: create idempotent
	)
}
