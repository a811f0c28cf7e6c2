// =============================
// File: internal/swap/orchestrator.go
// =============================
package swap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/okhunov/solpilot/internal/jupiter"
	"github.com/okhunov/solpilot/internal/metrics"
	"github.com/okhunov/solpilot/internal/sender"
	"github.com/okhunov/solpilot/internal/solrpc"
	"github.com/okhunov/solpilot/internal/store"
	"github.com/okhunov/solpilot/internal/wallet"
)

// baseFeeLamports is the reserve kept for the network's base signature fee
// when checking balance sufficiency.
const baseFeeLamports = 5_000

// RPC is the subset of the Solana RPC surface the orchestrator needs.
type RPC interface {
	GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.UiTokenAmount, error)
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// QuoteProvider is the aggregator collaborator.
type QuoteProvider interface {
	GetQuote(ctx context.Context, req jupiter.QuoteRequest) (*jupiter.Quote, error)
	BuildSwapTransaction(ctx context.Context, req jupiter.SwapRequest) (*jupiter.SwapTransaction, error)
}

// TxSender drives a signed transaction to a terminal outcome.
type TxSender interface {
	Send(ctx context.Context, txBytes []byte, window solrpc.Window) (*sender.Receipt, error)
}

// Params describes one buy or sell request.
type Params struct {
	UserID              int64
	Signer              wallet.Signer
	Mint                solana.PublicKey
	AmountLamports      uint64  // buy: SOL principal to spend
	SellPercent         float64 // sell: percentage of holdings, (0, 100]
	Fee                 FeeSpec
	SlippageBps         int
	PriorityFeeLamports uint64
}

// Result is the domain outcome of a swap, alongside the sender receipt.
type Result struct {
	Receipt      *sender.Receipt
	Quote        *jupiter.Quote
	InAmount     uint64
	OutAmount    uint64
	FeePaid      uint64
	FunctionTime time.Duration
	ChainTime    time.Duration
}

// Orchestrator builds, signs, and submits swap transactions. Every attempt
// leaves exactly one TxRecord behind, success or not.
type Orchestrator struct {
	client  RPC
	quotes  QuoteProvider
	sender  TxSender
	records store.TxRecordStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewOrchestrator(
	client RPC,
	quotes QuoteProvider,
	txSender TxSender,
	records store.TxRecordStore,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if quotes == nil {
		return nil, fmt.Errorf("quote provider cannot be nil")
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
		quotes:  quotes,
		sender:  txSender,
		records: records,
		metrics: m,
		logger:  logger.Named("swap"),
	}, nil
}

// Buy swaps SOL into the token. The protocol fee is deducted from the
// principal before quoting, so the SOL amount the user signed for is exact,
// and paid with an injected transfer instruction.
//
// Retrying a failed buy is a brand-new call: fresh quote, fresh blockhash.
// Two failed attempts can never collide on-chain.
func (o *Orchestrator) Buy(ctx context.Context, p Params) (res *Result, err error) {
	start := time.Now()
	record, recErr := store.NewTxRecord(p.UserID, p.Signer.PublicKey().String(), store.DirectionBuy)
	if recErr != nil {
		return nil, recErr
	}
	record.Mint = p.Mint.String()
	defer o.finalizeRecord(record, start, &res, &err)

	if p.Mint.IsZero() {
		return nil, ErrInvalidAddress
	}

	balance, err := o.client.GetBalance(ctx, p.Signer.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve balance: %w", err)
	}
	required := p.AmountLamports + p.PriorityFeeLamports + baseFeeLamports
	if balance < required {
		return nil, &InsufficientBalanceError{Required: required, Available: balance}
	}

	feeLamports := p.Fee.Amount(p.AmountLamports)
	principal := p.AmountLamports - feeLamports
	record.AmountIn = p.AmountLamports

	quote, err := o.quotes.GetQuote(ctx, jupiter.QuoteRequest{
		InputMint:   solana.SolMint.String(),
		OutputMint:  p.Mint.String(),
		Amount:      principal,
		SlippageBps: p.SlippageBps,
	})
	if err != nil {
		return nil, err
	}

	swapTx, err := o.quotes.BuildSwapTransaction(ctx, jupiter.SwapRequest{
		Quote:                     quote,
		UserPublicKey:             p.Signer.PublicKey().String(),
		PrioritizationFeeLamports: p.PriorityFeeLamports,
	})
	if err != nil {
		return nil, err
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(swapTx.Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize swap transaction: %w", err)
	}

	if feeLamports > 0 {
		tx, err = o.appendFeeTransfer(ctx, tx, p.Signer.PublicKey(), feeLamports, p.Fee.FeeAccount)
		if err != nil {
			return nil, fmt.Errorf("failed to inject fee transfer: %w", err)
		}
	}

	result, err := o.signAndSend(ctx, p, tx, swapTx.LastValidBlockHeight, quote, record)
	if err != nil {
		o.metrics.RecordSwapOutcome("buy", "failed")
		return nil, err
	}
	result.FeePaid = feeLamports
	o.metrics.RecordSwapOutcome("buy", "confirmed")
	return result, nil
}

// Sell swaps a percentage of the token holdings back into SOL. The protocol
// fee is expressed to the aggregator as platform basis points so it nets the
// fee inside the same swap, avoiding a second transfer instruction.
func (o *Orchestrator) Sell(ctx context.Context, p Params) (res *Result, err error) {
	start := time.Now()
	record, recErr := store.NewTxRecord(p.UserID, p.Signer.PublicKey().String(), store.DirectionSell)
	if recErr != nil {
		return nil, recErr
	}
	record.Mint = p.Mint.String()
	defer o.finalizeRecord(record, start, &res, &err)

	if p.Mint.IsZero() {
		return nil, ErrInvalidAddress
	}
	if p.SellPercent <= 0 || p.SellPercent > 100 {
		return nil, fmt.Errorf("invalid sell percent: %f", p.SellPercent)
	}

	ata, _, err := solana.FindAssociatedTokenAddress(p.Signer.PublicKey(), p.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive token account: %w", err)
	}
	holdings, err := o.tokenHoldings(ctx, ata)
	if err != nil {
		return nil, err
	}
	if holdings == 0 {
		return nil, &InsufficientBalanceError{Required: 1, Available: 0}
	}

	sellAmount := uint64(float64(holdings) * p.SellPercent / 100)
	if sellAmount == 0 {
		return nil, &InsufficientBalanceError{Required: 1, Available: 0}
	}
	record.AmountIn = sellAmount

	quote, err := o.quotes.GetQuote(ctx, jupiter.QuoteRequest{
		InputMint:      p.Mint.String(),
		OutputMint:     solana.SolMint.String(),
		Amount:         sellAmount,
		SlippageBps:    p.SlippageBps,
		PlatformFeeBps: p.Fee.PercentBps,
	})
	if err != nil {
		return nil, err
	}

	// The aggregator pays the netted fee into the fee wallet's WSOL account.
	feeATA, _, err := solana.FindAssociatedTokenAddress(p.Fee.FeeAccount, solana.SolMint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive fee account: %w", err)
	}

	swapTx, err := o.quotes.BuildSwapTransaction(ctx, jupiter.SwapRequest{
		Quote:                     quote,
		UserPublicKey:             p.Signer.PublicKey().String(),
		PrioritizationFeeLamports: p.PriorityFeeLamports,
		FeeAccount:                feeATA.String(),
	})
	if err != nil {
		return nil, err
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(swapTx.Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize swap transaction: %w", err)
	}

	result, err := o.signAndSend(ctx, p, tx, swapTx.LastValidBlockHeight, quote, record)
	if err != nil {
		o.metrics.RecordSwapOutcome("sell", "failed")
		return nil, err
	}
	result.FeePaid = p.Fee.Amount(sellAmount)
	o.metrics.RecordSwapOutcome("sell", "confirmed")
	return result, nil
}

// signAndSend signs the candidate transaction and delegates to the sender.
// The blockhash window is captured here, once, before any resend starts.
func (o *Orchestrator) signAndSend(
	ctx context.Context,
	p Params,
	tx *solana.Transaction,
	lastValidBlockHeight uint64,
	quote *jupiter.Quote,
	record *store.TxRecord,
) (*Result, error) {
	if err := p.Signer.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	window := solrpc.Window{
		Blockhash:            tx.Message.RecentBlockhash,
		LastValidBlockHeight: lastValidBlockHeight,
	}

	chainStart := time.Now()
	receipt, err := o.sender.Send(ctx, txBytes, window)
	chainTime := time.Since(chainStart)
	record.ChainTime = chainTime
	if err != nil {
		return nil, err
	}
	record.Signature = receipt.Signature.String()
	if receipt.ProgramErr != nil {
		return nil, fmt.Errorf("swap landed but failed on-chain: %w", receipt.ProgramErr)
	}

	inAmount, err := quote.InAmountUint()
	if err != nil {
		return nil, fmt.Errorf("failed to parse quoted in amount: %w", err)
	}
	outAmount, err := quote.OutAmountUint()
	if err != nil {
		return nil, fmt.Errorf("failed to parse quoted out amount: %w", err)
	}
	record.AmountOut = outAmount

	return &Result{
		Receipt:   receipt,
		Quote:     quote,
		InAmount:  inAmount,
		OutAmount: outAmount,
		ChainTime: chainTime,
	}, nil
}

// finalizeRecord persists the attempt whatever happened. It runs as a
// deferred finalizer so no swap attempt is ever left unrecorded, and uses a
// detached context so a cancelled request still gets its record.
func (o *Orchestrator) finalizeRecord(record *store.TxRecord, start time.Time, res **Result, errp *error) {
	record.FunctionTime = time.Since(start)
	if *errp != nil {
		record.Success = false
		record.Error = (*errp).Error()
	} else {
		record.Success = true
	}
	if *res != nil {
		(*res).FunctionTime = record.FunctionTime
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
		// A missing token account is just a zero balance.
		if isAccountNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to resolve token balance: %w", err)
	}
	if amount == nil {
		return 0, nil
	}
	holdings, err := strconv.ParseUint(amount.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token balance: %w", err)
	}
	return holdings, nil
}

func isAccountNotFoundError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
}
