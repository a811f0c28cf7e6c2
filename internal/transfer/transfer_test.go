package transfer

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/okhunov/solpilot/internal/sender"
	"github.com/okhunov/solpilot/internal/solrpc"
	"github.com/okhunov/solpilot/internal/store"
	"github.com/okhunov/solpilot/internal/wallet"
)

type fakeRPC struct {
	balance     uint64
	balanceErr  error
	tokenAmount string
	tokenBalErr error
	fee         uint64
	feeErr      error
	feeCalls    int
	window      solrpc.Window
}

func (f *fakeRPC) GetBalance(_ context.Context, _ solana.PublicKey) (uint64, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeRPC) GetTokenAccountBalance(_ context.Context, _ solana.PublicKey) (*rpc.UiTokenAmount, error) {
	if f.tokenBalErr != nil {
		return nil, f.tokenBalErr
	}
	return &rpc.UiTokenAmount{Amount: f.tokenAmount}, nil
}

func (f *fakeRPC) GetLatestBlockhash(_ context.Context) (solrpc.Window, error) {
	return f.window, nil
}

func (f *fakeRPC) GetFeeForMessage(_ context.Context, _ string) (uint64, error) {
	f.feeCalls++
	if f.feeErr != nil {
		return 0, f.feeErr
	}
	return f.fee, nil
}

type fakeSender struct {
	sent    [][]byte
	windows []solrpc.Window
	sendErr error
}

func (f *fakeSender) Send(_ context.Context, txBytes []byte, window solrpc.Window) (*sender.Receipt, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, txBytes)
	f.windows = append(f.windows, window)
	return &sender.Receipt{Signature: solana.Signature{5}, Slot: 300}, nil
}

func newTestOrchestrator(t *testing.T, client *fakeRPC, snd *fakeSender) (*Orchestrator, *store.MemoryStore) {
	t.Helper()
	records := store.NewMemoryStore()
	o, err := NewOrchestrator(client, snd, records, zaptest.NewLogger(t))
	require.NoError(t, err)
	return o, records
}

func testSigner() wallet.Signer {
	return wallet.FromPrivateKey(solana.NewWallet().PrivateKey)
}

// decodeTransferLamports extracts the lamport amount from the indexed system
// transfer instruction of a serialized transaction.
func decodeTransferLamports(t *testing.T, txBytes []byte, instIdx int) uint64 {
	t.Helper()
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(txBytes))
	require.NoError(t, err)
	require.Greater(t, len(tx.Message.Instructions), instIdx)
	data := tx.Message.Instructions[instIdx].Data
	require.Len(t, []byte(data), 12)
	return binary.LittleEndian.Uint64(data[4:])
}

func TestTransferSOL(t *testing.T) {
	client := &fakeRPC{
		balance: 2_000_000_000,
		fee:     7_500,
		window:  solrpc.Window{Blockhash: solana.Hash{1}, LastValidBlockHeight: 800},
	}
	snd := &fakeSender{}
	o, records := newTestOrchestrator(t, client, snd)

	res, err := o.TransferSOL(context.Background(), Params{
		UserID:    3,
		Signer:    testSigner(),
		Recipient: solana.NewWallet().PublicKey(),
		Amount:    1_000_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), res.Transferred)
	assert.Equal(t, uint64(7_500), res.FeeLamports)

	require.Len(t, snd.sent, 1)
	assert.Equal(t, uint64(1_000_000_000), decodeTransferLamports(t, snd.sent[0], 0))
	assert.Equal(t, uint64(800), snd.windows[0].LastValidBlockHeight)

	saved, err := records.ListTxRecords(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.True(t, saved[0].Success)
	assert.Equal(t, store.DirectionTransfer, saved[0].Direction)
}

func TestTransferSOLInsufficientBalance(t *testing.T) {
	client := &fakeRPC{
		balance: 1_000_000_000, // covers the amount but not the fee on top
		fee:     7_500,
		window:  solrpc.Window{Blockhash: solana.Hash{1}},
	}
	snd := &fakeSender{}
	o, _ := newTestOrchestrator(t, client, snd)

	_, err := o.TransferSOL(context.Background(), Params{
		UserID:    3,
		Signer:    testSigner(),
		Recipient: solana.NewWallet().PublicKey(),
		Amount:    1_000_000_000,
	})
	require.Error(t, err)
	assert.True(t, IsInsufficientBalanceError(err))
	assert.Empty(t, snd.sent)
}

func TestTransferSOLFeeEstimatorFallback(t *testing.T) {
	client := &fakeRPC{
		balance: 2_000_000_000,
		feeErr:  errors.New("method not supported"),
		window:  solrpc.Window{Blockhash: solana.Hash{1}},
	}
	o, _ := newTestOrchestrator(t, client, &fakeSender{})

	res, err := o.TransferSOL(context.Background(), Params{
		UserID:    3,
		Signer:    testSigner(),
		Recipient: solana.NewWallet().PublicKey(),
		Amount:    1_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultFeeLamports), res.FeeLamports)
	assert.Equal(t, 1, client.feeCalls)
}

func TestTransferSOLRejectsZeroRecipient(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeRPC{balance: 1 << 40}, &fakeSender{})

	_, err := o.TransferSOL(context.Background(), Params{
		UserID: 3,
		Signer: testSigner(),
		Amount: 1_000_000,
	})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestWithdrawAll(t *testing.T) {
	client := &fakeRPC{
		balance: 1_000_500_000,
		window:  solrpc.Window{Blockhash: solana.Hash{1}, LastValidBlockHeight: 800},
	}
	snd := &fakeSender{}
	o, records := newTestOrchestrator(t, client, snd)

	res, err := o.WithdrawAll(context.Background(), Params{
		UserID:    3,
		Signer:    testSigner(),
		Recipient: solana.NewWallet().PublicKey(),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_495_000), res.Transferred)
	assert.Equal(t, uint64(DefaultFeeLamports), res.FeeLamports)

	require.Len(t, snd.sent, 1)
	assert.Equal(t, uint64(1_000_495_000), decodeTransferLamports(t, snd.sent[0], 0))

	saved, err := records.ListTxRecords(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, store.DirectionWithdraw, saved[0].Direction)
	assert.Equal(t, uint64(1_000_495_000), saved[0].AmountIn)
}

func TestWithdrawAllBalanceAtFee(t *testing.T) {
	// a balance equal to the minimum fee cannot fund a withdrawal; nothing
	// must be built or sent
	for _, balance := range []uint64{0, 1, DefaultFeeLamports} {
		client := &fakeRPC{balance: balance}
		snd := &fakeSender{}
		o, _ := newTestOrchestrator(t, client, snd)

		_, err := o.WithdrawAll(context.Background(), Params{
			UserID:    3,
			Signer:    testSigner(),
			Recipient: solana.NewWallet().PublicKey(),
		})
		require.Error(t, err, "balance %d must be rejected", balance)
		assert.True(t, IsInsufficientBalanceError(err))
		assert.Empty(t, snd.sent)
	}
}

func TestTransferToken(t *testing.T) {
	client := &fakeRPC{
		balance:     10_000_000,
		tokenAmount: "5000",
		fee:         5_000,
		window:      solrpc.Window{Blockhash: solana.Hash{1}, LastValidBlockHeight: 800},
	}
	snd := &fakeSender{}
	o, records := newTestOrchestrator(t, client, snd)

	signer := testSigner()
	recipient := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	res, err := o.TransferToken(context.Background(), Params{
		UserID:    3,
		Signer:    signer,
		Recipient: recipient,
		Amount:    1_000,
		Mint:      mint,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), res.Transferred)

	// first instruction creates the recipient ATA idempotently, second moves
	// the tokens
	require.Len(t, snd.sent, 1)
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(snd.sent[0]))
	require.NoError(t, err)
	require.Len(t, tx.Message.Instructions, 2)

	createProgram, err := tx.Message.Program(tx.Message.Instructions[0].ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, createProgram)
	assert.Equal(t, []byte{1}, []byte(tx.Message.Instructions[0].Data))

	transferProgram, err := tx.Message.Program(tx.Message.Instructions[1].ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, solana.TokenProgramID, transferProgram)

	saved, err := records.ListTxRecords(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, mint.String(), saved[0].Mint)
}

func TestTransferTokenInsufficientHoldings(t *testing.T) {
	client := &fakeRPC{balance: 10_000_000, tokenAmount: "100"}
	snd := &fakeSender{}
	o, _ := newTestOrchestrator(t, client, snd)

	_, err := o.TransferToken(context.Background(), Params{
		UserID:    3,
		Signer:    testSigner(),
		Recipient: solana.NewWallet().PublicKey(),
		Amount:    1_000,
		Mint:      solana.NewWallet().PublicKey(),
	})
	require.Error(t, err)
	assert.True(t, IsInsufficientBalanceError(err))

	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, uint64(100), insufficient.Available)
	assert.Empty(t, snd.sent)
}

func TestTransferTokenMissingSourceAccount(t *testing.T) {
	client := &fakeRPC{balance: 10_000_000, tokenBalErr: errors.New("rpc: account not found")}
	o, _ := newTestOrchestrator(t, client, &fakeSender{})

	_, err := o.TransferToken(context.Background(), Params{
		UserID:    3,
		Signer:    testSigner(),
		Recipient: solana.NewWallet().PublicKey(),
		Amount:    1,
		Mint:      solana.NewWallet().PublicKey(),
	})
	require.Error(t, err)
	assert.True(t, IsInsufficientBalanceError(err))
}

func TestSendFailureStillPersistsRecord(t *testing.T) {
	client := &fakeRPC{
		balance: 2_000_000_000,
		fee:     5_000,
		window:  solrpc.Window{Blockhash: solana.Hash{1}},
	}
	snd := &fakeSender{sendErr: sender.ErrExpired}
	o, records := newTestOrchestrator(t, client, snd)

	_, err := o.TransferSOL(context.Background(), Params{
		UserID:    3,
		Signer:    testSigner(),
		Recipient: solana.NewWallet().PublicKey(),
		Amount:    1_000_000,
	})
	require.ErrorIs(t, err, sender.ErrExpired)

	saved, err := records.ListTxRecords(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.False(t, saved[0].Success)
	assert.NotEmpty(t, saved[0].Error)
}
