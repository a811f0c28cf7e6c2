// internal/swap/recompile.go
package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/programs/system"
	"golang.org/x/sync/errgroup"
)

// appendFeeTransfer decompiles the provider-built transaction, resolving any
// referenced address lookup tables, appends a SOL transfer paying the
// protocol fee, and recompiles against the same blockhash. The blockhash
// must not change or the submission loses its deterministic outcome.
func (o *Orchestrator) appendFeeTransfer(
	ctx context.Context,
	tx *solana.Transaction,
	payer solana.PublicKey,
	feeLamports uint64,
	feeAccount solana.PublicKey,
) (*solana.Transaction, error) {
	msg := &tx.Message

	tables, err := o.resolveLookupTables(ctx, msg)
	if err != nil {
		return nil, err
	}
	if len(tables) > 0 {
		if err := msg.SetAddressTables(tables); err != nil {
			return nil, fmt.Errorf("failed to attach lookup tables: %w", err)
		}
	}

	keys, err := msg.GetAllKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account keys: %w", err)
	}

	instructions := make([]solana.Instruction, 0, len(msg.Instructions)+1)
	for _, compiled := range msg.Instructions {
		programID, err := msg.Program(compiled.ProgramIDIndex)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve program id: %w", err)
		}
		metas := make(solana.AccountMetaSlice, 0, len(compiled.Accounts))
		for _, accountIdx := range compiled.Accounts {
			if int(accountIdx) >= len(keys) {
				return nil, errors.New("compiled instruction references unknown account index")
			}
			metas = append(metas, compiledAccountMeta(msg, keys, int(accountIdx)))
		}
		instructions = append(instructions, solana.NewInstruction(programID, metas, compiled.Data))
	}

	instructions = append(instructions,
		system.NewTransferInstruction(feeLamports, payer, feeAccount).Build())

	opts := []solana.TransactionOption{solana.TransactionPayer(payer)}
	if len(tables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(tables))
	}

	rebuilt, err := solana.NewTransaction(instructions, msg.RecentBlockhash, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to recompile transaction: %w", err)
	}
	return rebuilt, nil
}

// resolveLookupTables fetches and decodes every lookup table the message
// references. Tables are independent, so they are fetched concurrently.
func (o *Orchestrator) resolveLookupTables(ctx context.Context, msg *solana.Message) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	if len(msg.AddressTableLookups) == 0 {
		return nil, nil
	}

	tables := make(map[solana.PublicKey]solana.PublicKeySlice, len(msg.AddressTableLookups))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	for _, lookup := range msg.AddressTableLookups {
		lookup := lookup
		g.Go(func() error {
			info, err := o.client.GetAccountInfo(gCtx, lookup.AccountKey)
			if err != nil {
				return fmt.Errorf("failed to fetch lookup table %s: %w", lookup.AccountKey, err)
			}
			if info == nil || info.Value == nil {
				return fmt.Errorf("lookup table %s not found", lookup.AccountKey)
			}
			state, err := addresslookuptable.DecodeAddressLookupTableState(info.Value.Data.GetBinary())
			if err != nil {
				return fmt.Errorf("failed to decode lookup table %s: %w", lookup.AccountKey, err)
			}
			mu.Lock()
			tables[lookup.AccountKey] = state.Addresses
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

// compiledAccountMeta reconstructs signer/writable flags from the compiled
// message layout: static keys ordered by the header counts, then writable
// lookup keys, then readonly lookup keys.
func compiledAccountMeta(msg *solana.Message, keys solana.PublicKeySlice, idx int) *solana.AccountMeta {
	header := msg.Header
	numStatic := len(msg.AccountKeys)
	numWritableLookups := 0
	for _, l := range msg.AddressTableLookups {
		numWritableLookups += len(l.WritableIndexes)
	}

	meta := &solana.AccountMeta{PublicKey: keys[idx]}
	switch {
	case idx < int(header.NumRequiredSignatures):
		meta.IsSigner = true
		meta.IsWritable = idx < int(header.NumRequiredSignatures)-int(header.NumReadonlySignedAccounts)
	case idx < numStatic:
		meta.IsWritable = idx < numStatic-int(header.NumReadonlyUnsignedAccounts)
	default:
		meta.IsWritable = idx-numStatic < numWritableLookups
	}
	return meta
}
