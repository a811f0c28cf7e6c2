// internal/solrpc/client.go
package solrpc

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/okhunov/solpilot/internal/metrics"
)

// Window is the finite validity interval of a signed transaction. Once the
// cluster's block height passes LastValidBlockHeight the transaction can
// never land; this is the authoritative expiry signal.
type Window struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// API is the RPC surface the engine consumes. Collaborator packages accept
// this interface so tests can substitute fakes without real Solana nodes.
type API interface {
	SendRawTransaction(ctx context.Context, txBytes []byte) (solana.Signature, error)
	GetLatestBlockhash(ctx context.Context) (Window, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error)
	GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error)
	GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.UiTokenAmount, error)
	GetFeeForMessage(ctx context.Context, msgBase64 string) (uint64, error)
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// Client is a thin adapter over a round-robin pool of Solana RPC clients,
// with per-process rate limiting so resend loops cannot starve an endpoint.
type Client struct {
	pool    *RPCPool
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ API = (*Client)(nil)

// NewClient validates the endpoint list and builds the client.
// ratePerSec bounds outgoing RPC calls; zero disables limiting.
func NewClient(rpcList []string, ratePerSec int, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	if len(rpcList) == 0 {
		return nil, errors.New("empty RPC list")
	}
	for _, rpcURL := range rpcList {
		if _, err := url.Parse(rpcURL); err != nil {
			return nil, errors.New("invalid RPC URL: " + rpcURL)
		}
	}

	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}

	return &Client{
		pool:    NewRPCPool(rpcList),
		limiter: rate.NewLimiter(limit, max(ratePerSec, 1)),
		logger:  logger.Named("solrpc"),
		metrics: m,
	}, nil
}

func (c *Client) observe(ctx context.Context, method string, fn func(rc *rpc.Client) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	err := fn(c.pool.GetClient())
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, time.Since(start).Seconds())
	return err
}

// SendRawTransaction submits pre-signed transaction bytes. Preflight is
// skipped: the caller owns retry semantics and duplicate submissions are
// rejected harmlessly by the cluster.
func (c *Client) SendRawTransaction(ctx context.Context, txBytes []byte) (solana.Signature, error) {
	var sig solana.Signature
	err := c.observe(ctx, "sendTransaction", func(rc *rpc.Client) error {
		var err error
		sig, err = rc.SendRawTransactionWithOpts(ctx, txBytes, rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		return err
	})
	if err != nil {
		c.logger.Debug("SendRawTransaction error", zap.Error(err))
		return solana.Signature{}, err
	}
	return sig, nil
}

func (c *Client) GetLatestBlockhash(ctx context.Context) (Window, error) {
	var out Window
	err := c.observe(ctx, "getLatestBlockhash", func(rc *rpc.Client) error {
		result, err := rc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		out = Window{
			Blockhash:            result.Value.Blockhash,
			LastValidBlockHeight: result.Value.LastValidBlockHeight,
		}
		return nil
	})
	if err != nil {
		c.logger.Error("GetLatestBlockhash error", zap.Error(err))
		return Window{}, err
	}
	return out, nil
}

func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.observe(ctx, "getBlockHeight", func(rc *rpc.Client) error {
		var err error
		height, err = rc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		c.logger.Error("GetBlockHeight error", zap.Error(err))
		return 0, err
	}
	return height, nil
}

// GetSignatureStatus returns nil without error when the cluster does not
// know the signature yet.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	var status *rpc.SignatureStatusesResult
	err := c.observe(ctx, "getSignatureStatuses", func(rc *rpc.Client) error {
		result, err := rc.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return err
		}
		if result != nil && len(result.Value) > 0 {
			status = result.Value[0]
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("GetSignatureStatus error", zap.Error(err))
		return nil, err
	}
	return status, nil
}

func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	var out *rpc.GetTransactionResult
	maxVersion := uint64(0)
	err := c.observe(ctx, "getTransaction", func(rc *rpc.Client) error {
		var err error
		out, err = rc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		return err
	})
	if err != nil {
		c.logger.Debug("GetTransaction error",
			zap.String("signature", sig.String()),
			zap.Error(err))
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var balance uint64
	err := c.observe(ctx, "getBalance", func(rc *rpc.Client) error {
		result, err := rc.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		balance = result.Value
		return nil
	})
	if err != nil {
		c.logger.Error("GetBalance error", zap.Error(err))
		return 0, err
	}
	return balance, nil
}

func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.UiTokenAmount, error) {
	var amount *rpc.UiTokenAmount
	err := c.observe(ctx, "getTokenAccountBalance", func(rc *rpc.Client) error {
		result, err := rc.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		amount = result.Value
		return nil
	})
	if err != nil {
		c.logger.Debug("GetTokenAccountBalance error",
			zap.String("account", account.String()),
			zap.Error(err))
		return nil, err
	}
	return amount, nil
}

// GetFeeForMessage returns the network fee for a base64-encoded message,
// or an error when the estimator is unavailable; callers fall back to a
// fixed default rather than assuming zero.
func (c *Client) GetFeeForMessage(ctx context.Context, msgBase64 string) (uint64, error) {
	var fee uint64
	err := c.observe(ctx, "getFeeForMessage", func(rc *rpc.Client) error {
		result, err := rc.GetFeeForMessage(ctx, msgBase64, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		if result.Value == nil {
			return errors.New("fee estimator returned no value")
		}
		fee = *result.Value
		return nil
	})
	if err != nil {
		c.logger.Debug("GetFeeForMessage error", zap.Error(err))
		return 0, err
	}
	return fee, nil
}

func (c *Client) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	var out *rpc.GetAccountInfoResult
	err := c.observe(ctx, "getAccountInfo", func(rc *rpc.Client) error {
		var err error
		out, err = rc.GetAccountInfo(ctx, pubkey)
		return err
	})
	if err != nil {
		c.logger.Debug("GetAccountInfo error",
			zap.String("pubkey", pubkey.String()),
			zap.Error(err))
		return nil, err
	}
	return out, nil
}
