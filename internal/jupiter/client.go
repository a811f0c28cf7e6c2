// =============================
// File: internal/jupiter/client.go
// =============================
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Client talks to a Jupiter-compatible swap aggregator. The aggregator is an
// opaque price oracle: it prices a mint pair and returns a serialized
// candidate transaction ready for signing.
type Client struct {
	Base string
	HTTP *http.Client

	logger *zap.Logger
}

func NewClient(base string, logger *zap.Logger) *Client {
	return &Client{
		Base:   base,
		HTTP:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("jupiter"),
	}
}

// Quote is a priced estimate for one mint pair, valid only briefly. Quotes
// are fetched fresh per operation and never reused across attempts.
type Quote struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	OtherAmount    string          `json:"otherAmountThreshold"`
	SlippageBps    int             `json:"slippageBps"`
	PriceImpactPct json.Number     `json:"priceImpactPct"`
	RoutePlan      json.RawMessage `json:"routePlan"`
	Error          string          `json:"error,omitempty"`
}

// InAmountUint parses the quoted input amount in smallest units.
func (q *Quote) InAmountUint() (uint64, error) {
	return strconv.ParseUint(q.InAmount, 10, 64)
}

// OutAmountUint parses the quoted output amount in smallest units.
func (q *Quote) OutAmountUint() (uint64, error) {
	return strconv.ParseUint(q.OutAmount, 10, 64)
}

// QuoteRequest carries the parameters for GET /v6/quote. PlatformFeeBps is
// optional; when set the aggregator nets the platform fee inside the swap
// itself (the sell-side fee path).
type QuoteRequest struct {
	InputMint      string
	OutputMint     string
	Amount         uint64
	SlippageBps    int
	PlatformFeeBps int
}

// GetQuote fetches a fresh quote. A provider-reported error field fails the
// call; the transport succeeding does not make a bad quote usable.
func (c *Client) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	if req.PlatformFeeBps > 0 {
		q.Set("platformFeeBps", strconv.Itoa(req.PlatformFeeBps))
	}
	u := c.Base + "/v6/quote?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote provider returned status %d", resp.StatusCode)
	}

	var out Quote
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	if out.Error != "" {
		return nil, &ProviderError{Op: "quote", Message: out.Error}
	}

	c.logger.Debug("quote fetched",
		zap.String("input_mint", out.InputMint),
		zap.String("output_mint", out.OutputMint),
		zap.String("in_amount", out.InAmount),
		zap.String("out_amount", out.OutAmount))
	return &out, nil
}

// SwapRequest carries the parameters for POST /v6/swap.
type SwapRequest struct {
	Quote                     *Quote
	UserPublicKey             string
	PrioritizationFeeLamports uint64
	FeeAccount                string // set only when the quote carried platformFeeBps
}

// SwapTransaction is the provider-built candidate transaction plus the
// expiry ceiling of the blockhash it was compiled against.
type SwapTransaction struct {
	Raw                  []byte
	LastValidBlockHeight uint64
}

// BuildSwapTransaction asks the aggregator for a ready-to-sign serialized
// transaction for the given quote.
func (c *Client) BuildSwapTransaction(ctx context.Context, req SwapRequest) (*SwapTransaction, error) {
	payload := map[string]any{
		"quoteResponse":             req.Quote,
		"userPublicKey":             req.UserPublicKey,
		"wrapAndUnwrapSol":          true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": req.PrioritizationFeeLamports,
	}
	if req.FeeAccount != "" {
		payload["feeAccount"] = req.FeeAccount
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+"/v6/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch swap transaction: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swap provider returned status %d", resp.StatusCode)
	}

	var sr struct {
		SwapTransaction      string `json:"swapTransaction"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		Error                string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode swap response: %w", err)
	}
	if sr.Error != "" {
		return nil, &ProviderError{Op: "swap", Message: sr.Error}
	}

	raw, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("failed to decode swap transaction: %w", err)
	}

	return &SwapTransaction{
		Raw:                  raw,
		LastValidBlockHeight: sr.LastValidBlockHeight,
	}, nil
}
