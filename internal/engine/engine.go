// =============================
// File: internal/engine/engine.go
// =============================
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/okhunov/solpilot/internal/config"
	"github.com/okhunov/solpilot/internal/jupiter"
	"github.com/okhunov/solpilot/internal/logger"
	"github.com/okhunov/solpilot/internal/metrics"
	"github.com/okhunov/solpilot/internal/referral"
	"github.com/okhunov/solpilot/internal/sender"
	"github.com/okhunov/solpilot/internal/solrpc"
	"github.com/okhunov/solpilot/internal/store"
	"github.com/okhunov/solpilot/internal/swap"
	"github.com/okhunov/solpilot/internal/transfer"
	"github.com/okhunov/solpilot/internal/walletlock"
)

// Service wires the engine's components from configuration. The invoking
// layer (a chat interface, typically) holds one Service and calls the
// orchestrators through it.
type Service struct {
	Client    *solrpc.Client
	Quotes    *jupiter.Client
	Sender    *sender.Sender
	Swaps     *swap.Orchestrator
	Transfers *transfer.Orchestrator
	Locks     *walletlock.Machine
	Claims    *referral.ClaimGuard
	Store     store.Store

	log  *logger.Logger
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config, logCfg *logger.Config) (*Service, error) {
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	m := metrics.New(nil)

	client, err := solrpc.NewClient(cfg.RPCList, cfg.RPCRateLimit, m, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}

	var (
		st   store.Store
		pool *pgxpool.Pool
	)
	if cfg.PostgresURL != "" {
		pool, err = pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		st = store.NewPostgresStore(pool)
	} else {
		st = store.NewMemoryStore()
	}

	quotes := jupiter.NewClient(cfg.AggregatorURL, log.Logger)

	txSender := sender.NewSender(client, sender.Options{
		ResendInterval:     time.Duration(cfg.ResendIntervalMs) * time.Millisecond,
		StatusPollInterval: time.Duration(cfg.StatusPollIntervalMs) * time.Millisecond,
		ExpirySafetyMargin: cfg.ExpirySafetyMargin,
		TxFetchRetries:     uint(cfg.TxFetchRetries),
	}, m, log.Logger)

	swaps, err := swap.NewOrchestrator(client, quotes, txSender, st, m, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create swap orchestrator: %w", err)
	}

	transfers, err := transfer.NewOrchestrator(client, txSender, st, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer orchestrator: %w", err)
	}

	locks := walletlock.NewMachine(st, walletlock.Policy{
		AutolockDefault: time.Duration(cfg.AutolockMinutes) * time.Minute,
		AttemptWindow:   time.Minute,
		MaxAttempts:     cfg.MaxUnlockAttempts,
	}, log.Logger)

	return &Service{
		Client:    client,
		Quotes:    quotes,
		Sender:    txSender,
		Swaps:     swaps,
		Transfers: transfers,
		Locks:     locks,
		Claims:    referral.NewClaimGuard(time.Duration(cfg.ClaimCooldownSec) * time.Second),
		Store:     st,
		log:       log,
		pool:      pool,
	}, nil
}

// Close releases the service's resources.
func (s *Service) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if err := s.log.Sync(); err != nil {
		s.log.Warn("failed to sync logger", zap.Error(err))
	}
}
