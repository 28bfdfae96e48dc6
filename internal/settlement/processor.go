package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/runeswap/runeswap-api/internal/ledger"
	"github.com/runeswap/runeswap-api/internal/oracle"
	"github.com/runeswap/runeswap-api/internal/types"
)

// Processor reconciles recoverable withdrawals against chain state. A
// withdrawal becomes recoverable when the broadcast outcome was ambiguous
// after the ledger debit committed; once the chain has advanced Depth
// blocks past the recorded height, probing a known input outpoint settles
// the question: spent means the transfer landed, unspent means it never
// will and the debit is refunded.
type Processor struct {
	db      *Database
	ledger  *ledger.Service
	bitcoin BitcoinClient
	oracle  oracle.Client

	processDelay time.Duration
}

func NewProcessor(db *Database, ledgerService *ledger.Service, bitcoin BitcoinClient, oracleClient oracle.Client, processDelay time.Duration) *Processor {
	if processDelay <= 0 {
		processDelay = time.Minute
	}
	return &Processor{
		db:           db,
		ledger:       ledgerService,
		bitcoin:      bitcoin,
		oracle:       oracleClient,
		processDelay: processDelay,
	}
}

// Start begins the reconciliation loop.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()
	logger.Info().Msg("starting settlement processor")

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement processor")
			return
		case <-ticker.C:
			if err := p.processRecoverable(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to process recoverable withdrawals")
			}
		}
	}
}

func (p *Processor) processRecoverable(ctx context.Context) error {
	logger := log.With().Str("component", "settlement_processor").Logger()

	withdrawals, err := p.db.GetRecoverableWithdrawals()
	if err != nil {
		return err
	}
	if len(withdrawals) == 0 {
		return nil
	}
	logger.Info().Int("recoverable_count", len(withdrawals)).Msg("reconciling withdrawals")

	height, err := p.oracle.GetHeight(ctx)
	if err != nil {
		// The chain view is unavailable; reconciliation waits for the
		// next tick rather than judging outcomes blind.
		return err
	}

	for i := range withdrawals {
		if err := p.reconcile(ctx, &withdrawals[i], height.Height); err != nil {
			logger.Error().
				Err(err).
				Str("withdrawal_id", withdrawals[i].WithdrawalID).
				Msg("failed to reconcile withdrawal")
		}
	}
	return nil
}

func (p *Processor) reconcile(ctx context.Context, withdrawal *WithdrawalRequest, height uint64) error {
	logger := log.With().
		Str("component", "settlement_processor").
		Str("withdrawal_id", withdrawal.WithdrawalID).
		Logger()

	// Native-ledger dispatch has no construction-time txid: a failure
	// there means nothing was submitted, so the debit is refunded
	// immediately.
	if withdrawal.Asset.Kind == types.AssetNative {
		if withdrawal.Txid != "" {
			withdrawal.Status = StatusSubmitted
			return p.db.UpdateWithdrawal(withdrawal)
		}
		logger.Info().Msg("native dispatch never submitted, refunding")
		return p.db.RefundWithdrawal(withdrawal, p.ledger)
	}

	// Without a probe outpoint the transaction was never constructed;
	// nothing can have been broadcast.
	if withdrawal.ProbeTxid == "" {
		logger.Info().Msg("no constructed transaction recorded, refunding")
		return p.refund(withdrawal)
	}

	if height < withdrawal.RecordedHeight+uint64(withdrawal.Depth) {
		return nil
	}

	spent, err := p.bitcoin.OutPointSpent(ctx, withdrawal.ProbeTxid, withdrawal.ProbeVout)
	if err != nil {
		var rpcErr *types.RpcError
		if errors.As(err, &rpcErr) {
			return err
		}
		// The probe outpoint is unknown to the chain view after the
		// waiting period; an operator has to look at this one.
		logger.Error().Err(err).Msg("probe outpoint unresolvable, marking unrecoverable")
		withdrawal.Status = StatusUnrecoverable
		return p.db.UpdateWithdrawal(withdrawal)
	}

	if spent {
		logger.Info().Str("txid", withdrawal.Txid).Msg("transfer landed on-chain")
		withdrawal.Status = StatusSubmitted
		return p.db.UpdateWithdrawal(withdrawal)
	}

	logger.Info().
		Uint64("recorded_height", withdrawal.RecordedHeight).
		Uint32("depth", withdrawal.Depth).
		Msg("transfer never landed, refunding debit")
	return p.refund(withdrawal)
}

// refund re-credits the debit and releases any custody outputs the
// never-landed transaction would have consumed.
func (p *Processor) refund(withdrawal *WithdrawalRequest) error {
	if points := decodeOutpoints(withdrawal.Inputs); len(points) > 0 {
		if err := p.db.UnspendOutpoints(points); err != nil {
			return err
		}
	}
	return p.db.RefundWithdrawal(withdrawal, p.ledger)
}
