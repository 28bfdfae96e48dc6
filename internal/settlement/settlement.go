// Package settlement turns committed ledger debits into outbound
// transfers on the correct substrate and records the results. Dispatch is
// idempotent per caller-visible request identity, and failures after the
// debit are classified recoverable or unrecoverable, never dropped.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/runeswap/runeswap-api/internal/ledger"
	"github.com/runeswap/runeswap-api/internal/oracle"
	"github.com/runeswap/runeswap-api/internal/types"
)

// runePostage is the minimum bitcoin balance a custody address must hold
// to fund a rune-aware transaction's outputs and fees.
const runePostage = 20_000

type Service struct {
	db     *Database
	ledger *ledger.Service

	native  NativeLedgerClient
	bitcoin BitcoinClient
	oracle  oracle.Client

	confirmationDepth uint32
}

func NewService(gormDB *gorm.DB, ledgerService *ledger.Service, native NativeLedgerClient, bitcoin BitcoinClient, oracleClient oracle.Client, confirmationDepth uint32) *Service {
	return &Service{
		db:                NewDatabase(gormDB),
		ledger:            ledgerService,
		native:            native,
		bitcoin:           bitcoin,
		oracle:            oracleClient,
		confirmationDepth: confirmationDepth,
	}
}

// GetDB exposes the settlement database for the background processor.
func (s *Service) GetDB() *Database {
	return s.db
}

// DepositAddresses returns the caller's substrate-specific receive
// addresses. Pure derivation: identical for every call with the same
// account.
func (s *Service) DepositAddresses(owner string) types.DepositAddresses {
	return DeriveAddresses(types.Account{Owner: owner})
}

// Withdraw debits the ledger and submits the outbound transfer for the
// asset's substrate. A retried call with the same idempotency key returns
// the recorded request without resubmitting.
func (s *Service) Withdraw(ctx context.Context, owner string, asset types.Asset, destination string, amount uint64, feePerVByte uint64, idempotencyKey string) (*WithdrawalRequest, error) {
	logger := log.With().
		Str("service", "settlement").
		Str("owner", owner).
		Str("asset", asset.Encode()).
		Uint64("amount", amount).
		Logger()

	existing, err := s.db.GetWithdrawalByKey(idempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Info().
			Str("withdrawal_id", existing.WithdrawalID).
			Str("status", existing.Status).
			Msg("withdrawal retry matched recorded request, not resubmitting")
		return existing, nil
	}

	if amount == 0 || destination == "" {
		return nil, fmt.Errorf("%w: destination and amount are required", types.ErrParams)
	}

	// Rune existence is a parameter check, so it runs before the debit
	// commits. An oracle failure here also returns without mutating
	// anything; only transient failures after the debit are classified
	// recoverable.
	var runeEntry *oracle.RuneEntry
	if asset.Kind == types.AssetRune {
		entry, err := s.oracle.GetRuneEntry(ctx, asset.Rune)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, fmt.Errorf("%w: rune %s is not indexed", types.ErrParams, asset.Rune)
		}
		runeEntry = entry
	}

	withdrawal := &WithdrawalRequest{
		WithdrawalID:   "WDR_" + uuid.New().String(),
		IdempotencyKey: idempotencyKey,
		Owner:          owner,
		Asset:          asset,
		Destination:    destination,
		Amount:         amount,
		FeePerVByte:    feePerVByte,
		Status:         StatusPending,
		Depth:          s.confirmationDepth,
	}

	// Point of no return: the debit commits before the suspension into
	// the external substrate, so concurrent callers already see the
	// funds as spent.
	if err := s.db.CreateWithdrawalWithDebit(withdrawal, s.ledger); err != nil {
		return nil, err
	}

	txid, dispatchErr := s.dispatch(ctx, withdrawal, types.Account{Owner: owner}, runeEntry)
	if dispatchErr == nil {
		withdrawal.Status = StatusSubmitted
		withdrawal.Txid = txid.String()
		if err := s.db.UpdateWithdrawal(withdrawal); err != nil {
			return nil, err
		}
		logger.Info().
			Str("withdrawal_id", withdrawal.WithdrawalID).
			Str("txid", withdrawal.Txid).
			Msg("withdrawal submitted")
		return withdrawal, nil
	}

	return withdrawal, s.classifyDispatchFailure(ctx, withdrawal, txid, dispatchErr, logger)
}

// classifyDispatchFailure handles a dispatch error after the committed
// debit: the outcome is recorded as recoverable with the chain height and
// depth needed to re-check, and reconciliation falls to the processor.
func (s *Service) classifyDispatchFailure(ctx context.Context, withdrawal *WithdrawalRequest, txid *types.SubmittedTxID, dispatchErr error, logger zerolog.Logger) error {
	var height uint64
	if h, err := s.oracle.GetHeight(ctx); err == nil {
		height = h.Height
	}

	withdrawal.Status = StatusRecoverable
	withdrawal.RecordedHeight = height
	if txid != nil {
		withdrawal.Txid = txid.String()
	}
	if err := s.db.UpdateWithdrawal(withdrawal); err != nil {
		return err
	}

	logger.Error().
		Err(dispatchErr).
		Str("withdrawal_id", withdrawal.WithdrawalID).
		Uint64("height", height).
		Uint32("depth", withdrawal.Depth).
		Msg("dispatch failed after committed debit, marked recoverable")

	return &types.RecoverableError{Height: height, Depth: withdrawal.Depth, Err: dispatchErr}
}

// dispatch submits the transfer on the asset's substrate. For bitcoin
// rails the returned txid may be known even when the broadcast outcome is
// ambiguous, which is what makes retries reconcilable.
func (s *Service) dispatch(ctx context.Context, withdrawal *WithdrawalRequest, from types.Account, runeEntry *oracle.RuneEntry) (*types.SubmittedTxID, error) {
	addresses := DeriveAddresses(from)

	switch withdrawal.Asset.Kind {
	case types.AssetNative:
		sub := from.Subaccount
		if len(sub) == 0 {
			sub = SubaccountForOwner(from.Owner)
		}
		txid, err := s.native.Transfer(ctx, sub, withdrawal.Destination, withdrawal.Amount)
		if err != nil {
			return nil, err
		}
		id := types.NativeLedgerTxID(txid)
		return &id, nil

	case types.AssetBitcoin:
		feePerVByte, err := s.resolveFee(ctx, withdrawal.FeePerVByte)
		if err != nil {
			return nil, err
		}
		utxos, err := s.selectWithSync(ctx, addresses.Bitcoin, withdrawal.Amount)
		if err != nil {
			return nil, err
		}
		inputs := outpoints(utxos)
		withdrawal.ProbeTxid, withdrawal.ProbeVout = inputs[0].Txid, inputs[0].Vout
		withdrawal.Inputs = encodeOutpoints(inputs)

		raw, err := s.bitcoin.Submit(ctx, BitcoinTransfer{
			From:        addresses.Bitcoin,
			To:          withdrawal.Destination,
			Amount:      withdrawal.Amount,
			FeePerVByte: feePerVByte,
			Inputs:      inputs,
		})
		return bitcoinResult(raw, err)

	case types.AssetRune:
		if runeEntry == nil {
			return nil, fmt.Errorf("%w: rune %s is not indexed", types.ErrParams, withdrawal.Asset.Rune)
		}

		feePerVByte, err := s.resolveFee(ctx, withdrawal.FeePerVByte)
		if err != nil {
			return nil, err
		}
		runic, err := s.db.SelectRuneUTXOs(addresses.Bitcoin, withdrawal.Asset.Rune, withdrawal.Amount)
		if err != nil {
			return nil, err
		}
		postage, err := s.selectWithSync(ctx, addresses.Bitcoin, runePostage)
		if err != nil {
			s.releaseUTXOs(runic)
			return nil, err
		}
		inputs := outpoints(append(runic, postage...))
		withdrawal.ProbeTxid, withdrawal.ProbeVout = inputs[0].Txid, inputs[0].Vout
		withdrawal.Inputs = encodeOutpoints(inputs)

		raw, err := s.bitcoin.Submit(ctx, BitcoinTransfer{
			From:         addresses.Bitcoin,
			To:           withdrawal.Destination,
			Amount:       withdrawal.Amount,
			FeePerVByte:  feePerVByte,
			Inputs:       inputs,
			RuneId:       &withdrawal.Asset.Rune,
			RuneAmount:   withdrawal.Amount,
			Divisibility: runeEntry.Divisibility,
		})
		return bitcoinResult(raw, err)

	default:
		return nil, fmt.Errorf("%w: unknown asset kind %d", types.ErrParams, withdrawal.Asset.Kind)
	}
}

func bitcoinResult(txid string, err error) (*types.SubmittedTxID, error) {
	var id *types.SubmittedTxID
	if txid != "" {
		v := types.BitcoinTxID(txid)
		id = &v
	}
	return id, err
}

func outpoints(utxos []UTXO) []Outpoint {
	points := make([]Outpoint, len(utxos))
	for i, u := range utxos {
		points[i] = Outpoint{Txid: u.Txid, Vout: u.Vout}
	}
	return points
}

func encodeOutpoints(points []Outpoint) string {
	encoded, err := json.Marshal(points)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func decodeOutpoints(encoded string) []Outpoint {
	if encoded == "" {
		return nil
	}
	var points []Outpoint
	if err := json.Unmarshal([]byte(encoded), &points); err != nil {
		return nil
	}
	return points
}

func (s *Service) resolveFee(ctx context.Context, feePerVByte uint64) (uint64, error) {
	if feePerVByte > 0 {
		return feePerVByte, nil
	}
	return s.bitcoin.FeePerVByte(ctx)
}

// selectWithSync selects bitcoin UTXOs, refreshing the store from the
// chain view once if the recorded balance falls short.
func (s *Service) selectWithSync(ctx context.Context, address string, target uint64) ([]UTXO, error) {
	utxos, err := s.db.SelectBitcoinUTXOs(address, target)
	if err == nil {
		return utxos, nil
	}
	if !errors.Is(err, types.ErrInsufficientBalance) {
		return nil, err
	}
	if err := s.SyncUTXOs(ctx, address); err != nil {
		return nil, err
	}
	return s.db.SelectBitcoinUTXOs(address, target)
}

func (s *Service) releaseUTXOs(utxos []UTXO) {
	if err := s.db.UnspendUTXOs(utxos); err != nil {
		log.Error().Err(err).Str("service", "settlement").Msg("failed to release selected utxos")
	}
}

// SyncUTXOs refreshes the custody UTXO store for an address from the
// chain view, classifying each new output as plain bitcoin or runic via
// the oracle. An oracle transport failure aborts the sync rather than
// misclassifying a runic output as spendable bitcoin.
func (s *Service) SyncUTXOs(ctx context.Context, address string) error {
	chainUTXOs, err := s.bitcoin.ListUTXOs(ctx, address)
	if err != nil {
		return err
	}

	for _, cu := range chainUTXOs {
		runes, err := s.oracle.GetRunesByUTXO(ctx, cu.Txid, cu.Vout)
		if err != nil && !errors.Is(err, types.ErrOutPointNotFound) {
			return err
		}

		if len(runes) == 0 {
			if err := s.db.RecordUTXO(&UTXO{
				Address: address, Txid: cu.Txid, Vout: cu.Vout, Value: cu.Value, Height: cu.Height,
			}); err != nil {
				return err
			}
			continue
		}
		for _, rb := range runes {
			if err := s.db.RecordUTXO(&UTXO{
				Address: address, Txid: cu.Txid, Vout: cu.Vout, Value: cu.Value,
				Rune: rb.RuneId.String(), RuneBalance: rb.Balance, Height: cu.Height,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// MoveFunds emits the custody transfer mirroring an already committed
// pool/ledger mutation. The ledger legs are the caller's responsibility;
// this only moves value between custody addresses on the asset's
// substrate.
func (s *Service) MoveFunds(ctx context.Context, from, to types.Account, asset types.Asset, amount uint64) (types.SubmittedTxID, error) {
	fromAddresses := DeriveAddresses(from)
	toAddresses := DeriveAddresses(to)

	switch asset.Kind {
	case types.AssetNative:
		sub := from.Subaccount
		if len(sub) == 0 {
			sub = SubaccountForOwner(from.Owner)
		}
		txid, err := s.native.Transfer(ctx, sub, toAddresses.Native, amount)
		if err != nil {
			return types.SubmittedTxID{}, s.wrapMoveFailure(ctx, err)
		}
		return types.NativeLedgerTxID(txid), nil

	case types.AssetBitcoin, types.AssetRune:
		feePerVByte, err := s.bitcoin.FeePerVByte(ctx)
		if err != nil {
			return types.SubmittedTxID{}, err
		}

		transfer := BitcoinTransfer{
			From:        fromAddresses.Bitcoin,
			To:          toAddresses.Bitcoin,
			Amount:      amount,
			FeePerVByte: feePerVByte,
		}
		if asset.Kind == types.AssetRune {
			runic, err := s.db.SelectRuneUTXOs(fromAddresses.Bitcoin, asset.Rune, amount)
			if err != nil {
				return types.SubmittedTxID{}, err
			}
			postage, err := s.selectWithSync(ctx, fromAddresses.Bitcoin, runePostage)
			if err != nil {
				s.releaseUTXOs(runic)
				return types.SubmittedTxID{}, err
			}
			transfer.Inputs = outpoints(append(runic, postage...))
			transfer.RuneId = &asset.Rune
			transfer.RuneAmount = amount
		} else {
			utxos, err := s.selectWithSync(ctx, fromAddresses.Bitcoin, amount)
			if err != nil {
				return types.SubmittedTxID{}, err
			}
			transfer.Inputs = outpoints(utxos)
		}

		txid, err := s.bitcoin.Submit(ctx, transfer)
		if err != nil {
			return types.SubmittedTxID{}, s.wrapMoveFailure(ctx, err)
		}
		return types.BitcoinTxID(txid), nil

	default:
		return types.SubmittedTxID{}, fmt.Errorf("%w: unknown asset kind %d", types.ErrParams, asset.Kind)
	}
}

// wrapMoveFailure classifies a custody-move failure that happened after
// the pool/ledger state already committed.
func (s *Service) wrapMoveFailure(ctx context.Context, err error) error {
	var rpcErr *types.RpcError
	if !errors.As(err, &rpcErr) {
		return err
	}
	var height uint64
	if h, herr := s.oracle.GetHeight(ctx); herr == nil {
		height = h.Height
	}
	return &types.RecoverableError{Height: height, Depth: s.confirmationDepth, Err: err}
}
