// Package ledger tracks per-owner, per-asset custodial balances. Balances
// are credited by confirmed deposits and swap/removal outputs and debited
// by swap inputs, liquidity deposits and withdrawals; no operation may
// drive a balance negative.
package ledger

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/runeswap/runeswap-api/internal/auth"
	"github.com/runeswap/runeswap-api/internal/types"
	"github.com/runeswap/runeswap-api/pkg/response"
)

type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: NewDatabase(gormDB)}
}

// Credit adds amount of asset to the owner's balance.
func (s *Service) Credit(owner string, asset types.Asset, amount uint64) error {
	return s.db.ApplyEntries([]Entry{{Owner: owner, Asset: asset, Amount: amount}})
}

// Debit removes amount of asset from the owner's balance. It fails with
// ErrInsufficientBalance and performs no mutation if the balance is short.
func (s *Service) Debit(owner string, asset types.Asset, amount uint64) error {
	return s.db.ApplyEntries([]Entry{{Owner: owner, Asset: asset, Amount: amount, Debit: true}})
}

// Apply applies a multi-leg mutation as a single atomic unit.
func (s *Service) Apply(entries []Entry) error {
	return s.db.ApplyEntries(entries)
}

// ApplyTx applies a multi-leg mutation inside a caller-owned transaction.
func (s *Service) ApplyTx(tx *gorm.DB, entries []Entry) error {
	return s.db.ApplyEntriesTx(tx, entries)
}

// Balance returns the owner's balance for one asset (zero when absent).
func (s *Service) Balance(owner string, asset types.Asset) (uint64, error) {
	return s.db.GetBalance(owner, asset)
}

// Balances returns all non-zero balances of an owner.
func (s *Service) Balances(owner string) ([]types.BalanceEntry, error) {
	rows, err := s.db.GetBalances(owner)
	if err != nil {
		return nil, err
	}
	entries := make([]types.BalanceEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, types.BalanceEntry{Asset: row.Asset, Amount: row.Amount})
	}
	return entries, nil
}

// RecordDeposit credits a confirmed inbound transfer exactly once per
// (txid, vout).
func (s *Service) RecordDeposit(deposit *Deposit) error {
	credited, err := s.db.CreateDepositWithCredit(deposit)
	if err != nil {
		return err
	}
	logger := log.With().
		Str("service", "ledger").
		Str("owner", deposit.Owner).
		Str("asset", deposit.Asset.Encode()).
		Str("txid", deposit.Txid).
		Uint32("vout", deposit.Vout).
		Logger()
	if credited {
		logger.Info().Uint64("amount", deposit.Amount).Msg("deposit credited")
	} else {
		logger.Debug().Msg("deposit already recorded, skipping credit")
	}
	return nil
}

// GinHandlers contains HTTP handlers for balance and deposit endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetBalancesHandler handles GET requests for the caller's balances.
func (h *GinHandlers) GetBalancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}
		owner := auth.GetClientID(claims)
		if owner == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		balances, err := h.service.Balances(owner)
		response.Handle(c, balances, err)
	}
}

// RecordDepositHandler handles POST requests from the deposit watcher
// reporting a confirmed inbound transfer. Internal network only.
func (h *GinHandlers) RecordDepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Owner  string `json:"owner" binding:"required"`
			Asset  string `json:"asset" binding:"required"`
			Amount uint64 `json:"amount" binding:"required"`
			Txid   string `json:"txid" binding:"required"`
			Vout   uint32 `json:"vout"`
			Height uint64 `json:"height"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		asset, err := types.ParseAsset(req.Asset)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		deposit := &Deposit{
			Owner:  req.Owner,
			Asset:  asset,
			Amount: req.Amount,
			Txid:   req.Txid,
			Vout:   req.Vout,
			Height: req.Height,
		}
		if err := h.service.RecordDeposit(deposit); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, deposit)
	}
}
