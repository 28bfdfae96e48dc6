package settlement

import (
	"github.com/gin-gonic/gin"

	"github.com/runeswap/runeswap-api/internal/auth"
	"github.com/runeswap/runeswap-api/internal/types"
	"github.com/runeswap/runeswap-api/pkg/response"
)

// GinHandlers contains HTTP handlers for withdrawals and addresses.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func callerID(c *gin.Context) (string, bool) {
	claims, exists := c.Get("claims")
	if !exists {
		response.Unauthorized(c, "Missing authentication claims")
		return "", false
	}
	owner := auth.GetClientID(claims)
	if owner == "" {
		response.Unauthorized(c, "Invalid client ID in token")
		return "", false
	}
	return owner, true
}

// AddressesHandler handles GET requests for the caller's deposit
// addresses.
func (h *GinHandlers) AddressesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := callerID(c)
		if !ok {
			return
		}
		response.Success(c, h.service.DepositAddresses(owner))
	}
}

// WithdrawHandler handles POST requests to withdraw funds to an external
// address. The Idempotency-Key header is required: a retried request with
// the same key returns the recorded submission instead of resubmitting.
func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := callerID(c)
		if !ok {
			return
		}

		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req struct {
			Asset       string `json:"asset" binding:"required"`
			Destination string `json:"destination" binding:"required"`
			Amount      uint64 `json:"amount" binding:"required"`
			FeePerVByte uint64 `json:"fee_per_vbyte"`
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

		withdrawal, err := h.service.Withdraw(c.Request.Context(), owner, asset,
			req.Destination, req.Amount, req.FeePerVByte, idempotencyKey)
		response.Handle(c, withdrawal, err)
	}
}

// GetWithdrawalHandler handles GET requests for a single withdrawal.
func (h *GinHandlers) GetWithdrawalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := callerID(c)
		if !ok {
			return
		}

		withdrawal, err := h.service.GetDB().GetWithdrawal(c.Param("id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if withdrawal.Owner != owner {
			response.Forbidden(c, "Withdrawal belongs to another account")
			return
		}
		response.Success(c, withdrawal)
	}
}

// SyncUTXOsHandler handles internal POST requests to refresh the custody
// UTXO store for an address from the chain view.
func (h *GinHandlers) SyncUTXOsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Address string `json:"address" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.service.SyncUTXOs(c.Request.Context(), req.Address); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"address": req.Address, "synced": true})
	}
}
