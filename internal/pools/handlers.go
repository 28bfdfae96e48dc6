package pools

import (
	"github.com/gin-gonic/gin"

	"github.com/runeswap/runeswap-api/internal/auth"
	"github.com/runeswap/runeswap-api/internal/types"
	"github.com/runeswap/runeswap-api/pkg/response"
)

// GinHandlers contains HTTP handlers for pool and swap endpoints.
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

func parsePair(c *gin.Context, token0, token1 string) (types.Asset, types.Asset, bool) {
	t0, err := types.ParseAsset(token0)
	if err != nil {
		response.BadRequest(c, err.Error())
		return types.Asset{}, types.Asset{}, false
	}
	t1, err := types.ParseAsset(token1)
	if err != nil {
		response.BadRequest(c, err.Error())
		return types.Asset{}, types.Asset{}, false
	}
	return t0, t1, true
}

// CreatePairHandler handles POST requests to register a new asset pair.
func (h *GinHandlers) CreatePairHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token0 string `json:"token0" binding:"required"`
			Token1 string `json:"token1" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		t0, t1, ok := parsePair(c, req.Token0, req.Token1)
		if !ok {
			return
		}

		pool, err := h.service.CreatePair(t0, t1)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, h.service.summarize(pool))
	}
}

// ListPoolsHandler handles GET requests for the pool listing snapshot.
func (h *GinHandlers) ListPoolsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		summaries, err := h.service.ListPools()
		response.Handle(c, summaries, err)
	}
}

// AddLiquidityHandler handles POST requests to deposit into a pool.
func (h *GinHandlers) AddLiquidityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := callerID(c)
		if !ok {
			return
		}

		var req struct {
			Token0         string `json:"token0" binding:"required"`
			Token1         string `json:"token1" binding:"required"`
			Amount0Desired uint64 `json:"amount0_desired" binding:"required"`
			Amount1Desired uint64 `json:"amount1_desired" binding:"required"`
			Amount0Min     uint64 `json:"amount0_min"`
			Amount1Min     uint64 `json:"amount1_min"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		t0, t1, ok := parsePair(c, req.Token0, req.Token1)
		if !ok {
			return
		}

		result, err := h.service.AddLiquidity(c.Request.Context(), owner, t0, t1,
			req.Amount0Desired, req.Amount1Desired, req.Amount0Min, req.Amount1Min)
		response.Handle(c, result, err)
	}
}

// RemoveLiquidityHandler handles DELETE requests to burn liquidity. A
// zero or omitted liquidity burns the caller's entire position.
func (h *GinHandlers) RemoveLiquidityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := callerID(c)
		if !ok {
			return
		}

		var req struct {
			Token0     string `json:"token0" binding:"required"`
			Token1     string `json:"token1" binding:"required"`
			Liquidity  uint64 `json:"liquidity"`
			Amount0Min uint64 `json:"amount0_min"`
			Amount1Min uint64 `json:"amount1_min"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		t0, t1, ok := parsePair(c, req.Token0, req.Token1)
		if !ok {
			return
		}

		result, err := h.service.RemoveLiquidity(c.Request.Context(), owner, t0, t1,
			req.Liquidity, req.Amount0Min, req.Amount1Min)
		response.Handle(c, result, err)
	}
}

// SwapHandler handles POST requests to trade an exact input amount.
func (h *GinHandlers) SwapHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := callerID(c)
		if !ok {
			return
		}

		var req struct {
			TokenIn      string `json:"token_in" binding:"required"`
			AmountIn     uint64 `json:"amount_in" binding:"required"`
			TokenOut     string `json:"token_out" binding:"required"`
			AmountOutMin uint64 `json:"amount_out_min"`
			To           string `json:"to"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		tokenIn, tokenOut, ok := parsePair(c, req.TokenIn, req.TokenOut)
		if !ok {
			return
		}

		result, err := h.service.Swap(c.Request.Context(), owner, tokenIn, req.AmountIn,
			tokenOut, req.AmountOutMin, req.To)
		response.Handle(c, result, err)
	}
}
