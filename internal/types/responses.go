package types

import "time"

// DepositAddresses are the substrate-specific receive addresses derived
// from an account's stable identity. Derivation is deterministic: repeated
// calls for the same account return identical addresses.
type DepositAddresses struct {
	Native           string `json:"native"`
	NativeSubaccount string `json:"native_subaccount"`
	Bitcoin          string `json:"bitcoin"`
}

// PoolSummary is the read-only pool snapshot returned by pool listing.
type PoolSummary struct {
	PoolID           uint64           `json:"pool_id"`
	Token0           Asset            `json:"token0"`
	Token1           Asset            `json:"token1"`
	Reserve0         uint64           `json:"reserve0"`
	Reserve1         uint64           `json:"reserve1"`
	TotalLiquidity   uint64           `json:"total_liquidity"`
	DepositAddresses DepositAddresses `json:"deposit_addresses"`
	CreatedAt        time.Time        `json:"created_at"`
}

// AddLiquidityResponse reports the minted liquidity units and any on-chain
// transfers the settlement dispatcher emitted for the two deposit legs.
// Token0/Used0 and Token1/Used1 follow the pair order of the request, with
// each amount labelled by its asset.
type AddLiquidityResponse struct {
	Liquidity uint64          `json:"liquidity"`
	Token0    Asset           `json:"token0"`
	Used0     uint64          `json:"used0"`
	Token1    Asset           `json:"token1"`
	Used1     uint64          `json:"used1"`
	Txids     []SubmittedTxID `json:"txids"`
}

// RemoveLiquidityResponse reports the burned units, redeemed amounts and
// emitted transfers. Amounts follow the pair order of the request.
type RemoveLiquidityResponse struct {
	LiquidityBurned uint64          `json:"liquidity_burned"`
	Token0          Asset           `json:"token0"`
	Amount0         uint64          `json:"amount0"`
	Token1          Asset           `json:"token1"`
	Amount1         uint64          `json:"amount1"`
	Txids           []SubmittedTxID `json:"txids"`
}

// SwapResponse reports the executed output amount and emitted transfers.
type SwapResponse struct {
	AmountOut uint64          `json:"amount_out"`
	Txids     []SubmittedTxID `json:"txids"`
}

// BalanceEntry is one (asset, amount) row of a user balance query.
type BalanceEntry struct {
	Asset  Asset  `json:"asset"`
	Amount uint64 `json:"amount"`
}
