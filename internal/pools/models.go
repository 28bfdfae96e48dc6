package pools

import (
	"time"

	"gorm.io/gorm"

	"github.com/runeswap/runeswap-api/internal/types"
)

// Pool is a liquidity pool over a canonical asset pair. Either all of
// Reserve0, Reserve1 and TotalLiquidity are zero or none of them are: a
// pool is empty or fully funded, never half-funded. Pools are created by
// the first add of a new pair and drained to zero, never destroyed.
type Pool struct {
	gorm.Model `json:"-"`
	PoolID     uint64      `gorm:"uniqueIndex" json:"pool_id"`
	Token0     types.Asset `gorm:"uniqueIndex:idx_pool_pair;type:text" json:"token0"`
	Token1     types.Asset `gorm:"uniqueIndex:idx_pool_pair;type:text" json:"token1"`

	Reserve0       uint64 `json:"reserve0"`
	Reserve1       uint64 `json:"reserve1"`
	TotalLiquidity uint64 `json:"total_liquidity"`
	// KLast is reserve0*reserve1 at the last liquidity event, kept for
	// drift auditing.
	KLast uint64 `json:"k_last"`

	// Subaccount and BitcoinAddress are the pool's custody addresses,
	// allocated once at creation.
	Subaccount     []byte `json:"-"`
	BitcoinAddress string `json:"bitcoin_address"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LiquidityPosition is an owner's outstanding claim on a pool, in
// liquidity units. A row with zero units is a logically removed position.
type LiquidityPosition struct {
	gorm.Model `json:"-"`
	PoolID     uint64 `gorm:"uniqueIndex:idx_position" json:"pool_id"`
	Owner      string `gorm:"uniqueIndex:idx_position" json:"owner"`
	Units      uint64 `json:"units"`
}
