package ledger

import (
	"time"

	"gorm.io/gorm"

	"github.com/runeswap/runeswap-api/internal/types"
)

// Balance is one (owner, asset) row of the custodial ledger. Amounts are
// integers in the asset's smallest unit and never go negative.
type Balance struct {
	gorm.Model `json:"-"`
	Owner      string      `gorm:"uniqueIndex:idx_owner_asset" json:"owner"`
	Asset      types.Asset `gorm:"uniqueIndex:idx_owner_asset;type:text" json:"asset"`
	Amount     uint64      `json:"amount"`
}

// Deposit records a confirmed inbound transfer credited to the ledger.
// The (txid, vout) pair is unique so re-reporting the same deposit is a
// no-op rather than a double credit.
type Deposit struct {
	gorm.Model `json:"-"`
	Owner      string      `json:"owner"`
	Asset      types.Asset `gorm:"type:text" json:"asset"`
	Amount     uint64      `json:"amount"`
	Txid       string      `gorm:"uniqueIndex:idx_deposit_outpoint" json:"txid"`
	Vout       uint32      `gorm:"uniqueIndex:idx_deposit_outpoint" json:"vout"`
	Height     uint64      `json:"height"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Entry is one leg of a multi-asset mutation. Negative directions are
// expressed by Debit=true; all legs of an operation apply atomically.
type Entry struct {
	Owner  string
	Asset  types.Asset
	Amount uint64
	Debit  bool
}
