package settlement

import (
	"time"

	"gorm.io/gorm"

	"github.com/runeswap/runeswap-api/internal/types"
)

// Withdrawal statuses. PENDING covers the span between the committed
// ledger debit and a broadcast outcome; RECOVERABLE means the outcome is
// unknown and reconciliation against chain state is required; REFUNDED
// means reconciliation proved the transfer never landed and the debit was
// re-credited.
const (
	StatusPending       = "PENDING"
	StatusSubmitted     = "SUBMITTED"
	StatusRecoverable   = "RECOVERABLE"
	StatusRefunded      = "REFUNDED"
	StatusUnrecoverable = "UNRECOVERABLE"
)

// WithdrawalRequest tracks one outbound transfer from the committed
// ledger debit through its final settlement outcome. IdempotencyKey is
// the caller-visible request identity: a retried call with the same key
// returns the recorded submission instead of resubmitting.
type WithdrawalRequest struct {
	gorm.Model     `json:"-"`
	WithdrawalID   string      `gorm:"uniqueIndex" json:"withdrawal_id"`
	IdempotencyKey string      `gorm:"uniqueIndex" json:"-"`
	Owner          string      `json:"owner"`
	Asset          types.Asset `gorm:"type:text" json:"asset"`
	Destination    string      `json:"destination"`
	Amount         uint64      `json:"amount"`
	FeePerVByte    uint64      `json:"fee_per_vbyte,omitempty"`

	Status string `json:"status"`
	// Txid is the encoded SubmittedTxID once the transfer identity is
	// known. For bitcoin the txid is known at construction time, before
	// broadcast, which is what makes ambiguous outcomes reconcilable.
	Txid string `json:"txid,omitempty"`

	// ProbeTxid/ProbeVout name one input outpoint of the constructed
	// transaction. If it is spent on-chain the transfer landed.
	ProbeTxid string `json:"-"`
	ProbeVout uint32 `json:"-"`

	// Inputs holds the JSON-encoded outpoints the transaction consumes,
	// released back to the custody store when a refund proves the
	// transfer never landed.
	Inputs string `json:"-"`

	// RecordedHeight is the oracle height at dispatch; reconciliation
	// waits Depth confirmations past it before judging the outcome.
	RecordedHeight uint64 `json:"recorded_height,omitempty"`
	Depth          uint32 `json:"depth,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UTXO is a confirmed unspent output held by a custody address. Rune
// carries the encoded rune id for runic outputs, empty for plain bitcoin.
type UTXO struct {
	gorm.Model  `json:"-"`
	Address     string `gorm:"index" json:"address"`
	Txid        string `gorm:"uniqueIndex:idx_utxo_outpoint" json:"txid"`
	Vout        uint32 `gorm:"uniqueIndex:idx_utxo_outpoint" json:"vout"`
	Value       uint64 `json:"value"`
	Rune        string `gorm:"index" json:"rune,omitempty"`
	RuneBalance uint64 `json:"rune_balance,omitempty"`
	Spent       bool   `gorm:"index" json:"spent"`
	Height      uint64 `json:"height"`
}
