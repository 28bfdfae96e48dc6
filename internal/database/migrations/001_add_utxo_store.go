package migrations

import (
	"github.com/runeswap/runeswap-api/internal/settlement"
	"gorm.io/gorm"
)

// AddUTXOStore creates the custody UTXO tables ahead of the general
// auto-migration so the settlement selectors can rely on their indexes.
func AddUTXOStore(db *gorm.DB) error {
	if err := db.AutoMigrate(&settlement.UTXO{}); err != nil {
		return err
	}

	return db.AutoMigrate(&settlement.WithdrawalRequest{})
}
