package database

import (
	"fmt"

	"github.com/runeswap/runeswap-api/internal/database/migrations"
	"github.com/runeswap/runeswap-api/internal/ledger"
	"github.com/runeswap/runeswap-api/internal/pools"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "runeswap.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddUTXOStore(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&ledger.Balance{},
		&ledger.Deposit{},
		&pools.Pool{},
		&pools.LiquidityPosition{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
