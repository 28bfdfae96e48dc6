package ledger

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/runeswap/runeswap-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetBalance(owner string, asset types.Asset) (uint64, error) {
	var balance Balance
	err := d.db.Where("owner = ? AND asset = ?", owner, asset.Encode()).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return balance.Amount, nil
}

func (d *Database) GetBalances(owner string) ([]Balance, error) {
	var balances []Balance
	if err := d.db.Where("owner = ? AND amount > 0", owner).Order("asset").Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}

// ApplyEntries applies all legs inside one transaction, debits first so a
// failed debit aborts before any credit lands. A debit exceeding the
// current balance fails the whole batch with ErrInsufficientBalance.
func (d *Database) ApplyEntries(entries []Entry) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		return applyEntries(tx, entries)
	})
}

// ApplyEntriesTx is ApplyEntries running inside a caller-owned
// transaction, for operations that must commit ledger legs together with
// pool or settlement rows.
func (d *Database) ApplyEntriesTx(tx *gorm.DB, entries []Entry) error {
	return applyEntries(tx, entries)
}

func applyEntries(tx *gorm.DB, entries []Entry) error {
	ordered := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Debit {
			ordered = append(ordered, e)
		}
	}
	for _, e := range entries {
		if !e.Debit {
			ordered = append(ordered, e)
		}
	}

	for _, entry := range ordered {
		var balance Balance
		err := tx.Where("owner = ? AND asset = ?", entry.Owner, entry.Asset.Encode()).First(&balance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			balance = Balance{Owner: entry.Owner, Asset: entry.Asset}
			err = nil
		}
		if err != nil {
			return err
		}

		if entry.Debit {
			if balance.Amount < entry.Amount {
				return fmt.Errorf("%w: %s has %d of %s, need %d",
					types.ErrInsufficientBalance, entry.Owner, balance.Amount, entry.Asset, entry.Amount)
			}
			balance.Amount -= entry.Amount
		} else {
			if entry.Amount > types.MaxAmount || balance.Amount > types.MaxAmount-entry.Amount {
				return types.ErrOverflow
			}
			balance.Amount += entry.Amount
		}

		if err := tx.Save(&balance).Error; err != nil {
			return err
		}
	}
	return nil
}

// CreateDepositWithCredit records a confirmed deposit and credits the
// owner in one transaction. A duplicate (txid, vout) returns the already
// recorded deposit without crediting again.
func (d *Database) CreateDepositWithCredit(deposit *Deposit) (bool, error) {
	if deposit.Amount > types.MaxAmount {
		return false, types.ErrOverflow
	}

	var existing Deposit
	err := d.db.Where("txid = ? AND vout = ?", deposit.Txid, deposit.Vout).First(&existing).Error
	if err == nil {
		*deposit = existing
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	err = d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(deposit).Error; err != nil {
			return err
		}
		return applyEntries(tx, []Entry{{
			Owner:  deposit.Owner,
			Asset:  deposit.Asset,
			Amount: deposit.Amount,
		}})
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
