package settlement

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/runeswap/runeswap-api/internal/ledger"
	"github.com/runeswap/runeswap-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetWithdrawalByKey(idempotencyKey string) (*WithdrawalRequest, error) {
	var withdrawal WithdrawalRequest
	err := d.db.Where("idempotency_key = ?", idempotencyKey).First(&withdrawal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &withdrawal, nil
}

func (d *Database) GetWithdrawal(withdrawalID string) (*WithdrawalRequest, error) {
	var withdrawal WithdrawalRequest
	if err := d.db.Where("withdrawal_id = ?", withdrawalID).First(&withdrawal).Error; err != nil {
		return nil, err
	}
	return &withdrawal, nil
}

// CreateWithdrawalWithDebit commits the ledger debit and the withdrawal
// record as one transaction. This is the point of no return: after it the
// funds are spent from the caller's view and any dispatch failure must be
// classified, never dropped.
func (d *Database) CreateWithdrawalWithDebit(withdrawal *WithdrawalRequest, ledgerSvc *ledger.Service) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := ledgerSvc.ApplyTx(tx, []ledger.Entry{{
			Owner:  withdrawal.Owner,
			Asset:  withdrawal.Asset,
			Amount: withdrawal.Amount,
			Debit:  true,
		}}); err != nil {
			return err
		}
		return tx.Create(withdrawal).Error
	})
}

func (d *Database) UpdateWithdrawal(withdrawal *WithdrawalRequest) error {
	withdrawal.UpdatedAt = time.Now()
	return d.db.Save(withdrawal).Error
}

func (d *Database) GetRecoverableWithdrawals() ([]WithdrawalRequest, error) {
	var withdrawals []WithdrawalRequest
	if err := d.db.Where("status = ?", StatusRecoverable).Find(&withdrawals).Error; err != nil {
		return nil, err
	}
	return withdrawals, nil
}

// RefundWithdrawal re-credits the original debit and finalizes the record
// in one transaction, used when reconciliation proved the transfer never
// landed on-chain.
func (d *Database) RefundWithdrawal(withdrawal *WithdrawalRequest, ledgerSvc *ledger.Service) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := ledgerSvc.ApplyTx(tx, []ledger.Entry{{
			Owner:  withdrawal.Owner,
			Asset:  withdrawal.Asset,
			Amount: withdrawal.Amount,
		}}); err != nil {
			return err
		}
		withdrawal.Status = StatusRefunded
		withdrawal.UpdatedAt = time.Now()
		return tx.Save(withdrawal).Error
	})
}

func (d *Database) RecordUTXO(utxo *UTXO) error {
	var existing UTXO
	err := d.db.Where("txid = ? AND vout = ?", utxo.Txid, utxo.Vout).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return d.db.Create(utxo).Error
}

// BitcoinBalance sums the unspent plain-bitcoin outputs of an address.
func (d *Database) BitcoinBalance(address string) (uint64, error) {
	var utxos []UTXO
	if err := d.db.Where("address = ? AND spent = ? AND rune = ''", address, false).Find(&utxos).Error; err != nil {
		return 0, err
	}
	var total uint64
	for _, u := range utxos {
		total += u.Value
	}
	return total, nil
}

// RuneBalance sums the unspent runic outputs of an address for one rune.
func (d *Database) RuneBalance(address string, rune types.RuneId) (uint64, error) {
	var utxos []UTXO
	if err := d.db.Where("address = ? AND spent = ? AND rune = ?", address, false, rune.String()).Find(&utxos).Error; err != nil {
		return 0, err
	}
	var total uint64
	for _, u := range utxos {
		total += u.RuneBalance
	}
	return total, nil
}

// SelectBitcoinUTXOs greedily picks unspent plain outputs covering target
// and marks them spent in one transaction. It fails with
// ErrInsufficientBalance leaving everything unspent when the address
// cannot cover the target.
func (d *Database) SelectBitcoinUTXOs(address string, target uint64) ([]UTXO, error) {
	var selected []UTXO
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var utxos []UTXO
		if err := tx.Where("address = ? AND spent = ? AND rune = ''", address, false).
			Order("value DESC").Find(&utxos).Error; err != nil {
			return err
		}

		var total uint64
		for _, u := range utxos {
			selected = append(selected, u)
			total += u.Value
			if total >= target {
				break
			}
		}
		if total < target {
			selected = nil
			return types.ErrInsufficientBalance
		}

		for i := range selected {
			selected[i].Spent = true
			if err := tx.Save(&selected[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return selected, nil
}

// SelectRuneUTXOs picks unspent runic outputs covering the rune target.
func (d *Database) SelectRuneUTXOs(address string, rune types.RuneId, target uint64) ([]UTXO, error) {
	var selected []UTXO
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var utxos []UTXO
		if err := tx.Where("address = ? AND spent = ? AND rune = ?", address, false, rune.String()).
			Order("rune_balance DESC").Find(&utxos).Error; err != nil {
			return err
		}

		var total uint64
		for _, u := range utxos {
			selected = append(selected, u)
			total += u.RuneBalance
			if total >= target {
				break
			}
		}
		if total < target {
			selected = nil
			return types.ErrInsufficientBalance
		}

		for i := range selected {
			selected[i].Spent = true
			if err := tx.Save(&selected[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return selected, nil
}

// UnspendUTXOs releases previously selected outputs, used when a
// dispatch fails before anything could have been broadcast.
func (d *Database) UnspendUTXOs(utxos []UTXO) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		for i := range utxos {
			utxos[i].Spent = false
			if err := tx.Save(&utxos[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// UnspendOutpoints releases outputs by outpoint, used when reconciliation
// proved the transaction consuming them never landed.
func (d *Database) UnspendOutpoints(points []Outpoint) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		for _, p := range points {
			if err := tx.Model(&UTXO{}).
				Where("txid = ? AND vout = ?", p.Txid, p.Vout).
				Update("spent", false).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
