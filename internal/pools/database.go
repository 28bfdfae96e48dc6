package pools

import (
	"errors"

	"gorm.io/gorm"

	"github.com/runeswap/runeswap-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// DB exposes the underlying handle for cross-package transactions.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// GetPoolByPair looks up the pool for a canonicalized pair, or nil.
func (d *Database) GetPoolByPair(token0, token1 types.Asset) (*Pool, error) {
	t0, t1 := types.CanonicalPair(token0, token1)
	var pool Pool
	err := d.db.Where("token0 = ? AND token1 = ?", t0.Encode(), t1.Encode()).First(&pool).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pool, nil
}

func (d *Database) GetPoolByID(poolID uint64) (*Pool, error) {
	var pool Pool
	err := d.db.Where("pool_id = ?", poolID).First(&pool).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pool, nil
}

func (d *Database) ListPools() ([]Pool, error) {
	var pools []Pool
	if err := d.db.Order("pool_id").Find(&pools).Error; err != nil {
		return nil, err
	}
	return pools, nil
}

// NextPoolID allocates the next monotonic pool id.
func (d *Database) NextPoolID() (uint64, error) {
	var max struct{ Max uint64 }
	err := d.db.Model(&Pool{}).Select("COALESCE(MAX(pool_id), 0) AS max").Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max.Max + 1, nil
}

func (d *Database) CreatePool(pool *Pool) error {
	return d.db.Create(pool).Error
}

func (d *Database) GetPosition(poolID uint64, owner string) (uint64, error) {
	var position LiquidityPosition
	err := d.db.Where("pool_id = ? AND owner = ?", poolID, owner).First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return position.Units, nil
}

func upsertPosition(tx *gorm.DB, poolID uint64, owner string, delta int64) error {
	var position LiquidityPosition
	err := tx.Where("pool_id = ? AND owner = ?", poolID, owner).First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		position = LiquidityPosition{PoolID: poolID, Owner: owner}
		err = nil
	}
	if err != nil {
		return err
	}

	if delta < 0 {
		burn := uint64(-delta)
		if position.Units < burn {
			return types.ErrInsufficientLiquidity
		}
		position.Units -= burn
	} else {
		position.Units += uint64(delta)
	}
	return tx.Save(&position).Error
}
