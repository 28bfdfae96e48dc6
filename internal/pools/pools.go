// Package pools implements the pool registry and the constant-product
// pricing engine. All pool and ledger mutations are serialized behind a
// single writer lock and committed in one transaction before any
// settlement dispatch happens.
package pools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/runeswap/runeswap-api/internal/ledger"
	"github.com/runeswap/runeswap-api/internal/settlement"
	"github.com/runeswap/runeswap-api/internal/types"
)

// Dispatcher emits the on-chain transfers that mirror committed ledger
// moves. Implemented by the settlement service; mocked in tests.
type Dispatcher interface {
	MoveFunds(ctx context.Context, from, to types.Account, asset types.Asset, amount uint64) (types.SubmittedTxID, error)
}

type Service struct {
	// mu serializes every pool/ledger mutation: no two mutating
	// operations observe interleaved partial state.
	mu         sync.Mutex
	db         *Database
	ledger     *ledger.Service
	dispatcher Dispatcher
}

func NewService(gormDB *gorm.DB, ledgerService *ledger.Service, dispatcher Dispatcher) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		ledger:     ledgerService,
		dispatcher: dispatcher,
	}
}

// poolOwner is the ledger identity holding a pool's locked liquidity.
func poolOwner(poolID uint64) string {
	return fmt.Sprintf("pool:%d", poolID)
}

func poolAccount(pool *Pool) types.Account {
	return types.Account{Owner: poolOwner(pool.PoolID), Subaccount: pool.Subaccount}
}

// CreatePair registers the pool for an asset pair. Equal assets fail with
// ErrInvalidPair; an existing canonical pair returns its pool unchanged.
func (s *Service) CreatePair(token0, token1 types.Asset) (*Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensurePool(token0, token1)
}

func (s *Service) ensurePool(token0, token1 types.Asset) (*Pool, error) {
	if token0 == token1 {
		return nil, types.ErrInvalidPair
	}
	t0, t1 := types.CanonicalPair(token0, token1)

	existing, err := s.db.GetPoolByPair(t0, t1)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	poolID, err := s.db.NextPoolID()
	if err != nil {
		return nil, err
	}
	createdAt := time.Now()
	subaccount := settlement.SubaccountForPool(poolID, createdAt)
	addresses := settlement.DeriveAddresses(types.Account{Owner: poolOwner(poolID), Subaccount: subaccount})

	pool := &Pool{
		PoolID:         poolID,
		Token0:         t0,
		Token1:         t1,
		Subaccount:     subaccount,
		BitcoinAddress: addresses.Bitcoin,
		CreatedAt:      createdAt,
	}
	if err := s.db.CreatePool(pool); err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "pools").
		Uint64("pool_id", poolID).
		Str("token0", t0.Encode()).
		Str("token1", t1.Encode()).
		Msg("pool created")
	return pool, nil
}

// GetPool canonicalizes the pair and returns the pool, or nil.
func (s *Service) GetPool(token0, token1 types.Asset) (*Pool, error) {
	return s.db.GetPoolByPair(token0, token1)
}

// ListPools returns read-only summaries of every pool, including the
// derived deposit addresses. No mutation.
func (s *Service) ListPools() ([]types.PoolSummary, error) {
	rows, err := s.db.ListPools()
	if err != nil {
		return nil, err
	}
	summaries := make([]types.PoolSummary, 0, len(rows))
	for i := range rows {
		summaries = append(summaries, s.summarize(&rows[i]))
	}
	return summaries, nil
}

func (s *Service) summarize(pool *Pool) types.PoolSummary {
	return types.PoolSummary{
		PoolID:           pool.PoolID,
		Token0:           pool.Token0,
		Token1:           pool.Token1,
		Reserve0:         pool.Reserve0,
		Reserve1:         pool.Reserve1,
		TotalLiquidity:   pool.TotalLiquidity,
		DepositAddresses: settlement.DeriveAddresses(poolAccount(pool)),
		CreatedAt:        pool.CreatedAt,
	}
}

// Position returns the owner's liquidity units in the pool for a pair.
func (s *Service) Position(owner string, token0, token1 types.Asset) (uint64, error) {
	pool, err := s.db.GetPoolByPair(token0, token1)
	if err != nil {
		return 0, err
	}
	if pool == nil {
		return 0, types.ErrPoolNotFound
	}
	return s.db.GetPosition(pool.PoolID, owner)
}

// orientPair maps caller-ordered amounts onto the canonical slot order.
// flipped reports that the caller's order is the reverse of the canonical
// one, so results must be mapped back before they are returned.
func orientPair(token0, token1 types.Asset, a0, a1, min0, min1 uint64) (types.Asset, types.Asset, uint64, uint64, uint64, uint64, bool) {
	t0, t1 := types.CanonicalPair(token0, token1)
	if t0 == token0 {
		return t0, t1, a0, a1, min0, min1, false
	}
	return t0, t1, a1, a0, min1, min0, true
}

// AddLiquidity deposits both assets of a pair, minting liquidity units.
// The pair is created on first use. Reserve updates, liquidity issuance
// and the caller's ledger debits commit atomically; the on-chain custody
// moves are dispatched only after commit.
func (s *Service) AddLiquidity(ctx context.Context, owner string, token0, token1 types.Asset, amount0Desired, amount1Desired, amount0Min, amount1Min uint64) (*types.AddLiquidityResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t0, t1, a0d, a1d, a0min, a1min, flipped := orientPair(token0, token1, amount0Desired, amount1Desired, amount0Min, amount1Min)

	pool, err := s.ensurePool(t0, t1)
	if err != nil {
		return nil, err
	}

	used0, used1, err := addLiquidityAmounts(pool, a0d, a1d, a0min, a1min)
	if err != nil {
		return nil, err
	}
	minted, err := liquidityToMint(used0, used1, pool.Reserve0, pool.Reserve1, pool.TotalLiquidity)
	if err != nil {
		return nil, err
	}

	newReserve0, err := checkedAdd(pool.Reserve0, used0)
	if err != nil {
		return nil, err
	}
	newReserve1, err := checkedAdd(pool.Reserve1, used1)
	if err != nil {
		return nil, err
	}
	kLast, err := poolProduct(newReserve0, newReserve1)
	if err != nil {
		return nil, err
	}

	firstMint := pool.TotalLiquidity == 0
	err = s.db.DB().Transaction(func(tx *gorm.DB) error {
		if err := s.ledger.ApplyTx(tx, []ledger.Entry{
			{Owner: owner, Asset: t0, Amount: used0, Debit: true},
			{Owner: owner, Asset: t1, Amount: used1, Debit: true},
		}); err != nil {
			return err
		}

		pool.Reserve0 = newReserve0
		pool.Reserve1 = newReserve1
		pool.TotalLiquidity += minted
		if firstMint {
			// The first MinimumLiquidity units are locked to the pool
			// itself so the supply can never round back to zero.
			pool.TotalLiquidity += MinimumLiquidity
			if err := upsertPosition(tx, pool.PoolID, poolOwner(pool.PoolID), MinimumLiquidity); err != nil {
				return err
			}
		}
		pool.KLast = kLast
		pool.UpdatedAt = time.Now()
		if err := tx.Save(pool).Error; err != nil {
			return err
		}
		return upsertPosition(tx, pool.PoolID, owner, int64(minted))
	})
	if err != nil {
		return nil, err
	}

	// State is committed; a failed dispatch leg surfaces alongside the
	// result, it never rolls the mutation back.
	txids, moveErr := s.moveLegs(ctx, []leg{
		{from: types.Account{Owner: owner}, to: poolAccount(pool), asset: t0, amount: used0},
		{from: types.Account{Owner: owner}, to: poolAccount(pool), asset: t1, amount: used1},
	})

	log.Info().
		Str("service", "pools").
		Uint64("pool_id", pool.PoolID).
		Str("owner", owner).
		Uint64("liquidity", minted).
		Uint64("used0", used0).
		Uint64("used1", used1).
		Msg("liquidity added")

	// Report amounts in the caller's pair order, not the canonical one.
	resp0, resp1 := used0, used1
	if flipped {
		resp0, resp1 = used1, used0
	}
	return &types.AddLiquidityResponse{
		Liquidity: minted,
		Token0:    token0,
		Used0:     resp0,
		Token1:    token1,
		Used1:     resp1,
		Txids:     txids,
	}, moveErr
}

// RemoveLiquidity burns liquidity units for a pro-rata share of the
// reserves. A zero liquidity argument burns the caller's whole position.
func (s *Service) RemoveLiquidity(ctx context.Context, owner string, token0, token1 types.Asset, liquidity, amount0Min, amount1Min uint64) (*types.RemoveLiquidityResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t0, t1, _, _, a0min, a1min, flipped := orientPair(token0, token1, 0, 0, amount0Min, amount1Min)

	pool, err := s.db.GetPoolByPair(t0, t1)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, types.ErrPoolNotFound
	}

	position, err := s.db.GetPosition(pool.PoolID, owner)
	if err != nil {
		return nil, err
	}
	if liquidity == 0 {
		liquidity = position
	}
	if liquidity == 0 || liquidity > position {
		return nil, types.ErrInsufficientLiquidity
	}

	amount0, amount1, err := redeemAmounts(liquidity, pool.Reserve0, pool.Reserve1, pool.TotalLiquidity)
	if err != nil {
		return nil, err
	}
	if amount0 < a0min || amount1 < a1min {
		return nil, types.ErrSlippageExceeded
	}

	newReserve0 := pool.Reserve0 - amount0
	newReserve1 := pool.Reserve1 - amount1
	kLast, err := poolProduct(newReserve0, newReserve1)
	if err != nil {
		return nil, err
	}

	err = s.db.DB().Transaction(func(tx *gorm.DB) error {
		pool.Reserve0 = newReserve0
		pool.Reserve1 = newReserve1
		pool.TotalLiquidity -= liquidity
		pool.KLast = kLast
		pool.UpdatedAt = time.Now()
		if err := tx.Save(pool).Error; err != nil {
			return err
		}
		if err := upsertPosition(tx, pool.PoolID, owner, -int64(liquidity)); err != nil {
			return err
		}
		return s.ledger.ApplyTx(tx, []ledger.Entry{
			{Owner: owner, Asset: t0, Amount: amount0},
			{Owner: owner, Asset: t1, Amount: amount1},
		})
	})
	if err != nil {
		return nil, err
	}

	txids, moveErr := s.moveLegs(ctx, []leg{
		{from: poolAccount(pool), to: types.Account{Owner: owner}, asset: t0, amount: amount0},
		{from: poolAccount(pool), to: types.Account{Owner: owner}, asset: t1, amount: amount1},
	})

	log.Info().
		Str("service", "pools").
		Uint64("pool_id", pool.PoolID).
		Str("owner", owner).
		Uint64("liquidity_burned", liquidity).
		Msg("liquidity removed")

	resp0, resp1 := amount0, amount1
	if flipped {
		resp0, resp1 = amount1, amount0
	}
	return &types.RemoveLiquidityResponse{
		LiquidityBurned: liquidity,
		Token0:          token0,
		Amount0:         resp0,
		Token1:          token1,
		Amount1:         resp1,
		Txids:           txids,
	}, moveErr
}

// Swap trades an exact input for the constant-product output. The fee
// stays in the pool, so reserve0*reserve1 never decreases across swaps.
// The optional recipient receives the output credit; it defaults to the
// caller.
func (s *Service) Swap(ctx context.Context, owner string, tokenIn types.Asset, amountIn uint64, tokenOut types.Asset, amountOutMin uint64, recipient string) (*types.SwapResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tokenIn == tokenOut {
		return nil, types.ErrInvalidPair
	}
	if recipient == "" {
		recipient = owner
	}

	pool, err := s.db.GetPoolByPair(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, types.ErrPoolNotFound
	}

	reserveIn, reserveOut := pool.Reserve0, pool.Reserve1
	if tokenIn == pool.Token1 {
		reserveIn, reserveOut = pool.Reserve1, pool.Reserve0
	}

	amountOut, err := swapOutput(amountIn, reserveIn, reserveOut)
	if err != nil {
		return nil, err
	}
	if amountOut < amountOutMin {
		return nil, types.ErrSlippageExceeded
	}

	newReserveIn, err := checkedAdd(reserveIn, amountIn)
	if err != nil {
		return nil, err
	}
	newReserveOut := reserveOut - amountOut
	kLast, err := poolProduct(newReserveIn, newReserveOut)
	if err != nil {
		return nil, err
	}

	err = s.db.DB().Transaction(func(tx *gorm.DB) error {
		if err := s.ledger.ApplyTx(tx, []ledger.Entry{
			{Owner: owner, Asset: tokenIn, Amount: amountIn, Debit: true},
			{Owner: recipient, Asset: tokenOut, Amount: amountOut},
		}); err != nil {
			return err
		}

		if tokenIn == pool.Token0 {
			pool.Reserve0, pool.Reserve1 = newReserveIn, newReserveOut
		} else {
			pool.Reserve0, pool.Reserve1 = newReserveOut, newReserveIn
		}
		pool.KLast = kLast
		pool.UpdatedAt = time.Now()
		return tx.Save(pool).Error
	})
	if err != nil {
		return nil, err
	}

	txids, moveErr := s.moveLegs(ctx, []leg{
		{from: types.Account{Owner: owner}, to: poolAccount(pool), asset: tokenIn, amount: amountIn},
		{from: poolAccount(pool), to: types.Account{Owner: recipient}, asset: tokenOut, amount: amountOut},
	})

	log.Info().
		Str("service", "pools").
		Uint64("pool_id", pool.PoolID).
		Str("owner", owner).
		Str("token_in", tokenIn.Encode()).
		Uint64("amount_in", amountIn).
		Str("token_out", tokenOut.Encode()).
		Uint64("amount_out", amountOut).
		Msg("swap executed")

	return &types.SwapResponse{AmountOut: amountOut, Txids: txids}, moveErr
}

type leg struct {
	from, to types.Account
	asset    types.Asset
	amount   uint64
}

// moveLegs dispatches the custody transfers mirroring an already
// committed mutation. Ledger and reserves stay as committed regardless of
// dispatch outcome; a failed leg surfaces as the dispatcher's classified
// error for operator reconciliation.
func (s *Service) moveLegs(ctx context.Context, legs []leg) ([]types.SubmittedTxID, error) {
	txids := make([]types.SubmittedTxID, 0, len(legs))
	for _, l := range legs {
		txid, err := s.dispatcher.MoveFunds(ctx, l.from, l.to, l.asset, l.amount)
		if err != nil {
			return txids, err
		}
		txids = append(txids, txid)
	}
	return txids, nil
}
