package pools

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/runeswap/runeswap-api/internal/ledger"
	"github.com/runeswap/runeswap-api/internal/types"
)

// recordingDispatcher is an in-memory Dispatcher that records every
// custody move and can be told to fail.
type recordingDispatcher struct {
	mu    sync.Mutex
	moves []dispatchedMove
	fail  error
	next  uint64
}

type dispatchedMove struct {
	from, to types.Account
	asset    types.Asset
	amount   uint64
}

func (d *recordingDispatcher) MoveFunds(_ context.Context, from, to types.Account, asset types.Asset, amount uint64) (types.SubmittedTxID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return types.SubmittedTxID{}, d.fail
	}
	d.moves = append(d.moves, dispatchedMove{from: from, to: to, asset: asset, amount: amount})
	d.next++
	return types.NativeLedgerTxID(d.next), nil
}

func setupService(t *testing.T) (*Service, *ledger.Service, *recordingDispatcher) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "pools_test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledger.Balance{}, &ledger.Deposit{}, &Pool{}, &LiquidityPosition{}))

	ledgerService := ledger.NewService(db)
	dispatcher := &recordingDispatcher{}
	return NewService(db, ledgerService, dispatcher), ledgerService, dispatcher
}

func fund(t *testing.T, ledgerService *ledger.Service, owner string, asset types.Asset, amount uint64) {
	t.Helper()
	require.NoError(t, ledgerService.Credit(owner, asset, amount))
}

func TestCreatePairCommutesAndIsIdempotent(t *testing.T) {
	service, _, _ := setupService(t)

	native := types.NativeAsset()
	runic := types.RuneAsset(types.RuneId{Block: 840000, Tx: 3})

	first, err := service.CreatePair(native, runic)
	require.NoError(t, err)

	// Reversed argument order resolves to the same pool
	second, err := service.CreatePair(runic, native)
	require.NoError(t, err)
	assert.Equal(t, first.PoolID, second.PoolID)
	assert.Equal(t, first.Token0, second.Token0)
	assert.Equal(t, first.Token1, second.Token1)

	pools, err := service.ListPools()
	require.NoError(t, err)
	assert.Len(t, pools, 1)
	assert.NotEmpty(t, pools[0].DepositAddresses.Bitcoin)
}

func TestCreatePairRejectsEqualAssets(t *testing.T) {
	service, _, _ := setupService(t)

	_, err := service.CreatePair(types.NativeAsset(), types.NativeAsset())
	assert.ErrorIs(t, err, types.ErrInvalidPair)
}

func TestAddLiquidityFirstMintLocksMinimum(t *testing.T) {
	service, ledgerService, dispatcher := setupService(t)

	native, btc := types.NativeAsset(), types.BitcoinAsset()
	fund(t, ledgerService, "alice", native, 10_000_000)
	fund(t, ledgerService, "alice", btc, 10_000_000)

	result, err := service.AddLiquidity(context.Background(), "alice", native, btc, 4_000_000, 1_000_000, 0, 0)
	require.NoError(t, err)

	// sqrt(4e6 * 1e6) = 2e6, minus the locked minimum
	assert.Equal(t, uint64(2_000_000-MinimumLiquidity), result.Liquidity)
	assert.Len(t, result.Txids, 2)

	pool, err := service.GetPool(native, btc)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), pool.TotalLiquidity)

	// The locked minimum belongs to the pool's own position
	locked, err := service.db.GetPosition(pool.PoolID, poolOwner(pool.PoolID))
	require.NoError(t, err)
	assert.Equal(t, uint64(MinimumLiquidity), locked)

	// Both deposits were debited from the caller
	balance, err := ledgerService.Balance("alice", native)
	require.NoError(t, err)
	assert.Equal(t, uint64(6_000_000), balance)
	balance, err = ledgerService.Balance("alice", btc)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_000_000), balance)

	// Both legs were dispatched into custody
	assert.Len(t, dispatcher.moves, 2)
}

func TestLiquidityAmountsFollowCallerPairOrder(t *testing.T) {
	service, ledgerService, _ := setupService(t)

	native, btc := types.NativeAsset(), types.BitcoinAsset()
	fund(t, ledgerService, "alice", native, 8_000_000)
	fund(t, ledgerService, "alice", btc, 2_000_000)

	// (native, btc) is the reverse of the canonical storage order, so the
	// response must still put the native amount in slot 0
	added, err := service.AddLiquidity(context.Background(), "alice", native, btc, 4_000_000, 1_000_000, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, native, added.Token0)
	assert.Equal(t, uint64(4_000_000), added.Used0)
	assert.Equal(t, btc, added.Token1)
	assert.Equal(t, uint64(1_000_000), added.Used1)

	// The same deposit with the pair reversed reports reversed slots
	reversed, err := service.AddLiquidity(context.Background(), "alice", btc, native, 1_000_000, 4_000_000, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, btc, reversed.Token0)
	assert.Equal(t, uint64(1_000_000), reversed.Used0)
	assert.Equal(t, native, reversed.Token1)
	assert.Equal(t, uint64(4_000_000), reversed.Used1)

	removed, err := service.RemoveLiquidity(context.Background(), "alice", btc, native, reversed.Liquidity, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, btc, removed.Token0)
	assert.Equal(t, uint64(1_000_000), removed.Amount0)
	assert.Equal(t, native, removed.Token1)
	assert.Equal(t, uint64(4_000_000), removed.Amount1)
}

func TestAddLiquidityInsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	service, ledgerService, dispatcher := setupService(t)

	native, btc := types.NativeAsset(), types.BitcoinAsset()
	fund(t, ledgerService, "alice", native, 1_000_000)
	// no btc balance

	_, err := service.AddLiquidity(context.Background(), "alice", native, btc, 1_000_000, 1_000_000, 0, 0)
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	// The native debit did not survive the failed batch
	balance, err := ledgerService.Balance("alice", native)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), balance)

	pool, err := service.GetPool(native, btc)
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.Zero(t, pool.TotalLiquidity)
	assert.Empty(t, dispatcher.moves)
}

func TestSwapMovesLedgerAndReserves(t *testing.T) {
	service, ledgerService, _ := setupService(t)

	native, btc := types.NativeAsset(), types.BitcoinAsset()
	fund(t, ledgerService, "alice", native, 2_000_000)
	fund(t, ledgerService, "alice", btc, 1_000_000)
	fund(t, ledgerService, "bob", btc, 10_000)

	_, err := service.AddLiquidity(context.Background(), "alice", native, btc, 1_000_000, 1_000_000, 0, 0)
	require.NoError(t, err)

	result, err := service.Swap(context.Background(), "bob", btc, 10_000, native, 1, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(9871), result.AmountOut)
	assert.Len(t, result.Txids, 2)

	balance, err := ledgerService.Balance("bob", btc)
	require.NoError(t, err)
	assert.Zero(t, balance)
	balance, err = ledgerService.Balance("bob", native)
	require.NoError(t, err)
	assert.Equal(t, uint64(9871), balance)

	pool, err := service.GetPool(native, btc)
	require.NoError(t, err)
	assert.Equal(t, pool.Reserve0+pool.Reserve1, uint64(1_000_000-9871)+uint64(1_000_000+10_000))
	assert.Equal(t, pool.KLast, pool.Reserve0*pool.Reserve1)
}

func TestSwapToRecipient(t *testing.T) {
	service, ledgerService, _ := setupService(t)

	native, btc := types.NativeAsset(), types.BitcoinAsset()
	fund(t, ledgerService, "alice", native, 2_000_000)
	fund(t, ledgerService, "alice", btc, 1_100_000)

	_, err := service.AddLiquidity(context.Background(), "alice", native, btc, 1_000_000, 1_000_000, 0, 0)
	require.NoError(t, err)

	result, err := service.Swap(context.Background(), "alice", btc, 10_000, native, 1, "carol")
	require.NoError(t, err)

	balance, err := ledgerService.Balance("carol", native)
	require.NoError(t, err)
	assert.Equal(t, result.AmountOut, balance)
}

func TestSwapSlippageLeavesStateUnchanged(t *testing.T) {
	service, ledgerService, dispatcher := setupService(t)

	native, btc := types.NativeAsset(), types.BitcoinAsset()
	fund(t, ledgerService, "alice", native, 2_000_000)
	fund(t, ledgerService, "alice", btc, 1_100_000)

	_, err := service.AddLiquidity(context.Background(), "alice", native, btc, 1_000_000, 1_000_000, 0, 0)
	require.NoError(t, err)
	movesBefore := len(dispatcher.moves)

	poolBefore, err := service.GetPool(native, btc)
	require.NoError(t, err)

	_, err = service.Swap(context.Background(), "alice", btc, 10_000, native, 1_000_000, "")
	assert.ErrorIs(t, err, types.ErrSlippageExceeded)

	poolAfter, err := service.GetPool(native, btc)
	require.NoError(t, err)
	assert.Equal(t, poolBefore.Reserve0, poolAfter.Reserve0)
	assert.Equal(t, poolBefore.Reserve1, poolAfter.Reserve1)
	assert.Equal(t, movesBefore, len(dispatcher.moves))

	balance, err := ledgerService.Balance("alice", btc)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), balance)
}

func TestSwapUnknownPool(t *testing.T) {
	service, _, _ := setupService(t)

	_, err := service.Swap(context.Background(), "alice", types.NativeAsset(), 100, types.BitcoinAsset(), 0, "")
	assert.ErrorIs(t, err, types.ErrPoolNotFound)
}

func TestRemoveLiquidityWholePosition(t *testing.T) {
	service, ledgerService, _ := setupService(t)

	native, btc := types.NativeAsset(), types.BitcoinAsset()
	fund(t, ledgerService, "alice", native, 4_000_000)
	fund(t, ledgerService, "alice", btc, 1_000_000)

	added, err := service.AddLiquidity(context.Background(), "alice", native, btc, 4_000_000, 1_000_000, 0, 0)
	require.NoError(t, err)

	// Zero liquidity burns the whole position
	removed, err := service.RemoveLiquidity(context.Background(), "alice", native, btc, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, added.Liquidity, removed.LiquidityBurned)

	// Amounts come back in the caller's pair order: slot 0 is the
	// native side because the caller passed (native, btc), regardless
	// of how the pool stores the pair
	assert.Equal(t, native, removed.Token0)
	assert.Equal(t, btc, removed.Token1)
	assert.Equal(t, uint64(3_998_000), removed.Amount0)
	assert.Equal(t, uint64(999_500), removed.Amount1)

	// The redeemed amounts never exceed the deposits
	assert.LessOrEqual(t, removed.Amount0, uint64(4_000_000))
	assert.LessOrEqual(t, removed.Amount1, uint64(1_000_000))

	// The locked minimum keeps the pool alive
	pool, err := service.GetPool(native, btc)
	require.NoError(t, err)
	assert.Equal(t, uint64(MinimumLiquidity), pool.TotalLiquidity)
	assert.NotZero(t, pool.Reserve0)
	assert.NotZero(t, pool.Reserve1)

	position, err := service.Position("alice", native, btc)
	require.NoError(t, err)
	assert.Zero(t, position)
}

func TestRemoveLiquidityOverBurn(t *testing.T) {
	service, ledgerService, _ := setupService(t)

	native, btc := types.NativeAsset(), types.BitcoinAsset()
	fund(t, ledgerService, "alice", native, 1_000_000)
	fund(t, ledgerService, "alice", btc, 1_000_000)

	added, err := service.AddLiquidity(context.Background(), "alice", native, btc, 1_000_000, 1_000_000, 0, 0)
	require.NoError(t, err)

	_, err = service.RemoveLiquidity(context.Background(), "alice", native, btc, added.Liquidity+1, 0, 0)
	assert.ErrorIs(t, err, types.ErrInsufficientLiquidity)
}

func TestDispatchFailureKeepsCommittedState(t *testing.T) {
	service, ledgerService, dispatcher := setupService(t)

	native, btc := types.NativeAsset(), types.BitcoinAsset()
	fund(t, ledgerService, "alice", native, 2_000_000)
	fund(t, ledgerService, "alice", btc, 1_100_000)

	_, err := service.AddLiquidity(context.Background(), "alice", native, btc, 1_000_000, 1_000_000, 0, 0)
	require.NoError(t, err)

	dispatcher.fail = &types.RecoverableError{Height: 800_000, Depth: 4, Err: errors.New("broadcast timeout")}

	result, err := service.Swap(context.Background(), "alice", btc, 10_000, native, 1, "")
	var recoverable *types.RecoverableError
	require.ErrorAs(t, err, &recoverable)
	require.NotNil(t, result)

	// Ledger and reserves stay as committed despite the failed dispatch
	balance, err := ledgerService.Balance("alice", native)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000+result.AmountOut), balance)

	pool, err := service.GetPool(native, btc)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_010_000), pool.Reserve0)
	assert.Equal(t, uint64(1_000_000)-result.AmountOut, pool.Reserve1)
}
