package settlement

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/runeswap/runeswap-api/internal/ledger"
	"github.com/runeswap/runeswap-api/internal/oracle"
	"github.com/runeswap/runeswap-api/internal/types"
)

type fakeNativeLedger struct {
	next  uint64
	fail  error
	calls int
}

func (f *fakeNativeLedger) Transfer(_ context.Context, _ []byte, _ string, _ uint64) (uint64, error) {
	f.calls++
	if f.fail != nil {
		return 0, f.fail
	}
	f.next++
	return f.next, nil
}

type fakeBitcoin struct {
	utxos       []ChainUTXO
	submitTxid  string
	submitErr   error
	submitCalls int
	spent       map[string]bool
}

func (f *fakeBitcoin) ListUTXOs(_ context.Context, _ string) ([]ChainUTXO, error) {
	return f.utxos, nil
}

func (f *fakeBitcoin) FeePerVByte(_ context.Context) (uint64, error) { return 5, nil }

func (f *fakeBitcoin) Submit(_ context.Context, _ BitcoinTransfer) (string, error) {
	f.submitCalls++
	return f.submitTxid, f.submitErr
}

func (f *fakeBitcoin) OutPointSpent(_ context.Context, txid string, vout uint32) (bool, error) {
	return f.spent[fmt.Sprintf("%s:%d", txid, vout)], nil
}

type fakeOracle struct {
	height  uint64
	entries map[types.RuneId]*oracle.RuneEntry
	runes   map[string][]oracle.RuneBalance
}

func (f *fakeOracle) GetRuneEntry(_ context.Context, id types.RuneId) (*oracle.RuneEntry, error) {
	return f.entries[id], nil
}

func (f *fakeOracle) GetHeight(_ context.Context) (*oracle.Height, error) {
	return &oracle.Height{Height: f.height, BlockHash: "hash"}, nil
}

func (f *fakeOracle) GetRunesByUTXO(_ context.Context, txid string, vout uint32) ([]oracle.RuneBalance, error) {
	balances, ok := f.runes[fmt.Sprintf("%s:%d", txid, vout)]
	if !ok {
		return nil, types.ErrOutPointNotFound
	}
	return balances, nil
}

func setupSettlement(t *testing.T) (*Service, *ledger.Service, *fakeNativeLedger, *fakeBitcoin, *fakeOracle) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "settlement_test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledger.Balance{}, &ledger.Deposit{}, &WithdrawalRequest{}, &UTXO{}))

	ledgerService := ledger.NewService(db)
	native := &fakeNativeLedger{}
	bitcoin := &fakeBitcoin{submitTxid: "btctx1", spent: map[string]bool{}}
	idx := &fakeOracle{height: 800_000}

	return NewService(db, ledgerService, native, bitcoin, idx, 4), ledgerService, native, bitcoin, idx
}

func TestDeriveAddressesIsDeterministic(t *testing.T) {
	a := DeriveAddresses(types.Account{Owner: "alice"})
	b := DeriveAddresses(types.Account{Owner: "alice"})
	c := DeriveAddresses(types.Account{Owner: "bob"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Bitcoin, c.Bitcoin)
	assert.NotEqual(t, a.Native, c.Native)
	assert.NotEmpty(t, a.Bitcoin)
}

func TestWithdrawNative(t *testing.T) {
	svc, ledgerService, native, _, _ := setupSettlement(t)
	require.NoError(t, ledgerService.Credit("alice", types.NativeAsset(), 1_000))

	withdrawal, err := svc.Withdraw(context.Background(), "alice", types.NativeAsset(), "dest", 400, 0, "key-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, withdrawal.Status)
	assert.Equal(t, "native_ledger:1", withdrawal.Txid)
	assert.Equal(t, 1, native.calls)

	balance, err := ledgerService.Balance("alice", types.NativeAsset())
	require.NoError(t, err)
	assert.Equal(t, uint64(600), balance)
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	svc, ledgerService, native, _, _ := setupSettlement(t)
	require.NoError(t, ledgerService.Credit("alice", types.NativeAsset(), 100))

	_, err := svc.Withdraw(context.Background(), "alice", types.NativeAsset(), "dest", 400, 0, "key-1")
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
	assert.Zero(t, native.calls)

	balance, err := ledgerService.Balance("alice", types.NativeAsset())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), balance)
}

func TestWithdrawRetryReturnsRecordedSubmission(t *testing.T) {
	svc, ledgerService, _, bitcoin, _ := setupSettlement(t)
	require.NoError(t, ledgerService.Credit("alice", types.BitcoinAsset(), 100_000))
	bitcoin.utxos = []ChainUTXO{{Txid: "fund1", Vout: 0, Value: 200_000, Height: 799_000}}

	// The broadcast outcome is ambiguous: the txid was computed at
	// construction time but the endpoint failed.
	bitcoin.submitErr = &types.RpcError{Kind: types.RpcIo, Op: "submit_transaction", Err: fmt.Errorf("timeout")}

	first, err := svc.Withdraw(context.Background(), "alice", types.BitcoinAsset(), "bc1dest", 50_000, 0, "key-1")
	var recoverable *types.RecoverableError
	require.ErrorAs(t, err, &recoverable)
	assert.Equal(t, StatusRecoverable, first.Status)
	assert.Equal(t, "bitcoin:btctx1", first.Txid)
	assert.Equal(t, 1, bitcoin.submitCalls)

	// The debit stands while the outcome is unresolved
	balance, err := ledgerService.Balance("alice", types.BitcoinAsset())
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000), balance)

	// A retry with the same idempotency key must not resubmit
	second, err := svc.Withdraw(context.Background(), "alice", types.BitcoinAsset(), "bc1dest", 50_000, 0, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.WithdrawalID, second.WithdrawalID)
	assert.Equal(t, first.Txid, second.Txid)
	assert.Equal(t, 1, bitcoin.submitCalls)

	// A different key is a new withdrawal
	bitcoin.submitErr = nil
	bitcoin.utxos = append(bitcoin.utxos, ChainUTXO{Txid: "fund2", Vout: 0, Value: 200_000, Height: 799_100})
	third, err := svc.Withdraw(context.Background(), "alice", types.BitcoinAsset(), "bc1dest", 10_000, 0, "key-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.WithdrawalID, third.WithdrawalID)
	assert.Equal(t, 2, bitcoin.submitCalls)
}

func TestWithdrawUnknownRune(t *testing.T) {
	svc, ledgerService, _, _, _ := setupSettlement(t)
	runic := types.RuneAsset(types.RuneId{Block: 840000, Tx: 3})
	require.NoError(t, ledgerService.Credit("alice", runic, 1_000))

	// The rune is not indexed: a parameter error, checked before the
	// debit so nothing is recorded or spent
	withdrawal, err := svc.Withdraw(context.Background(), "alice", runic, "bc1dest", 500, 0, "key-1")
	assert.ErrorIs(t, err, types.ErrParams)
	assert.Nil(t, withdrawal)

	balance, err := ledgerService.Balance("alice", runic)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), balance)

	recorded, err := svc.GetDB().GetWithdrawalByKey("key-1")
	require.NoError(t, err)
	assert.Nil(t, recorded)
}

func TestSelectBitcoinUTXOsGreedy(t *testing.T) {
	svc, _, _, _, _ := setupSettlement(t)
	db := svc.GetDB()

	for i, value := range []uint64{500, 3_000, 1_000} {
		require.NoError(t, db.RecordUTXO(&UTXO{
			Address: "addr", Txid: fmt.Sprintf("tx%d", i), Vout: 0, Value: value,
		}))
	}

	selected, err := db.SelectBitcoinUTXOs("addr", 3_500)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, uint64(3_000), selected[0].Value)
	assert.Equal(t, uint64(1_000), selected[1].Value)

	// Remaining value cannot cover another 1000
	_, err = db.SelectBitcoinUTXOs("addr", 1_000)
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	// The failed selection left the remaining output unspent
	balance, err := db.BitcoinBalance("addr")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), balance)
}

func TestSyncUTXOsClassifiesRunes(t *testing.T) {
	svc, _, _, bitcoin, idx := setupSettlement(t)

	runeID := types.RuneId{Block: 840000, Tx: 3}
	bitcoin.utxos = []ChainUTXO{
		{Txid: "plain", Vout: 0, Value: 10_000, Height: 799_000},
		{Txid: "runic", Vout: 1, Value: 546, Height: 799_500},
	}
	idx.runes = map[string][]oracle.RuneBalance{
		"runic:1": {{RuneId: runeID, Balance: 5_000}},
	}

	require.NoError(t, svc.SyncUTXOs(context.Background(), "addr"))

	db := svc.GetDB()
	btcBalance, err := db.BitcoinBalance("addr")
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), btcBalance)

	runeBalance, err := db.RuneBalance("addr", runeID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), runeBalance)

	// Re-sync is idempotent
	require.NoError(t, svc.SyncUTXOs(context.Background(), "addr"))
	btcBalance, err = db.BitcoinBalance("addr")
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), btcBalance)
}

func TestProcessorConfirmsLandedTransfer(t *testing.T) {
	svc, ledgerService, _, bitcoin, idx := setupSettlement(t)
	require.NoError(t, ledgerService.Credit("alice", types.BitcoinAsset(), 100_000))
	bitcoin.utxos = []ChainUTXO{{Txid: "fund1", Vout: 0, Value: 200_000, Height: 799_000}}
	bitcoin.submitErr = &types.RpcError{Kind: types.RpcIo, Op: "submit_transaction", Err: fmt.Errorf("timeout")}

	withdrawal, err := svc.Withdraw(context.Background(), "alice", types.BitcoinAsset(), "bc1dest", 50_000, 0, "key-1")
	require.Error(t, err)
	require.Equal(t, StatusRecoverable, withdrawal.Status)

	// The probe input was consumed on-chain: the transfer landed
	bitcoin.spent[fmt.Sprintf("%s:%d", withdrawal.ProbeTxid, withdrawal.ProbeVout)] = true
	idx.height = withdrawal.RecordedHeight + uint64(withdrawal.Depth)

	processor := NewProcessor(svc.GetDB(), ledgerService, bitcoin, idx, 0)
	require.NoError(t, processor.processRecoverable(context.Background()))

	reloaded, err := svc.GetDB().GetWithdrawal(withdrawal.WithdrawalID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, reloaded.Status)

	// No refund: the debit stands
	balance, err := ledgerService.Balance("alice", types.BitcoinAsset())
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000), balance)
}

func TestProcessorRefundsUnlandedTransfer(t *testing.T) {
	svc, ledgerService, _, bitcoin, idx := setupSettlement(t)
	require.NoError(t, ledgerService.Credit("alice", types.BitcoinAsset(), 100_000))
	bitcoin.utxos = []ChainUTXO{{Txid: "fund1", Vout: 0, Value: 200_000, Height: 799_000}}
	bitcoin.submitErr = &types.RpcError{Kind: types.RpcIo, Op: "submit_transaction", Err: fmt.Errorf("timeout")}

	withdrawal, err := svc.Withdraw(context.Background(), "alice", types.BitcoinAsset(), "bc1dest", 50_000, 0, "key-1")
	require.Error(t, err)
	require.Equal(t, StatusRecoverable, withdrawal.Status)

	// Depth blocks passed and the probe input is still unspent: the
	// transfer never landed
	idx.height = withdrawal.RecordedHeight + uint64(withdrawal.Depth)

	processor := NewProcessor(svc.GetDB(), ledgerService, bitcoin, idx, 0)
	require.NoError(t, processor.processRecoverable(context.Background()))

	reloaded, err := svc.GetDB().GetWithdrawal(withdrawal.WithdrawalID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, reloaded.Status)

	// The debit was re-credited and the inputs released
	balance, err := ledgerService.Balance("alice", types.BitcoinAsset())
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), balance)

	custody, err := svc.GetDB().BitcoinBalance(DeriveAddresses(types.Account{Owner: "alice"}).Bitcoin)
	require.NoError(t, err)
	assert.Equal(t, uint64(200_000), custody)
}

func TestProcessorWaitsForDepth(t *testing.T) {
	svc, ledgerService, _, bitcoin, idx := setupSettlement(t)
	require.NoError(t, ledgerService.Credit("alice", types.BitcoinAsset(), 100_000))
	bitcoin.utxos = []ChainUTXO{{Txid: "fund1", Vout: 0, Value: 200_000, Height: 799_000}}
	bitcoin.submitErr = &types.RpcError{Kind: types.RpcIo, Op: "submit_transaction", Err: fmt.Errorf("timeout")}

	withdrawal, err := svc.Withdraw(context.Background(), "alice", types.BitcoinAsset(), "bc1dest", 50_000, 0, "key-1")
	require.Error(t, err)

	// Not enough confirmations yet: the record must stay recoverable
	idx.height = withdrawal.RecordedHeight + 1

	processor := NewProcessor(svc.GetDB(), ledgerService, bitcoin, idx, 0)
	require.NoError(t, processor.processRecoverable(context.Background()))

	reloaded, err := svc.GetDB().GetWithdrawal(withdrawal.WithdrawalID)
	require.NoError(t, err)
	assert.Equal(t, StatusRecoverable, reloaded.Status)
}
