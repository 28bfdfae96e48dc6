package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetEncodeParseRoundTrip(t *testing.T) {
	assets := []Asset{
		NativeAsset(),
		BitcoinAsset(),
		RuneAsset(RuneId{Block: 840000, Tx: 3}),
		RuneAsset(RuneId{Block: 1, Tx: 0}),
	}

	for _, asset := range assets {
		parsed, err := ParseAsset(asset.Encode())
		require.NoError(t, err)
		assert.Equal(t, asset, parsed)
	}
}

func TestParseAssetRejectsMalformed(t *testing.T) {
	for _, input := range []string{
		"",
		"NATIVE",
		"rune:",
		"rune:840000",
		"rune:abc:3",
		"rune:840000:notanumber",
		"rune:840000:4294967296", // tx exceeds uint32
		"dogecoin",
	} {
		_, err := ParseAsset(input)
		assert.ErrorIs(t, err, ErrParams, "input %q", input)
	}
}

func TestCanonicalPairCommutes(t *testing.T) {
	a := NativeAsset()
	b := RuneAsset(RuneId{Block: 840000, Tx: 3})

	x0, x1 := CanonicalPair(a, b)
	y0, y1 := CanonicalPair(b, a)
	assert.Equal(t, x0, y0)
	assert.Equal(t, x1, y1)
}

func TestAssetScanValue(t *testing.T) {
	original := RuneAsset(RuneId{Block: 840000, Tx: 3})
	value, err := original.Value()
	require.NoError(t, err)

	var scanned Asset
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, original, scanned)

	var fromBytes Asset
	require.NoError(t, fromBytes.Scan([]byte("btc")))
	assert.Equal(t, BitcoinAsset(), fromBytes)

	assert.Error(t, scanned.Scan(42))
}

func TestSubmittedTxIDRoundTrip(t *testing.T) {
	ids := []SubmittedTxID{
		NativeLedgerTxID(77),
		BitcoinTxID("deadbeef"),
	}
	for _, id := range ids {
		parsed, err := ParseSubmittedTxID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}

	_, err := ParseSubmittedTxID("solana:123")
	assert.ErrorIs(t, err, ErrParams)
}
