package types

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// RuneId uniquely identifies a rune issuance by the block that etched it
// and the index of the etching transaction inside that block.
type RuneId struct {
	Block uint64 `json:"block"`
	Tx    uint32 `json:"tx"`
}

func (r RuneId) String() string {
	return fmt.Sprintf("%d:%d", r.Block, r.Tx)
}

// AssetKind discriminates the closed set of tradable asset variants.
// Every switch over an AssetKind must handle all three kinds and fail
// loudly on anything else, so adding a kind surfaces in every consumer.
type AssetKind uint8

const (
	AssetNative AssetKind = iota
	AssetBitcoin
	AssetRune
)

// Asset is an immutable value identifying a tradable asset. Assets are
// keys: they are compared structurally and never owned by any entity.
type Asset struct {
	Kind AssetKind `json:"kind"`
	Rune RuneId    `json:"rune,omitempty"`
}

func NativeAsset() Asset  { return Asset{Kind: AssetNative} }
func BitcoinAsset() Asset { return Asset{Kind: AssetBitcoin} }
func RuneAsset(id RuneId) Asset {
	return Asset{Kind: AssetRune, Rune: id}
}

const (
	assetNativeEncoding  = "native"
	assetBitcoinEncoding = "btc"
	assetRunePrefix      = "rune:"
)

// Encode returns the stable string form used as ledger and pool keys
// and as the database column value.
func (a Asset) Encode() string {
	switch a.Kind {
	case AssetNative:
		return assetNativeEncoding
	case AssetBitcoin:
		return assetBitcoinEncoding
	case AssetRune:
		return fmt.Sprintf("%s%d:%d", assetRunePrefix, a.Rune.Block, a.Rune.Tx)
	default:
		panic(fmt.Sprintf("unknown asset kind %d", a.Kind))
	}
}

func (a Asset) String() string { return a.Encode() }

// ParseAsset is the inverse of Encode.
func ParseAsset(s string) (Asset, error) {
	switch {
	case s == assetNativeEncoding:
		return NativeAsset(), nil
	case s == assetBitcoinEncoding:
		return BitcoinAsset(), nil
	case strings.HasPrefix(s, assetRunePrefix):
		parts := strings.Split(strings.TrimPrefix(s, assetRunePrefix), ":")
		if len(parts) != 2 {
			return Asset{}, fmt.Errorf("%w: malformed rune asset %q", ErrParams, s)
		}
		block, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return Asset{}, fmt.Errorf("%w: malformed rune block in %q", ErrParams, s)
		}
		tx, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return Asset{}, fmt.Errorf("%w: malformed rune tx in %q", ErrParams, s)
		}
		return RuneAsset(RuneId{Block: block, Tx: uint32(tx)}), nil
	default:
		return Asset{}, fmt.Errorf("%w: unknown asset %q", ErrParams, s)
	}
}

// Value and Scan let an Asset be stored directly in a gorm column.
func (a Asset) Value() (driver.Value, error) {
	return a.Encode(), nil
}

func (a *Asset) Scan(src interface{}) error {
	s, ok := src.(string)
	if !ok {
		if b, ok := src.([]byte); ok {
			s = string(b)
		} else {
			return fmt.Errorf("cannot scan %T into Asset", src)
		}
	}
	parsed, err := ParseAsset(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// CanonicalPair orders two assets into the fixed slot order used by the
// pool registry, so (A, B) and (B, A) resolve to the same pool. Ordering
// is lexicographic on the stable encoding.
func CanonicalPair(a, b Asset) (Asset, Asset) {
	if a.Encode() <= b.Encode() {
		return a, b
	}
	return b, a
}
