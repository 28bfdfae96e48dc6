package settlement

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/sha3"

	"github.com/runeswap/runeswap-api/internal/types"
)

// p2pkhVersion is the mainnet pay-to-pubkey-hash version byte.
const p2pkhVersion = 0x00

// SubaccountForOwner derives the 32-byte custody subaccount for an owner
// identity. Derivation is a pure hash, so repeated calls for the same
// owner always return the same subaccount.
func SubaccountForOwner(owner string) []byte {
	h := sha3.New256()
	h.Write([]byte("account:"))
	h.Write([]byte(owner))
	return h.Sum(nil)
}

// SubaccountForPool derives the custody subaccount allocated to a pool at
// creation. The creation time is part of the preimage, matching the
// one-time allocation recorded on the pool row.
func SubaccountForPool(poolID uint64, createdAt time.Time) []byte {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], poolID)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt.UnixNano()))

	h := sha3.New256()
	h.Write([]byte("pool:"))
	h.Write(id[:])
	h.Write(ts[:])
	return h.Sum(nil)
}

// DeriveAddresses maps an account to its substrate-specific receive
// addresses. Pure derivation, no mutation: the native address is the hex
// subaccount identifier, the bitcoin address a base58check P2PKH built
// from a 20-byte digest of the subaccount.
func DeriveAddresses(account types.Account) types.DepositAddresses {
	subaccount := account.Subaccount
	if len(subaccount) == 0 {
		subaccount = SubaccountForOwner(account.Owner)
	}

	pubKeyHash := sha3.Sum256(subaccount)
	return types.DepositAddresses{
		Native:           hex.EncodeToString(subaccount),
		NativeSubaccount: hex.EncodeToString(subaccount),
		Bitcoin:          base58.CheckEncode(pubKeyHash[:20], p2pkhVersion),
	}
}
