package types

import "fmt"

// Substrate names the settlement rail an outbound transfer was submitted on.
type Substrate string

const (
	SubstrateNativeLedger Substrate = "native_ledger"
	SubstrateBitcoin      Substrate = "bitcoin"
	// SubstrateIcrc is a legacy wire shape kept for boundary translation
	// only; the core never produces it.
	SubstrateIcrc Substrate = "icrc"
)

// SubmittedTxID tags which settlement substrate produced an outbound
// transfer. Once recorded for a given request identity it must not be
// re-submitted.
type SubmittedTxID struct {
	Substrate Substrate `json:"substrate"`
	// NativeTxid is set for SubstrateNativeLedger and SubstrateIcrc.
	NativeTxid uint64 `json:"native_txid,omitempty"`
	// BitcoinTxid is set for SubstrateBitcoin.
	BitcoinTxid string `json:"bitcoin_txid,omitempty"`
}

func NativeLedgerTxID(txid uint64) SubmittedTxID {
	return SubmittedTxID{Substrate: SubstrateNativeLedger, NativeTxid: txid}
}

func BitcoinTxID(txid string) SubmittedTxID {
	return SubmittedTxID{Substrate: SubstrateBitcoin, BitcoinTxid: txid}
}

func (t SubmittedTxID) String() string {
	switch t.Substrate {
	case SubstrateNativeLedger, SubstrateIcrc:
		return fmt.Sprintf("%s:%d", t.Substrate, t.NativeTxid)
	case SubstrateBitcoin:
		return fmt.Sprintf("%s:%s", t.Substrate, t.BitcoinTxid)
	default:
		panic(fmt.Sprintf("unknown substrate %q", t.Substrate))
	}
}

// ParseSubmittedTxID is the inverse of String, used when loading recorded
// settlement results from storage.
func ParseSubmittedTxID(s string) (SubmittedTxID, error) {
	var sub Substrate
	var rest string
	for _, candidate := range []Substrate{SubstrateNativeLedger, SubstrateBitcoin, SubstrateIcrc} {
		prefix := string(candidate) + ":"
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			sub = candidate
			rest = s[len(prefix):]
			break
		}
	}
	switch sub {
	case SubstrateNativeLedger, SubstrateIcrc:
		var txid uint64
		if _, err := fmt.Sscanf(rest, "%d", &txid); err != nil {
			return SubmittedTxID{}, fmt.Errorf("%w: malformed txid %q", ErrParams, s)
		}
		return SubmittedTxID{Substrate: sub, NativeTxid: txid}, nil
	case SubstrateBitcoin:
		return BitcoinTxID(rest), nil
	default:
		return SubmittedTxID{}, fmt.Errorf("%w: unknown txid %q", ErrParams, s)
	}
}
