package types

import "encoding/hex"

// Account is an owner identity plus an optional subaccount distinguishing
// multiple custodial balances under one owner. It is the ledger key's
// owner component.
type Account struct {
	Owner      string `json:"owner"`
	Subaccount []byte `json:"subaccount,omitempty"`
}

func (a Account) String() string {
	if len(a.Subaccount) == 0 {
		return a.Owner
	}
	return a.Owner + "." + hex.EncodeToString(a.Subaccount)
}
