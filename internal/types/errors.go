package types

import (
	"errors"
	"fmt"
)

// Caller-correctable errors. None of these leave any state mutated.
var (
	ErrParams                = errors.New("invalid parameters")
	ErrInvalidPair           = errors.New("invalid pair: tokens must differ")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientReserves  = errors.New("insufficient reserves")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity minted")
	ErrOverflow              = errors.New("arithmetic overflow")
	ErrPoolNotFound          = errors.New("pool not found")
)

// Chain-state errors: the referenced chain data is not yet trustworthy
// and the caller should retry after more confirmations.
var (
	ErrNotEnoughConfirmations = errors.New("not enough confirmations")
	ErrOutPointNotFound       = errors.New("outpoint not found")
)

// BlockVerificationError reports that the block at the given height could
// not be verified against the oracle's recent chain view.
type BlockVerificationError struct {
	Height uint32
}

func (e *BlockVerificationError) Error() string {
	return fmt.Sprintf("block verification failed at height %d", e.Height)
}

// RpcKind classifies a transient collaborator failure.
type RpcKind string

const (
	RpcIo       RpcKind = "io"
	RpcEndpoint RpcKind = "endpoint"
	RpcDecode   RpcKind = "decode"
)

// RpcError is a transient network or decoding failure from an external
// collaborator. The read that produced it is safe to retry; it is never
// treated as "value is zero".
type RpcError struct {
	Kind     RpcKind
	Op       string
	Endpoint string
	Err      error
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("rpc %s error in %s (%s): %v", e.Kind, e.Op, e.Endpoint, e.Err)
}

func (e *RpcError) Unwrap() error { return e.Err }

// RecoverableError reports a settlement whose ledger debit committed but
// whose outbound broadcast outcome is unknown. Height and Depth tell the
// operator when the chain can be re-checked; reconciliation against chain
// state, not rollback, is the recovery path.
type RecoverableError struct {
	Height uint64
	Depth  uint32
	Err    error
}

func (e *RecoverableError) Error() string {
	return fmt.Sprintf("settlement outcome unknown, recheck after height %d (depth %d): %v",
		e.Height+uint64(e.Depth), e.Depth, e.Err)
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// ErrUnrecoverable marks settlements where funds are provably lost or the
// operation cannot be replayed safely.
var ErrUnrecoverable = errors.New("unrecoverable settlement failure")
