// Package chain submits voucher claims on-chain.
//
// The settlement layer only needs two things from a chain: the settlement
// account's next sequence number (transaction nonce) and a way to submit a
// claim for a given nonce and wait for it to be mined. Client captures that;
// EthereumClient implements it over go-ethereum.
//
// Submitting a claim twice with the same sequence number must be an
// idempotent retry of one transaction, never a second transaction.
package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrReverted is returned by Transaction.Wait when the claim was mined
	// but failed.
	ErrReverted = errors.New("claim transaction reverted")

	// ErrNonceConsumed is returned when the sequence number was used by a
	// different transaction.
	ErrNonceConsumed = errors.New("sequence number consumed by another transaction")
)

// Transaction is a broadcast claim.
type Transaction interface {
	Hash() common.Hash

	// Wait blocks until the transaction is mined or ctx is done.
	Wait(ctx context.Context) (*types.Receipt, error)
}

// Client submits claims for the settlement account.
type Client interface {
	// SequenceNumber returns the account's next transaction nonce.
	SequenceNumber(ctx context.Context) (uint64, error)

	// SubmitClaim broadcasts claim(nonce, secrets) with the given sequence
	// number. Calling it again with the same arguments re-broadcasts the
	// same transaction.
	SubmitClaim(ctx context.Context, nonce [32]byte, secrets [][]byte, seq uint64) (Transaction, error)
}
