package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when no record has the requested id.
var ErrNotFound = errors.New("batch record not found")

// Status is the settlement state of a handed-off batch.
type Status string

const (
	// StatusPending means the batch was handed off and waits for the
	// submission slot.
	StatusPending Status = "pending"

	// StatusSubmitted means a claim transaction was broadcast.
	StatusSubmitted Status = "submitted"

	// StatusSettled means the claim was mined successfully.
	StatusSettled Status = "settled"

	// StatusFailed means submission stopped on a non-timeout error. The
	// secrets stay spent; the batch needs out-of-band settlement.
	StatusFailed Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusSettled, StatusFailed:
		return true
	}
	return false
}

// BatchRecord is the persisted view of a handed-off batch.
type BatchRecord struct {
	// ID is a UUID assigned at handoff.
	ID string `json:"id"`

	// Nonce is the 0x-prefixed context nonce the batch was accumulated under.
	Nonce string `json:"nonce"`

	// Secrets are the 0x-prefixed voucher secrets.
	Secrets []string `json:"secrets"`

	// Total is the decimal sum of the secrets' values.
	Total string `json:"total"`

	Status Status `json:"status"`

	// TxHash is the claim transaction hash once broadcast.
	TxHash string `json:"tx_hash,omitempty"`

	// Attempts counts submission attempts, including timeout retries.
	Attempts int `json:"attempts"`

	// LastError is the most recent non-timeout failure.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter narrows List results.
type Filter struct {
	// Status keeps only records in this state. Empty matches all.
	Status Status

	// Limit caps the number of records. Zero means unlimited.
	Limit int
}

// Backend persists batch records. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Save inserts or replaces a record by id.
	Save(ctx context.Context, rec *BatchRecord) error

	// Load returns the record with the given id, or ErrNotFound.
	Load(ctx context.Context, id string) (*BatchRecord, error)

	// List returns records matching filter, newest first.
	List(ctx context.Context, filter Filter) ([]*BatchRecord, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// Cleanup removes settled records last updated before olderThan and
	// returns how many were deleted. Records in any other state are kept.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases resources. The backend must not be used afterwards.
	Close() error
}
