// Package ledger implements the gateway's voucher book.
//
// # Overview
//
// A Ledger accepts voucher secrets submitted by tunnel sessions, values them
// with a voucher.Verifier against the current settlement context, and
// accumulates accepted secrets into a pending batch. Every accepted secret is
// remembered for the lifetime of the process; submitting it again is rejected
// (single variant) or skipped (batch variant), so no voucher is credited twice.
//
// # Epochs
//
// The settlement context carries a random 32-byte nonce. When the pending
// batch grows past the trigger, the ledger copies it out, resets it and
// installs a new nonce in the same critical section. Vouchers generated for
// the old nonce are worth nothing under the new one. The handed-off batch is
// returned to the caller, which passes it to the settlement layer.
//
// # Threshold
//
// The acceptance threshold starts at the configured baseline. The settlement
// coordinator doubles it while a claim is in flight and halves it afterwards;
// it never drops below the baseline.
//
// # Usage
//
//	l, err := ledger.New(ledger.Config{Context: vctx}, voucher.NewKeccakOracle())
//	acc, err := l.AcceptSecret(secret)
//	if acc.Handoff != nil {
//	    dispatcher.Dispatch(acc.Handoff)
//	}
package ledger
