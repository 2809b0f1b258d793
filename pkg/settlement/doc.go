// Package settlement redeems handed-off voucher batches on-chain.
//
// Coordinator serializes claim submissions process-wide through a mutex
// guarding the chain client. A caller that finds the mutex already held
// doubles the ledger's acceptance threshold before queueing and halves it
// back once admitted, throttling new vouchers while a claim is outstanding.
// Once admitted, the coordinator fixes the account's sequence number and
// submits and waits in a loop: a confirmation timeout re-broadcasts the same
// transaction, any other failure ends the attempt.
//
// Dispatcher runs each hand-off in the background so the RPC caller that
// triggered it never waits on the chain. Failures are reported on a
// supervised error channel, logged and recorded in the batch store; the
// batch is not retried automatically.
package settlement
