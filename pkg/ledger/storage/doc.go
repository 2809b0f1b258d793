// Package storage persists records of handed-off voucher batches.
//
// Each batch the ledger hands off for settlement gets a BatchRecord that
// follows it through pending, submitted and settled, or failed. Failed
// records are kept so an operator can settle them out of band; settled
// records are pruned by the retention scheduler.
//
// Two backends are provided:
//
//   - MemoryBackend: map-backed, lost on exit (default)
//   - SQLiteBackend: file-backed via modernc.org/sqlite in WAL mode
//
// Use Open to build the backend named in configuration.
package storage
