package storage

import "fmt"

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Open returns the backend named by kind. sqlitePath is only used by the
// SQLite backend.
func Open(kind, sqlitePath string) (Backend, error) {
	switch kind {
	case "", BackendMemory:
		return NewMemoryBackend(), nil
	case BackendSQLite:
		return NewSQLiteBackend(sqlitePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}
