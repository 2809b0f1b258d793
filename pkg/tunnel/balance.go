package tunnel

import (
	"math/big"
	"sync"
)

// BalanceBook holds per-session credit keyed by session id.
type BalanceBook struct {
	mu       sync.Mutex
	balances map[string]*big.Int
}

// NewBalanceBook returns an empty book.
func NewBalanceBook() *BalanceBook {
	return &BalanceBook{balances: make(map[string]*big.Int)}
}

// Credit adds value to the session's balance and returns the new balance.
func (b *BalanceBook) Credit(session string, value *big.Int) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.entryLocked(session)
	bal.Add(bal, value)
	return new(big.Int).Set(bal)
}

// Debit subtracts n from the session's balance and reports whether the
// balance is still non-negative. The deduction is committed either way; a
// false result means the caller must close the session without forwarding.
func (b *BalanceBook) Debit(session string, n int) (*big.Int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.entryLocked(session)
	bal.Sub(bal, big.NewInt(int64(n)))
	return new(big.Int).Set(bal), bal.Sign() >= 0
}

// Balance returns the session's current balance. Unknown sessions have zero.
func (b *BalanceBook) Balance(session string) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bal, ok := b.balances[session]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Len returns the number of sessions with a balance entry.
func (b *BalanceBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.balances)
}

func (b *BalanceBook) entryLocked(session string) *big.Int {
	bal, ok := b.balances[session]
	if !ok {
		bal = new(big.Int)
		b.balances[session] = bal
	}
	return bal
}

// Charge deducts price only if the balance covers it.
func (b *BalanceBook) Charge(session string, price *big.Int) (*big.Int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.entryLocked(session)
	if bal.Cmp(price) < 0 {
		return new(big.Int).Set(bal), false
	}
	bal.Sub(bal, price)
	return new(big.Int).Set(bal), true
}
