package client

import (
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// Session is the client's view of one gateway session: its id and prepaid
// balance. Sockets dialed with the same Session share both, matching the
// gateway, which keeps balances by session id across reconnects.
type Session struct {
	id string

	mu      sync.Mutex
	balance *big.Int
}

// NewSession returns a session with the given id, or a random one if id is
// empty.
func NewSession(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{id: id, balance: new(big.Int)}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Balance returns a copy of the balance.
func (s *Session) Balance() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.balance)
}

// tryDeduct subtracts price if the balance covers it.
func (s *Session) tryDeduct(price *big.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balance.Cmp(price) < 0 {
		return false
	}
	s.balance.Sub(s.balance, price)
	return true
}

func (s *Session) credit(value *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance.Add(s.balance, value)
}

// debit subtracts n unconditionally and returns the new balance.
func (s *Session) debit(n int) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance.Sub(s.balance, big.NewInt(int64(n)))
	return new(big.Int).Set(s.balance)
}
