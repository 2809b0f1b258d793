package tunnel

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"sync"

	"mercator-hq/turnpike/pkg/jsonrpc"
	"mercator-hq/turnpike/pkg/telemetry/logging"
)

// MethodSignal carries a named signal from a reconnecting client.
const MethodSignal = "net_signal"

// Signal is the latest parameters a session sent for one id.
type Signal struct {
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// SignalBoard keeps the latest signal per session and id. Each call is
// charged against the session's balance, matching the price the client
// deducts locally.
type SignalBoard struct {
	book   *BalanceBook
	price  *big.Int
	logger *slog.Logger

	mu      sync.Mutex
	signals map[string]map[string]json.RawMessage
}

// NewSignalBoard creates a board charging price per call against book.
func NewSignalBoard(book *BalanceBook, price *big.Int, logger *slog.Logger) *SignalBoard {
	if logger == nil {
		logger = slog.Default()
	}
	if price == nil {
		price = new(big.Int)
	}
	return &SignalBoard{
		book:    book,
		price:   new(big.Int).Set(price),
		logger:  logger.With("component", "tunnel.signals"),
		signals: make(map[string]map[string]json.RawMessage),
	}
}

// Method is the net_signal handler. Params are [id, params].
func (b *SignalBoard) Method(ctx context.Context, call *Call) (any, error) {
	if len(call.Params) != 2 {
		return nil, jsonrpc.InvalidParams("expected [id, params], got %d parameters", len(call.Params))
	}
	var id string
	if err := json.Unmarshal(call.Params[0], &id); err != nil || id == "" {
		return nil, jsonrpc.InvalidParams("signal id must be a non-empty string")
	}

	balance, ok := b.book.Charge(call.Session, b.price)
	if !ok {
		return nil, jsonrpc.InvalidRequest("insufficient balance: have %s, need %s", balance, b.price)
	}

	b.mu.Lock()
	ids, found := b.signals[call.Session]
	if !found {
		ids = make(map[string]json.RawMessage)
		b.signals[call.Session] = ids
	}
	ids[id] = append(json.RawMessage(nil), call.Params[1]...)
	b.mu.Unlock()

	logging.FromContext(ctx, b.logger).Debug("signal received", "signal", id, "balance", balance.String())
	return true, nil
}

// Signals returns the latest signals of a session.
func (b *SignalBoard) Signals(session string) []Signal {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Signal, 0, len(b.signals[session]))
	for id, params := range b.signals[session] {
		out = append(out, Signal{ID: id, Params: params})
	}
	return out
}
