package tunnel

import (
	"math/big"
	"sort"
	"testing"

	"mercator-hq/turnpike/pkg/jsonrpc"
)

func TestBalanceBook_Charge(t *testing.T) {
	book := NewBalanceBook()
	book.Credit("s1", big.NewInt(100))

	if bal, ok := book.Charge("s1", big.NewInt(60)); !ok || bal.Int64() != 40 {
		t.Fatalf("Charge(60) = %s, %v", bal, ok)
	}
	if bal, ok := book.Charge("s1", big.NewInt(60)); ok || bal.Int64() != 40 {
		t.Fatalf("Charge over balance = %s, %v; want unchanged 40, false", bal, ok)
	}
}

func TestSignalBoard(t *testing.T) {
	h := newHarness(t, Config{})
	board := NewSignalBoard(h.gateway.Book(), big.NewInt(100), nil)
	h.rpc.Register(MethodSignal, board.Method)

	wantCode(t, h.handle(t, "s1", MethodSignal, "feed", map[string]int{"v": 1}), jsonrpc.CodeInvalidRequest)

	h.gateway.Book().Credit("s1", big.NewInt(250))

	for _, v := range []int{1, 2} {
		resp := h.handle(t, "s1", MethodSignal, "feed", map[string]int{"v": v})
		if resp.Error != nil {
			t.Fatalf("net_signal failed: %v", resp.Error)
		}
	}
	if resp := h.handle(t, "s1", MethodSignal, "other", nil); resp.Error == nil {
		t.Fatal("expected third signal to exceed the balance")
	}
	if got := h.gateway.Book().Balance("s1"); got.Int64() != 50 {
		t.Errorf("balance = %s, want 50", got)
	}

	signals := board.Signals("s1")
	sort.Slice(signals, func(i, j int) bool { return signals[i].ID < signals[j].ID })
	if len(signals) != 1 || signals[0].ID != "feed" || string(signals[0].Params) != `{"v":2}` {
		t.Errorf("Signals() = %+v", signals)
	}
	if len(board.Signals("s2")) != 0 {
		t.Error("signals must be scoped to the session")
	}
}

func TestSignalBoard_BadParams(t *testing.T) {
	h := newHarness(t, Config{})
	board := NewSignalBoard(h.gateway.Book(), nil, nil)
	h.rpc.Register(MethodSignal, board.Method)

	wantCode(t, h.handle(t, "s1", MethodSignal, "only-id"), jsonrpc.CodeInvalidParams)
	wantCode(t, h.handle(t, "s1", MethodSignal, 7, true), jsonrpc.CodeInvalidParams)
	wantCode(t, h.handle(t, "s1", MethodSignal, "", true), jsonrpc.CodeInvalidParams)

	if resp := h.handle(t, "s1", MethodSignal, "free", true); resp.Error != nil {
		t.Errorf("zero-priced signal failed: %v", resp.Error)
	}
}
