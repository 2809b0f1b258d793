package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/turnpike/pkg/config"
	"mercator-hq/turnpike/pkg/jsonrpc"
	"mercator-hq/turnpike/pkg/ledger"
	"mercator-hq/turnpike/pkg/telemetry/metrics"
	"mercator-hq/turnpike/pkg/voucher"
)

const testMinimum = 1024

var oracle = voucher.NewFixedOracle()

// recordingSettler collects handed-off batches.
type recordingSettler struct {
	mu      sync.Mutex
	batches []*ledger.Batch
	err     error
}

func (s *recordingSettler) Dispatch(b *ledger.Batch) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.batches = append(s.batches, b)
	return "batch-1", nil
}

func (s *recordingSettler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type harness struct {
	ledger  *ledger.Ledger
	settler *recordingSettler
	metrics *metrics.Collector
	rpc     *RPC
	gateway *Gateway
	server  *httptest.Server
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	l, err := ledger.New(ledger.Config{
		Context: voucher.Context{
			ChainID:  big.NewInt(100),
			Contract: common.HexToAddress(config.DefaultContractAddress),
			Receiver: common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		},
		MinimumThreshold: big.NewInt(testMinimum),
		BatchTrigger:     640,
	}, oracle)
	if err != nil {
		t.Fatalf("ledger.New failed: %v", err)
	}

	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true}, nil)
	settler := &recordingSettler{}
	rpc := NewRPC(l, NewBalanceBook(), settler, collector, nil)
	cfg.Metrics = collector
	g := NewGateway(cfg, rpc)
	srv := httptest.NewServer(g)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.Close(ctx)
		srv.Close()
	})

	return &harness{ledger: l, settler: settler, metrics: collector, rpc: rpc, gateway: g, server: srv}
}

func (h *harness) url(session, target string) string {
	host, port, _ := net.SplitHostPort(target)
	q := url.Values{}
	if session != "" {
		q.Set("session", session)
	}
	if host != "" {
		q.Set("hostname", host)
	}
	if port != "" {
		q.Set("port", port)
	}
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/?" + q.Encode()
}

func (h *harness) dial(t *testing.T, session, target string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(h.url(session, target), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial failed: %v (status %d)", err, status)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func (h *harness) mint(value uint64) string {
	return voucher.EncodeSecret(oracle.Mint(value, h.ledger.Params().Context))
}

// call sends a control request over ws and reads the response.
func call(t *testing.T, ws *websocket.Conn, id int64, method string, params ...any) *jsonrpc.Response {
	t.Helper()
	req, err := jsonrpc.NewRequest(id, method, params...)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if err := ws.WriteJSON(req); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("expected text frame, got %d", kind)
	}
	resp, err := jsonrpc.ParseResponse(data)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	return resp
}

// handle calls the dispatcher directly, bypassing the transport.
func (h *harness) handle(t *testing.T, session, method string, params ...any) *jsonrpc.Response {
	t.Helper()
	req, err := jsonrpc.NewRequest(1, method, params...)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	frame, _ := json.Marshal(req)
	resp, err := jsonrpc.ParseResponse(h.rpc.Handle(context.Background(), session, frame))
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	return resp
}

func wantCode(t *testing.T, resp *jsonrpc.Response, code int) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error %d, got result %s", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Fatalf("expected error %d, got %d (%s)", code, resp.Error.Code, resp.Error.Message)
	}
}

// sink accepts one TCP connection and counts the bytes it receives.
type sink struct {
	ln       net.Listener
	received atomic.Int64
	closed   chan struct{}
}

func newSink(t *testing.T) *sink {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	s := &sink{ln: ln, closed: make(chan struct{})}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			s.received.Add(int64(n))
			if err != nil {
				close(s.closed)
				return
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func newEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ============================================================================
// Balance book
// ============================================================================

func TestBalanceBook(t *testing.T) {
	b := NewBalanceBook()

	if got := b.Balance("s1"); got.Sign() != 0 {
		t.Errorf("unknown session balance = %s, want 0", got)
	}

	b.Credit("s1", big.NewInt(10))
	rem, ok := b.Debit("s1", 10)
	if !ok || rem.Sign() != 0 {
		t.Errorf("Debit to zero = (%s, %v), want (0, true)", rem, ok)
	}

	rem, ok = b.Debit("s1", 1)
	if ok || rem.Cmp(big.NewInt(-1)) != 0 {
		t.Errorf("Debit past zero = (%s, %v), want (-1, false)", rem, ok)
	}

	// The deficit is committed.
	if got := b.Credit("s1", big.NewInt(5)); got.Cmp(big.NewInt(4)) != 0 {
		t.Errorf("Credit after deficit = %s, want 4", got)
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1", b.Len())
	}
}

func TestBalanceBook_ConcurrentDebits(t *testing.T) {
	b := NewBalanceBook()
	b.Credit("s", big.NewInt(1000))

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < 2000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := b.Debit("s", 1); ok {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 1000 {
		t.Errorf("expected exactly 1000 debits to fit, got %d", succeeded.Load())
	}
	if got := b.Balance("s"); got.Cmp(big.NewInt(-1000)) != 0 {
		t.Errorf("final balance = %s, want -1000", got)
	}
}

// ============================================================================
// Rate limiter
// ============================================================================

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(1, 2)

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("burst should allow two events")
	}
	if l.Allow("10.0.0.1") {
		t.Error("third event should be limited")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("other IPs have their own bucket")
	}

	if n := l.Cleanup(time.Hour); n != 0 {
		t.Errorf("Cleanup removed %d fresh entries", n)
	}
	if n := l.Cleanup(0); n != 2 {
		t.Errorf("Cleanup(0) removed %d, want 2", n)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d after cleanup", l.Len())
	}
}

// ============================================================================
// Control calls
// ============================================================================

func TestNetGet(t *testing.T) {
	h := newHarness(t, Config{})

	resp := h.handle(t, "s1", MethodGet)
	var p voucher.Params
	if err := resp.Decode(&p); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	vctx, minimum, err := p.Decode()
	if err != nil {
		t.Fatalf("params do not decode: %v", err)
	}
	if minimum.Int64() != testMinimum {
		t.Errorf("minimum = %s, want %d", minimum, testMinimum)
	}
	if vctx.Nonce != h.ledger.Params().Context.Nonce {
		t.Error("net_get must report the current nonce")
	}
	if len(p.Nonce) != 66 || len(p.ContractAddress) != 42 {
		t.Errorf("expected fixed-width hex, got nonce %q contract %q", p.Nonce, p.ContractAddress)
	}
}

func TestNetTip(t *testing.T) {
	h := newHarness(t, Config{})

	resp := h.handle(t, "s1", MethodTip, h.mint(2*testMinimum))
	var value string
	if err := resp.Decode(&value); err != nil {
		t.Fatalf("net_tip failed: %v", err)
	}
	if value != "2048" {
		t.Errorf("net_tip returned %q, want %q", value, "2048")
	}
	if got := h.gateway.Book().Balance("s1"); got.Int64() != 2*testMinimum {
		t.Errorf("balance = %s, want %d", got, 2*testMinimum)
	}
}

func TestNetTip_Errors(t *testing.T) {
	h := newHarness(t, Config{})

	spent := h.mint(testMinimum)
	if resp := h.handle(t, "s1", MethodTip, spent); resp.Error != nil {
		t.Fatalf("first tip failed: %v", resp.Error)
	}

	tooMany := make([]string, 11)
	for i := range tooMany {
		tooMany[i] = h.mint(testMinimum)
	}

	tests := []struct {
		name   string
		params []any
		code   int
	}{
		{"no params", nil, jsonrpc.CodeInvalidParams},
		{"two params", []any{spent, spent}, jsonrpc.CodeInvalidParams},
		{"wrong type", []any{42}, jsonrpc.CodeInvalidParams},
		{"short secret", []any{"0x1234"}, jsonrpc.CodeInvalidParams},
		{"duplicate", []any{spent}, jsonrpc.CodeInvalidParams},
		{"single below minimum", []any{h.mint(testMinimum - 1)}, jsonrpc.CodeInvalidParams},
		{"empty batch", []any{[]string{}}, jsonrpc.CodeInvalidParams},
		{"batch too large", []any{tooMany}, jsonrpc.CodeInvalidParams},
		{"batch below minimum", []any{[]string{h.mint(100), h.mint(100)}}, jsonrpc.CodeInvalidRequest},
		{"batch of spent secrets", []any{[]string{spent}}, jsonrpc.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantCode(t, h.handle(t, "s2", MethodTip, tt.params...), tt.code)
		})
	}

	if got := h.gateway.Book().Balance("s2"); got.Sign() != 0 {
		t.Errorf("rejected tips must not credit, balance = %s", got)
	}
}

func TestNetTip_BatchSkipsDuplicates(t *testing.T) {
	h := newHarness(t, Config{})

	spent := h.mint(testMinimum)
	h.handle(t, "s1", MethodTip, spent)

	fresh := h.mint(testMinimum)
	resp := h.handle(t, "s1", MethodTip, []string{spent, fresh, fresh})
	var value string
	if err := resp.Decode(&value); err != nil {
		t.Fatalf("batch tip failed: %v", err)
	}
	if value != "1024" {
		t.Errorf("batch credited %q, want only the fresh secret (1024)", value)
	}
}

func TestHandle_ProtocolErrors(t *testing.T) {
	h := newHarness(t, Config{})

	t.Run("parse error", func(t *testing.T) {
		resp, err := jsonrpc.ParseResponse(h.rpc.Handle(context.Background(), "s", []byte("{not json")))
		if err != nil {
			t.Fatalf("ParseResponse failed: %v", err)
		}
		wantCode(t, resp, jsonrpc.CodeParseError)
		if string(resp.ID) != "null" {
			t.Errorf("parse errors carry a null id, got %s", resp.ID)
		}
	})

	t.Run("missing method", func(t *testing.T) {
		resp, _ := jsonrpc.ParseResponse(h.rpc.Handle(context.Background(), "s", []byte(`{"jsonrpc":"2.0","id":7}`)))
		wantCode(t, resp, jsonrpc.CodeInvalidRequest)
		if string(resp.ID) != "7" {
			t.Errorf("expected id 7 echoed, got %s", resp.ID)
		}
	})

	t.Run("params not an array", func(t *testing.T) {
		frame := `{"jsonrpc":"2.0","id":7,"method":"net_tip","params":"0x01"}`
		resp, err := jsonrpc.ParseResponse(h.rpc.Handle(context.Background(), "s", []byte(frame)))
		if err != nil {
			t.Fatalf("ParseResponse failed: %v", err)
		}
		wantCode(t, resp, jsonrpc.CodeInvalidParams)
		if string(resp.ID) != "7" {
			t.Errorf("expected id 7 echoed, got %s", resp.ID)
		}
	})

	t.Run("method not a string", func(t *testing.T) {
		resp, _ := jsonrpc.ParseResponse(h.rpc.Handle(context.Background(), "s", []byte(`{"jsonrpc":"2.0","id":"q","method":9}`)))
		wantCode(t, resp, jsonrpc.CodeInvalidRequest)
		if string(resp.ID) != `"q"` {
			t.Errorf("expected id \"q\" echoed, got %s", resp.ID)
		}
	})

	t.Run("method not found", func(t *testing.T) {
		wantCode(t, h.handle(t, "s", "net_nope"), jsonrpc.CodeMethodNotFound)
	})

	t.Run("registered method", func(t *testing.T) {
		h.rpc.Register("net_echo", func(_ context.Context, c *Call) (any, error) {
			return c.Session, nil
		})
		var got string
		if err := h.handle(t, "s9", "net_echo").Decode(&got); err != nil || got != "s9" {
			t.Errorf("net_echo = %q, %v", got, err)
		}
	})

	t.Run("internal error", func(t *testing.T) {
		h.rpc.Register("net_fail", func(context.Context, *Call) (any, error) {
			return nil, errors.New("boom")
		})
		wantCode(t, h.handle(t, "s", "net_fail"), jsonrpc.CodeInternalError)
	})

	// parse, invalid, not found, echo and fail each get a series.
	n, err := testutil.GatherAndCount(h.metrics.Registry(), "turnpike_rpc_requests_total")
	if err != nil {
		t.Fatalf("GatherAndCount failed: %v", err)
	}
	if n < 4 {
		t.Errorf("expected at least 4 rpc series, got %d", n)
	}
}

// ============================================================================
// Settlement trigger
// ============================================================================

func TestNetTip_RotatesAfterTrigger(t *testing.T) {
	h := newHarness(t, Config{})

	before := h.ledger.Params().Context.Nonce
	var first string
	for i := 0; i < 641; i++ {
		secret := h.mint(testMinimum)
		if i == 0 {
			first = secret
		}
		if resp := h.handle(t, "s1", MethodTip, secret); resp.Error != nil {
			t.Fatalf("tip %d failed: %v", i, resp.Error)
		}
		if i < 640 && h.settler.count() != 0 {
			t.Fatalf("batch handed off early at tip %d", i)
		}
	}

	if h.settler.count() != 1 {
		t.Fatalf("expected one handed-off batch, got %d", h.settler.count())
	}
	batch := h.settler.batches[0]
	if batch.Len() != 641 || batch.Total.Int64() != 641*testMinimum {
		t.Errorf("batch = %d secrets worth %s", batch.Len(), batch.Total)
	}
	if batch.Context.Nonce != before {
		t.Error("batch must carry the nonce it was opened under")
	}

	after := h.ledger.Params().Context.Nonce
	if after == before {
		t.Fatal("context nonce must rotate on hand-off")
	}

	// Resubmitting an accepted voucher is a duplicate.
	wantCode(t, h.handle(t, "s1", MethodTip, first), jsonrpc.CodeInvalidParams)

	// A voucher minted for the old nonce is worthless now.
	stale := voucher.EncodeSecret(oracle.Mint(testMinimum, batch.Context))
	wantCode(t, h.handle(t, "s1", MethodTip, stale), jsonrpc.CodeInvalidParams)

	if got := h.gateway.Book().Balance("s1"); got.Int64() != 641*testMinimum {
		t.Errorf("balance = %s, want %d", got, 641*testMinimum)
	}
}

func TestNetTip_DispatchFailureStillCredits(t *testing.T) {
	h := newHarness(t, Config{})
	h.settler.err = errors.New("dispatcher closed")

	for i := 0; i < 641; i++ {
		if resp := h.handle(t, "s1", MethodTip, h.mint(testMinimum)); resp.Error != nil {
			t.Fatalf("tip %d failed: %v", i, resp.Error)
		}
	}
	if got := h.gateway.Book().Balance("s1"); got.Int64() != 641*testMinimum {
		t.Errorf("balance = %s, want %d", got, 641*testMinimum)
	}
}

// ============================================================================
// Gateway bootstrap
// ============================================================================

func TestGateway_Rejects(t *testing.T) {
	h := newHarness(t, Config{})
	echo := newEcho(t)

	closedLn, _ := net.Listen("tcp", "127.0.0.1:0")
	unreachable := closedLn.Addr().String()
	closedLn.Close()

	tests := []struct {
		name   string
		url    string
		status int
	}{
		{"missing session", h.url("", echo), http.StatusBadRequest},
		{"missing target", h.url("s1", ""), http.StatusBadRequest},
		{"bad port", strings.Replace(h.url("s1", echo), "port=", "port=x", 1), http.StatusBadRequest},
		{"unreachable target", h.url("s1", unreachable), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(tt.url, nil)
			if err == nil {
				t.Fatal("expected the upgrade to be refused")
			}
			if resp == nil || resp.StatusCode != tt.status {
				t.Fatalf("expected status %d, got %+v", tt.status, resp)
			}
		})
	}

	t.Run("not an upgrade", func(t *testing.T) {
		resp, err := http.Get(h.server.URL + "/?session=s1")
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestGateway_RateLimit(t *testing.T) {
	h := newHarness(t, Config{UpgradeRate: 0.001, UpgradeBurst: 1})
	echo := newEcho(t)

	h.dial(t, "s1", echo)
	_, resp, err := websocket.DefaultDialer.Dial(h.url("s2", echo), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v %+v", err, resp)
	}
}

// ============================================================================
// Relay
// ============================================================================

func TestSession_Echo(t *testing.T) {
	h := newHarness(t, Config{})
	ws := h.dial(t, "s1", newEcho(t))

	var value string
	if err := call(t, ws, 1, MethodTip, h.mint(testMinimum)).Decode(&value); err != nil {
		t.Fatalf("net_tip failed: %v", err)
	}

	payload := []byte("hello through the tunnel")
	if err := ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var got []byte
	for len(got) < len(payload) {
		_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		kind, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if kind != websocket.BinaryMessage {
			t.Fatalf("expected binary frame, got %d", kind)
		}
		got = append(got, data...)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("echo = %q, want %q", got, payload)
	}

	// Upload and download are both billed.
	want := int64(testMinimum - 2*len(payload))
	waitFor(t, func() bool { return h.gateway.Book().Balance("s1").Int64() == want })

	n, err := testutil.GatherAndCount(h.metrics.Registry(), "turnpike_tunnel_bytes_total")
	if err != nil || n != 2 {
		t.Errorf("expected upstream and downstream byte series, got %d (%v)", n, err)
	}
}

func TestSession_MetersUntilExhausted(t *testing.T) {
	h := newHarness(t, Config{})
	target := newSink(t)
	ws := h.dial(t, "S1", target.ln.Addr().String())

	// net_get reports the minimum M.
	var p voucher.Params
	if err := call(t, ws, 1, MethodGet).Decode(&p); err != nil {
		t.Fatalf("net_get failed: %v", err)
	}
	_, minimum, err := p.Decode()
	if err != nil {
		t.Fatalf("bad params: %v", err)
	}
	m := minimum.Uint64()

	// A secret worth 2M credits 2M.
	var value string
	if err := call(t, ws, 2, MethodTip, h.mint(2*m)).Decode(&value); err != nil {
		t.Fatalf("net_tip failed: %v", err)
	}
	if value != new(big.Int).SetUint64(2*m).String() {
		t.Fatalf("net_tip = %q, want %d", value, 2*m)
	}

	// 2M bytes drain the balance to exactly zero.
	if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 2*m)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, func() bool { return target.received.Load() == int64(2*m) })
	if got := h.gateway.Book().Balance("S1"); got.Sign() != 0 {
		t.Fatalf("balance = %s, want 0", got)
	}

	// One more byte is refused and both transports close.
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{1}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}

	select {
	case <-target.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("TCP peer was not closed")
	}
	if target.received.Load() != int64(2*m) {
		t.Errorf("the refused byte reached the target: %d bytes", target.received.Load())
	}
	waitFor(t, func() bool { return h.gateway.ActiveSessions() == 0 })
}

func TestSession_BalanceSurvivesReconnect(t *testing.T) {
	h := newHarness(t, Config{})
	echo := newEcho(t)

	ws := h.dial(t, "keep", echo)
	call(t, ws, 1, MethodTip, h.mint(testMinimum))
	ws.Close()
	waitFor(t, func() bool { return h.gateway.ActiveSessions() == 0 })

	ws = h.dial(t, "keep", echo)
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte("ping")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, data, err := ws.ReadMessage(); err != nil || string(data) != "ping" {
		t.Fatalf("expected echo on reconnected session, got %q %v", data, err)
	}
}

func TestSession_UnfundedSessionCloses(t *testing.T) {
	h := newHarness(t, Config{})
	ws := h.dial(t, "broke", newEcho(t))

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte("x")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestGateway_Close(t *testing.T) {
	h := newHarness(t, Config{})
	ws := h.dial(t, "s1", newEcho(t))
	waitFor(t, func() bool { return h.gateway.ActiveSessions() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.gateway.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}

	_, resp, err := websocket.DefaultDialer.Dial(h.url("s2", newEcho(t)), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("closed gateway must refuse with 503, got %v %+v", err, resp)
	}
}
