package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"mercator-hq/turnpike/pkg/config"
	"mercator-hq/turnpike/pkg/jsonrpc"
	"mercator-hq/turnpike/pkg/semaphore"
	"mercator-hq/turnpike/pkg/telemetry/logging"
	"mercator-hq/turnpike/pkg/telemetry/tracing"
	"mercator-hq/turnpike/pkg/voucher"
)

var (
	// ErrClosed is returned for calls made on, or interrupted by, a closed
	// connection.
	ErrClosed = errors.New("connection closed")

	// ErrMinimumTooHigh is returned when the gateway asks for more per
	// voucher than the client is willing to generate.
	ErrMinimumTooHigh = errors.New("server minimum too high")
)

// maxRejections bounds consecutive rejected tips within one refill. The
// gateway raises its minimum under settlement backpressure, so a rejected tip
// is retried with fresh parameters.
const maxRejections = 3

const writeWait = 10 * time.Second

// Config configures a Socket.
type Config struct {
	// URL is the gateway WebSocket URL.
	URL string

	// Session carries the id and balance. A fresh random session is used
	// if nil.
	Session *Session

	// Hostname and Port name the TCP target.
	Hostname string
	Port     string

	// Generator produces vouchers for refills.
	Generator voucher.Generator

	// MaxMinimum is the largest per-voucher minimum the client accepts.
	MaxMinimum *big.Int

	// LowWatermark triggers a background refill after downloads.
	LowWatermark *big.Int

	// DataBuffer is the capacity of the Data channel.
	DataBuffer int

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Socket is a metered connection to a tunnel gateway.
type Socket struct {
	conn       *websocket.Conn
	session    *Session
	maxMinimum *big.Int
	low        *big.Int
	logger     *slog.Logger

	// refill serializes charge sequences and owns the voucher generator.
	refill *semaphore.Semaphore[voucher.Generator]

	ids       jsonrpc.IDCounter
	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[string]chan *jsonrpc.Response

	data      chan []byte
	refilling atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	err       error
	wg        sync.WaitGroup
}

// Dial connects to the gateway and starts the read loop.
func Dial(ctx context.Context, cfg Config) (*Socket, error) {
	if cfg.Generator == nil {
		return nil, errors.New("generator cannot be nil")
	}
	if cfg.Session == nil {
		cfg.Session = NewSession("")
	}
	if cfg.MaxMinimum == nil {
		cfg.MaxMinimum = new(big.Int).SetUint64(config.DefaultMaxMinimum)
	}
	if cfg.LowWatermark == nil {
		cfg.LowWatermark = new(big.Int).SetUint64(config.DefaultLowWatermark)
	}
	if cfg.DataBuffer <= 0 {
		cfg.DataBuffer = 64
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	target, err := tunnelURL(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	tracing.Inject(ctx, header)
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Socket{
		conn:       conn,
		session:    cfg.Session,
		maxMinimum: cfg.MaxMinimum,
		low:        cfg.LowWatermark,
		logger:     logging.FromContext(logging.WithSession(ctx, cfg.Session.ID()), logger.With("component", "client")),
		refill:     semaphore.NewMutex(cfg.Generator),
		pending:    make(map[string]chan *jsonrpc.Response),
		data:       make(chan []byte, cfg.DataBuffer),
		ctx:        sctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

func tunnelURL(cfg Config) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid gateway url %q: scheme must be ws or wss", cfg.URL)
	}
	q := u.Query()
	q.Set("session", cfg.Session.ID())
	q.Set("hostname", cfg.Hostname)
	q.Set("port", cfg.Port)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Session returns the client session.
func (s *Socket) Session() *Session { return s.session }

// Balance returns the local view of the session balance.
func (s *Socket) Balance() *big.Int { return s.session.Balance() }

// Data delivers binary frames received from the target. It is closed when
// the connection ends. Callers must drain it; the read loop blocks while it
// is full.
func (s *Socket) Data() <-chan []byte { return s.data }

// Done is closed when the connection has ended.
func (s *Socket) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the connection, once Done is closed.
func (s *Socket) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Request makes sure the balance covers price, deducts it and performs the
// call. An error response is returned as a *jsonrpc.Error.
func (s *Socket) Request(ctx context.Context, price *big.Int, method string, params ...any) (json.RawMessage, error) {
	if err := s.charge(ctx, price); err != nil {
		return nil, err
	}
	return s.roundTrip(ctx, method, params...)
}

// Call is Request decoding the result into result.
func (s *Socket) Call(ctx context.Context, price *big.Int, result any, method string, params ...any) error {
	raw, err := s.Request(ctx, price, method, params...)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Send charges len(payload) and forwards payload to the target.
func (s *Socket) Send(ctx context.Context, payload []byte) error {
	if err := s.charge(ctx, big.NewInt(int64(len(payload)))); err != nil {
		return err
	}
	return s.write(websocket.BinaryMessage, payload)
}

// Close sends a close frame, closes the connection and waits for the read
// loop to exit.
func (s *Socket) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()

	s.shutdown(ErrClosed)
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// charge deducts price, refilling first if the balance does not cover it.
func (s *Socket) charge(ctx context.Context, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return nil
	}
	return s.refill.Lock(ctx, func(gen voucher.Generator) error {
		for !s.session.tryDeduct(price) {
			if err := s.topUp(ctx, gen, price); err != nil {
				return err
			}
		}
		return nil
	})
}

// topUp tips vouchers until the balance reaches target. It must run under
// the refill lock.
func (s *Socket) topUp(ctx context.Context, gen voucher.Generator, target *big.Int) error {
	vctx, minimum, err := s.params(ctx)
	if err != nil {
		return err
	}

	rejected := 0
	for s.Balance().Cmp(target) < 0 {
		secret, err := gen.Generate(ctx, minimum, vctx)
		if err != nil {
			return fmt.Errorf("generate voucher: %w", err)
		}

		var value string
		raw, err := s.roundTrip(ctx, "net_tip", voucher.EncodeSecret(secret))
		if err == nil {
			err = json.Unmarshal(raw, &value)
		}
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) && rejected < maxRejections {
			// Most likely the minimum moved or the nonce rotated.
			rejected++
			s.logger.Debug("voucher rejected, refreshing parameters", "error", rpcErr.Message)
			if vctx, minimum, err = s.params(ctx); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("tip voucher: %w", err)
		}

		credited, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return fmt.Errorf("tip voucher: invalid value %q", value)
		}
		rejected = 0
		s.session.credit(credited)
		s.logger.Debug("received value", "value", value, "balance", s.Balance().String())
	}
	return nil
}

// params fetches the current voucher context and minimum.
func (s *Socket) params(ctx context.Context) (voucher.Context, *big.Int, error) {
	raw, err := s.roundTrip(ctx, "net_get")
	if err != nil {
		return voucher.Context{}, nil, fmt.Errorf("net_get: %w", err)
	}
	var p voucher.Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return voucher.Context{}, nil, fmt.Errorf("net_get: %w", err)
	}
	vctx, minimum, err := p.Decode()
	if err != nil {
		return voucher.Context{}, nil, fmt.Errorf("net_get: %w", err)
	}
	if minimum.Cmp(s.maxMinimum) > 0 {
		return voucher.Context{}, nil, fmt.Errorf("%w: %s > %s", ErrMinimumTooHigh, minimum, s.maxMinimum)
	}
	return vctx, minimum, nil
}

// roundTrip sends one call and waits for the response with the same id.
func (s *Socket) roundTrip(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	id := s.ids.Next()
	req, err := jsonrpc.NewRequest(id, method, params...)
	if err != nil {
		return nil, err
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	key := strconv.FormatInt(id, 10)
	ch := make(chan *jsonrpc.Response, 1)

	s.pendingMu.Lock()
	select {
	case <-s.done:
		s.pendingMu.Unlock()
		return nil, s.closedErr()
	default:
	}
	s.pending[key] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, key)
		s.pendingMu.Unlock()
	}()

	if err := s.write(websocket.TextMessage, frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp.Result, resp.Err()
	case <-s.done:
		select {
		case resp := <-ch:
			return resp.Result, resp.Err()
		default:
		}
		return nil, s.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Socket) write(kind int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return s.closedErr()
	default:
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(kind, data); err != nil {
		s.shutdown(err)
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (s *Socket) closedErr() error {
	if s.err == nil || errors.Is(s.err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, s.err)
}

// readLoop is the only reader. It resolves pending calls and forwards
// binary frames to Data.
func (s *Socket) readLoop() {
	defer s.wg.Done()
	defer close(s.data)

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(err)
			return
		}

		switch kind {
		case websocket.TextMessage:
			s.resolve(data)
		case websocket.BinaryMessage:
			remaining := s.session.debit(len(data))
			if remaining.Cmp(s.low) < 0 {
				s.refillInBackground()
			}
			select {
			case s.data <- data:
			case <-s.done:
				return
			}
		}
	}
}

func (s *Socket) resolve(frame []byte) {
	resp, err := jsonrpc.ParseResponse(frame)
	if err != nil {
		s.logger.Warn("dropping malformed response", "error", err)
		return
	}
	key := jsonrpc.IDKey(resp.ID)

	s.pendingMu.Lock()
	ch, ok := s.pending[key]
	delete(s.pending, key)
	s.pendingMu.Unlock()

	if !ok {
		s.logger.Debug("dropping response for unknown id", "id", key)
		return
	}
	ch <- resp
}

// refillInBackground tops the balance back up after downloads. At most one
// runs at a time.
func (s *Socket) refillInBackground() {
	if !s.refilling.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.refilling.Store(false)

		target := new(big.Int).Lsh(s.low, 1)
		err := s.refill.Lock(s.ctx, func(gen voucher.Generator) error {
			return s.topUp(s.ctx, gen, target)
		})
		if err != nil && s.ctx.Err() == nil {
			s.logger.Warn("background refill failed", "error", logging.Cause(err))
		}
	}()
}

// shutdown records the first terminal error and wakes every waiter.
func (s *Socket) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.pendingMu.Lock()
		s.err = err
		close(s.done)
		s.pendingMu.Unlock()
		s.cancel()
	})
}
