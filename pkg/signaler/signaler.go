// Package signaler keeps a set of named signals alive on a gateway across
// reconnects.
//
// Each signal is an id with parameters, delivered as a priced net_signal
// call. The Signaler remembers the latest parameters per id and replays all
// of them whenever a new connection comes up. Each connection has a single
// ordered send queue, so updates to one id reach the gateway in call order
// and the gateway side converges on the caller's last intent.
package signaler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"mercator-hq/turnpike/pkg/client"
	"mercator-hq/turnpike/pkg/config"
	"mercator-hq/turnpike/pkg/semaphore"
	"mercator-hq/turnpike/pkg/telemetry/logging"
)

// MethodSignal is the control method carrying a signal.
const MethodSignal = "net_signal"

// Conn is a metered control connection. *client.Socket implements it.
type Conn interface {
	Request(ctx context.Context, price *big.Int, method string, params ...any) (json.RawMessage, error)
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens a new connection.
type DialFunc func(ctx context.Context) (Conn, error)

// ClientDialer dials client sockets that all share one client.Session, so
// credit left on the gateway survives a reconnect.
func ClientDialer(cfg client.Config) DialFunc {
	if cfg.Session == nil {
		cfg.Session = client.NewSession("")
	}
	return func(ctx context.Context) (Conn, error) {
		return client.Dial(ctx, cfg)
	}
}

// Config configures a Signaler.
type Config struct {
	// Price is paid per net_signal call. Defaults to 2^20.
	Price *big.Int

	// Backoff is the wait after a failed connect. Defaults to 15s.
	Backoff time.Duration

	Logger *slog.Logger
}

type state struct {
	signals map[string]any
	active  *outbox
}

type delivery struct {
	id     string
	params any
}

// outbox is the ordered send queue of one connection. It is only touched
// while holding the Signaler's mutex.
type outbox struct {
	conn    Conn
	pending []delivery
	wake    chan struct{}
}

func newOutbox(conn Conn) *outbox {
	return &outbox{conn: conn, wake: make(chan struct{}, 1)}
}

func (o *outbox) push(id string, params any) {
	o.pending = append(o.pending, delivery{id: id, params: params})
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Signaler maintains signals over a reconnecting connection.
type Signaler struct {
	dial    DialFunc
	price   *big.Int
	backoff time.Duration
	logger  *slog.Logger

	mu *semaphore.Semaphore[*state]
	wg sync.WaitGroup
}

// New creates a Signaler. Call Run to start connecting.
func New(dial DialFunc, cfg Config) *Signaler {
	if cfg.Price == nil {
		cfg.Price = new(big.Int).SetUint64(config.DefaultSignalPrice)
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = config.DefaultReconnectBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Signaler{
		dial:    dial,
		price:   cfg.Price,
		backoff: cfg.Backoff,
		logger:  logger.With("component", "signaler"),
		mu:      semaphore.NewMutex(&state{signals: make(map[string]any)}),
	}
}

// Run connects, replays every stored signal, waits for the connection to
// end and reconnects, until ctx is cancelled. It returns ctx.Err().
func (s *Signaler) Run(ctx context.Context) error {
	defer s.wg.Wait()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("failed to connect", "error", logging.Cause(err), "retry_in", s.backoff.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff):
			}
			continue
		}

		out := newOutbox(conn)
		var replayed int
		err = s.mu.Lock(ctx, func(st *state) error {
			st.active = out
			for id, params := range st.signals {
				out.push(id, params)
			}
			replayed = len(st.signals)
			return nil
		})
		if err != nil {
			_ = conn.Close()
			return err
		}
		s.logger.Info("connected", "replayed", replayed)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.drain(ctx, out)
		}()

		select {
		case <-conn.Done():
		case <-ctx.Done():
		}

		_ = s.mu.Lock(context.Background(), func(st *state) error {
			if st.active == out {
				st.active = nil
			}
			return nil
		})
		_ = conn.Close()

		if err := ctx.Err(); err != nil {
			return err
		}
		s.logger.Info("disconnected, reconnecting")
	}
}

// Signal stores params under id, replacing any earlier value, and forwards
// it if a connection is up. Otherwise it is delivered on the next connect.
func (s *Signaler) Signal(ctx context.Context, id string, params any) error {
	if id == "" {
		return errors.New("signal id cannot be empty")
	}
	return s.mu.Lock(ctx, func(st *state) error {
		st.signals[id] = params
		if st.active != nil {
			st.active.push(id, params)
		}
		return nil
	})
}

// Connected reports whether a connection is currently installed.
func (s *Signaler) Connected() bool {
	var connected bool
	_ = s.mu.Lock(context.Background(), func(st *state) error {
		connected = st.active != nil
		return nil
	})
	return connected
}

// Signals returns a copy of the stored signals.
func (s *Signaler) Signals() map[string]any {
	out := make(map[string]any)
	_ = s.mu.Lock(context.Background(), func(st *state) error {
		for id, p := range st.signals {
			out[id] = p
		}
		return nil
	})
	return out
}

// drain sends queued signals one at a time, in the order they were queued,
// until the connection ends.
func (s *Signaler) drain(ctx context.Context, out *outbox) {
	for {
		var batch []delivery
		_ = s.mu.Lock(context.Background(), func(*state) error {
			batch, out.pending = out.pending, nil
			return nil
		})

		for _, d := range batch {
			if ctx.Err() != nil {
				return
			}
			if _, err := out.conn.Request(ctx, s.price, MethodSignal, d.id, d.params); err != nil {
				s.logger.Warn("failed to send signal", "signal", d.id, "error", logging.Cause(err))
			}
		}

		select {
		case <-out.wake:
		case <-out.conn.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}
