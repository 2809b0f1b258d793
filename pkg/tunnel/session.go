package tunnel

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"mercator-hq/turnpike/pkg/telemetry/metrics"
)

// ErrInsufficientBalance ends a session whose balance cannot cover a chunk.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Close reasons, also used as metric labels.
const (
	ReasonClient       = "client"
	ReasonUpstream     = "upstream"
	ReasonInsufficient = "insufficient_balance"
	ReasonShutdown     = "shutdown"
)

// Traffic directions.
const (
	DirectionUpstream   = "upstream"
	DirectionDownstream = "downstream"
)

const writeWait = 10 * time.Second

// Session relays one WebSocket peer to one TCP peer, billing every byte
// against the balance of its session id.
type Session struct {
	id      string
	ws      *websocket.Conn
	tcp     net.Conn
	book    *BalanceBook
	rpc     *RPC
	metrics *metrics.Collector
	logger  *slog.Logger
	bufSize int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	reason    atomic.Value
}

func newSession(id string, ws *websocket.Conn, tcp net.Conn, g *Gateway, logger *slog.Logger) *Session {
	return &Session{
		id:      id,
		ws:      ws,
		tcp:     tcp,
		book:    g.book,
		rpc:     g.rpc,
		metrics: g.metrics,
		logger:  logger,
		bufSize: g.cfg.ReadBufferSize,
	}
}

// ID returns the client-chosen session id.
func (s *Session) ID() string { return s.id }

// Reason returns why the session closed, or "" while it is open.
func (s *Session) Reason() string {
	r, _ := s.reason.Load().(string)
	return r
}

// Run relays until either transport closes, the balance runs out or ctx is
// cancelled. Both transports are closed when it returns.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.readWebSocket(gctx) })
	g.Go(func() error { return s.readTCP(gctx) })

	stop := make(chan struct{})
	go func() {
		select {
		case <-gctx.Done():
			s.close(ReasonShutdown)
		case <-stop:
		}
	}()

	err := g.Wait()
	close(stop)
	s.close(ReasonClient)

	if errors.Is(err, ErrInsufficientBalance) {
		return err
	}
	return nil
}

// readWebSocket handles frames from the client: text frames are control
// calls, binary frames are forwarded to the TCP peer.
func (s *Session) readWebSocket(ctx context.Context) error {
	for {
		kind, data, err := s.ws.ReadMessage()
		if err != nil {
			s.close(ReasonClient)
			return err
		}

		switch kind {
		case websocket.TextMessage:
			resp := s.rpc.Handle(ctx, s.id, data)
			if err := s.writeFrame(websocket.TextMessage, resp); err != nil {
				s.close(ReasonClient)
				return err
			}
		case websocket.BinaryMessage:
			if err := s.debit(len(data), DirectionUpstream); err != nil {
				return err
			}
			if _, err := s.tcp.Write(data); err != nil {
				s.close(ReasonUpstream)
				return err
			}
		}
	}
}

// readTCP forwards TCP reads to the client as binary frames.
func (s *Session) readTCP(_ context.Context) error {
	buf := make([]byte, s.bufSize)
	for {
		n, err := s.tcp.Read(buf)
		if n > 0 {
			if derr := s.debit(n, DirectionDownstream); derr != nil {
				return derr
			}
			if werr := s.writeFrame(websocket.BinaryMessage, buf[:n]); werr != nil {
				s.close(ReasonClient)
				return werr
			}
		}
		if err != nil {
			s.close(ReasonUpstream)
			return err
		}
	}
}

// debit charges n bytes. On a deficit the session is closed before the
// chunk is forwarded.
func (s *Session) debit(n int, direction string) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	remaining, ok := s.book.Debit(s.id, n)
	if !ok {
		s.logger.Info("closing session", "reason", ReasonInsufficient,
			"balance", remaining.String(), "chunk", n, "direction", direction)
		s.close(ReasonInsufficient)
		return ErrInsufficientBalance
	}
	s.metrics.RecordBytes(direction, n)
	return nil
}

func (s *Session) writeFrame(kind int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(kind, data)
}

// close records the first reason and tears down both transports.
func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		s.reason.Store(reason)
		s.closed.Store(true)

		code, text := websocket.CloseNormalClosure, ""
		switch reason {
		case ReasonInsufficient:
			code, text = websocket.ClosePolicyViolation, ErrInsufficientBalance.Error()
		case ReasonShutdown:
			code, text = websocket.CloseGoingAway, "shutting down"
		}
		// WriteControl is safe alongside other writers.
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))

		_ = s.ws.Close()
		_ = s.tcp.Close()
	})
}
