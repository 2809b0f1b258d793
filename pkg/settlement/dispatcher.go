package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/turnpike/pkg/ledger"
	"mercator-hq/turnpike/pkg/ledger/storage"
	"mercator-hq/turnpike/pkg/telemetry/logging"
	"mercator-hq/turnpike/pkg/telemetry/metrics"
	"mercator-hq/turnpike/pkg/voucher"
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// ErrorBuffer is the capacity of the error channel.
	// Default: 16
	ErrorBuffer int

	// StoreTimeout bounds each batch record write.
	// Default: 5 seconds
	StoreTimeout time.Duration

	// OnError is called by the supervisor for every failed batch, after it
	// has been logged and recorded.
	OnError func(*Error)

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Dispatcher settles handed-off batches in the background.
type Dispatcher struct {
	coordinator *Coordinator
	store       storage.Backend
	config      DispatcherConfig
	logger      *slog.Logger
	metrics     *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	errCh          chan *Error
	supervisorDone chan struct{}

	mu       sync.Mutex
	closed   bool
	inFlight int
}

// NewDispatcher creates a dispatcher and starts its error supervisor.
func NewDispatcher(coordinator *Coordinator, store storage.Backend, cfg DispatcherConfig) *Dispatcher {
	if cfg.ErrorBuffer <= 0 {
		cfg.ErrorBuffer = 16
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = storage.NewMemoryBackend()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		coordinator:    coordinator,
		store:          store,
		config:         cfg,
		logger:         logger.With("component", "settlement.dispatcher"),
		metrics:        cfg.Metrics,
		ctx:            ctx,
		cancel:         cancel,
		errCh:          make(chan *Error, cfg.ErrorBuffer),
		supervisorDone: make(chan struct{}),
	}

	go d.supervise()

	return d
}

// Dispatch records batch as pending and starts settling it. It returns the
// batch record id without waiting for the chain.
func (d *Dispatcher) Dispatch(batch *ledger.Batch) (string, error) {
	if batch == nil || batch.Len() == 0 {
		return "", ledger.ErrEmptyBatch
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrClosed
	}
	d.inFlight++
	d.wg.Add(1)
	d.mu.Unlock()

	rec := newRecord(batch)
	d.save(rec)

	d.logger.Info("batch handed off",
		"batch_id", rec.ID,
		"nonce", rec.Nonce,
		"secrets", batch.Len(),
		"total", rec.Total,
	)

	go d.run(batch, rec)

	return rec.ID, nil
}

// InFlight returns the number of batches not yet finished.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// Running reports whether the dispatcher accepts batches.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

// Close stops accepting batches and waits for in-flight settlements. If ctx
// is done first, the remaining submissions are cancelled and awaited; their
// records are marked failed.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pending := d.inFlight
	d.mu.Unlock()

	d.logger.Info("shutting down settlement dispatcher", "in_flight", pending)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("cancelling in-flight settlements", "in_flight", d.InFlight())
		d.cancel()
		<-done
		err = ctx.Err()
	}
	d.cancel()

	close(d.errCh)
	<-d.supervisorDone

	d.logger.Info("settlement dispatcher shut down complete")
	return err
}

func (d *Dispatcher) run(batch *ledger.Batch, rec *storage.BatchRecord) {
	start := time.Now()
	outcome := "failed"
	d.metrics.SettlementStarted()

	defer func() {
		if r := recover(); r != nil {
			d.fail(rec, fmt.Errorf("panic: %v", r))
		}
		d.metrics.SettlementFinished(outcome, time.Since(start))

		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
		d.wg.Done()
	}()

	result, err := d.coordinator.Submit(d.ctx, batch, func(a Attempt) {
		rec.Status = storage.StatusSubmitted
		rec.TxHash = a.TxHash.Hex()
		rec.Attempts = a.Number
		d.save(rec)
	})
	if err != nil {
		if d.ctx.Err() != nil {
			outcome = "cancelled"
		}
		d.fail(rec, err)
		return
	}

	outcome = "settled"
	rec.Status = storage.StatusSettled
	rec.TxHash = result.TxHash.Hex()
	rec.Attempts = result.Attempts
	rec.LastError = ""
	d.save(rec)

	d.logger.Info("batch settled",
		"batch_id", rec.ID,
		"tx", rec.TxHash,
		"attempts", result.Attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (d *Dispatcher) fail(rec *storage.BatchRecord, err error) {
	rec.Status = storage.StatusFailed
	rec.LastError = logging.Cause(err)
	d.save(rec)

	d.errCh <- &Error{BatchID: rec.ID, Err: err}
}

// supervise drains the error channel until Close.
func (d *Dispatcher) supervise() {
	defer close(d.supervisorDone)

	for serr := range d.errCh {
		d.logger.Error("batch settlement failed",
			"batch_id", serr.BatchID,
			"error", serr.Err,
			"cause", logging.Cause(serr.Err),
		)
		if d.config.OnError != nil {
			d.config.OnError(serr)
		}
	}
}

func (d *Dispatcher) save(rec *storage.BatchRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.StoreTimeout)
	defer cancel()

	rec.UpdatedAt = time.Now().UTC()
	if err := d.store.Save(ctx, rec); err != nil {
		d.logger.Error("failed to store batch record",
			"batch_id", rec.ID,
			"status", rec.Status,
			"error", err,
		)
	}
}

func newRecord(batch *ledger.Batch) *storage.BatchRecord {
	secrets := make([]string, len(batch.Secrets))
	for i, s := range batch.Secrets {
		secrets[i] = voucher.EncodeSecret(s)
	}

	now := time.Now().UTC()
	return &storage.BatchRecord{
		ID:        uuid.New().String(),
		Nonce:     voucher.EncodeWord(batch.Context.Nonce[:]),
		Secrets:   secrets,
		Total:     batch.Total.String(),
		Status:    storage.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
