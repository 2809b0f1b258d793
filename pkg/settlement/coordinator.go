package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/turnpike/pkg/chain"
	"mercator-hq/turnpike/pkg/ledger"
	"mercator-hq/turnpike/pkg/semaphore"
	"mercator-hq/turnpike/pkg/telemetry/metrics"
	"mercator-hq/turnpike/pkg/telemetry/tracing"
	"mercator-hq/turnpike/pkg/voucher"
)

// DefaultConfirmationTimeout bounds one submit-and-wait attempt.
const DefaultConfirmationTimeout = 15 * time.Second

// Thresholds is the part of the ledger the coordinator adjusts.
type Thresholds interface {
	DoubleThreshold() *big.Int
	HalveThreshold() *big.Int
}

// Config configures a Coordinator.
type Config struct {
	// ConfirmationTimeout bounds each attempt. Zero means
	// DefaultConfirmationTimeout.
	ConfirmationTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Attempt describes one broadcast of the claim transaction.
type Attempt struct {
	Number   int
	Sequence uint64
	TxHash   common.Hash
}

// Result is a confirmed claim.
type Result struct {
	TxHash   common.Hash
	Receipt  *types.Receipt
	Attempts int
}

// Coordinator serializes claim submissions.
type Coordinator struct {
	mu         *semaphore.Semaphore[chain.Client]
	thresholds Thresholds
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// NewCoordinator creates a coordinator that submits through client and
// applies backpressure to thresholds.
func NewCoordinator(client chain.Client, thresholds Thresholds, cfg Config) (*Coordinator, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client cannot be nil")
	}
	if thresholds == nil {
		return nil, fmt.Errorf("thresholds cannot be nil")
	}

	timeout := cfg.ConfirmationTimeout
	if timeout <= 0 {
		timeout = DefaultConfirmationTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		mu:         semaphore.NewMutex(client),
		thresholds: thresholds,
		timeout:    timeout,
		logger:     logger.With("component", "settlement"),
		metrics:    cfg.Metrics,
	}, nil
}

// Busy reports whether a submission currently holds the chain client.
func (c *Coordinator) Busy() bool {
	return c.mu.Locked()
}

// Submit settles batch and blocks until the claim is mined, a non-timeout
// error occurs, or ctx is done. onAttempt, if non-nil, is called after every
// successful broadcast.
//
// The batch is claimed under the nonce it was accumulated with, never the
// ledger's current one.
func (c *Coordinator) Submit(ctx context.Context, batch *ledger.Batch, onAttempt func(Attempt)) (res *Result, err error) {
	if batch == nil || batch.Len() == 0 {
		return nil, ledger.ErrEmptyBatch
	}

	ctx, span := tracing.Start(ctx, "settlement.submit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.BatchAttributes(batch.Len(), batch.Total, voucher.EncodeWord(batch.Context.Nonce[:]))...))
	defer func() {
		if res != nil {
			span.SetAttributes(
				attribute.String(tracing.AttrTxHash, res.TxHash.Hex()),
				attribute.Int(tracing.AttrAttempt, res.Attempts))
		}
		tracing.SetStatus(span, err)
		span.End()
	}()

	contended := c.mu.Locked()
	if contended {
		c.thresholds.DoubleThreshold()
		span.AddEvent("queued")
		c.metrics.RecordBackpressure()
	}

	var result *Result
	err = c.mu.Lock(ctx, func(client chain.Client) error {
		if contended {
			c.thresholds.HalveThreshold()
			contended = false
		}

		seq, err := client.SequenceNumber(ctx)
		if err != nil {
			return fmt.Errorf("failed to get sequence number: %w", err)
		}

		for n := 1; ; n++ {
			result, err = c.attempt(ctx, client, batch, seq, n, onAttempt)
			if err == nil {
				return nil
			}
			if errors.Is(err, ErrTimeout) {
				c.logger.Warn("claim not confirmed, resubmitting",
					"sequence", seq,
					"attempt", n,
					"timeout", c.timeout,
				)
				continue
			}
			return err
		}
	})
	if contended {
		// Never admitted; undo the doubling so the threshold stays balanced.
		c.thresholds.HalveThreshold()
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Coordinator) attempt(ctx context.Context, client chain.Client, batch *ledger.Batch, seq uint64, n int, onAttempt func(Attempt)) (*Result, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.metrics.RecordSettlementAttempt()
	c.logger.Info("claiming",
		"nonce", voucher.EncodeWord(batch.Context.Nonce[:]),
		"secrets", batch.Len(),
		"total", batch.Total.String(),
		"sequence", seq,
		"attempt", n,
	)

	tx, err := client.SubmitClaim(actx, batch.Context.Nonce, batch.Secrets, seq)
	if err != nil {
		return nil, c.classify(ctx, actx, fmt.Errorf("failed to submit claim: %w", err))
	}

	trace.SpanFromContext(ctx).AddEvent("broadcast",
		trace.WithAttributes(tracing.AttemptAttributes(n, seq, tx.Hash().Hex())...))
	if onAttempt != nil {
		onAttempt(Attempt{Number: n, Sequence: seq, TxHash: tx.Hash()})
	}

	c.logger.Info("waiting for transaction", "tx", tx.Hash().Hex(), "attempt", n)
	receipt, err := tx.Wait(actx)
	if err != nil {
		return nil, c.classify(ctx, actx, fmt.Errorf("failed waiting for %s: %w", tx.Hash().Hex(), err))
	}

	c.logger.Info("claim confirmed",
		"tx", tx.Hash().Hex(),
		"block", receipt.BlockNumber,
		"gas_used", receipt.GasUsed,
	)
	return &Result{TxHash: tx.Hash(), Receipt: receipt, Attempts: n}, nil
}

// classify turns an expired attempt deadline into ErrTimeout. Cancellation
// of the parent context is returned as is and stops the loop.
func (c *Coordinator) classify(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		return err
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, c.timeout, err)
	}
	return err
}
