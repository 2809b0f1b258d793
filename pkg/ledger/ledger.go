package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"mercator-hq/turnpike/pkg/voucher"
)

var (
	// ErrInvalidSecret is returned for a secret of the wrong length.
	ErrInvalidSecret = errors.New("invalid secret")

	// ErrDuplicateSecret is returned when a secret was already accepted.
	ErrDuplicateSecret = errors.New("duplicate secret")

	// ErrBelowMinimum is returned when a voucher is worth less than the
	// current acceptance threshold.
	ErrBelowMinimum = errors.New("value below minimum")

	// ErrEmptyBatch is returned for a batch tip with no secrets.
	ErrEmptyBatch = errors.New("empty secret batch")

	// ErrBatchTooLarge is returned for a batch tip over the per-call limit.
	ErrBatchTooLarge = errors.New("too many secrets")
)

// Defaults used when Config leaves a field zero.
const (
	DefaultMinimumThreshold = 1 << 16
	DefaultBatchTrigger     = 640
	DefaultMaxSecretsPerTip = 10
)

// Config configures a Ledger.
type Config struct {
	// ChainID, Contract and Receiver are fixed for the ledger's lifetime.
	// The nonce is generated by the ledger and rotated on every handoff.
	Context voucher.Context

	// MinimumThreshold is the baseline acceptance threshold. The threshold
	// never falls below it.
	MinimumThreshold *big.Int

	// BatchTrigger hands the pending batch off once it holds more than this
	// many secrets.
	BatchTrigger int

	// MaxSecretsPerTip bounds the batch variant of a tip.
	MaxSecretsPerTip int

	Logger *slog.Logger
}

// Batch is a set of accepted vouchers handed off for settlement. Every secret
// in it verifies under Context.
type Batch struct {
	Context voucher.Context
	Secrets [][]byte
	Total   *big.Int
}

// Len returns the number of secrets in the batch.
func (b *Batch) Len() int {
	return len(b.Secrets)
}

// Acceptance is the outcome of a successful tip.
type Acceptance struct {
	// Value is the credited amount.
	Value *big.Int

	// Accepted is the number of secrets added to the pending batch.
	Accepted int

	// Handoff is non-nil when this tip pushed the pending batch over the
	// trigger. The ledger has already rotated to a fresh context; the caller
	// owns settling Handoff.
	Handoff *Batch
}

// Params is a consistent snapshot of the public acceptance parameters.
type Params struct {
	Context   voucher.Context
	Threshold *big.Int
}

// Stats is a snapshot of ledger counters.
type Stats struct {
	Pending      int
	PendingTotal *big.Int
	Spent        int
	Threshold    *big.Int
	Epoch        uint64
}

// Ledger is the process-wide voucher book: it deduplicates secrets,
// accumulates the pending batch and owns the rotating settlement context and
// the adaptive acceptance threshold.
//
// All state is guarded by one mutex; verification runs under it so a tip is
// always valued against the context it is recorded in.
type Ledger struct {
	verifier voucher.Verifier
	logger   *slog.Logger

	trigger    int
	maxSecrets int
	baseline   *big.Int

	mu        sync.Mutex
	vctx      voucher.Context
	threshold *big.Int
	spent     mapset.Set[string]
	pending   [][]byte
	total     *big.Int
	epoch     uint64
}

// New creates a ledger with a fresh random nonce.
func New(cfg Config, verifier voucher.Verifier) (*Ledger, error) {
	if verifier == nil {
		return nil, fmt.Errorf("verifier cannot be nil")
	}

	baseline := cfg.MinimumThreshold
	if baseline == nil || baseline.Sign() <= 0 {
		baseline = big.NewInt(DefaultMinimumThreshold)
	}
	trigger := cfg.BatchTrigger
	if trigger <= 0 {
		trigger = DefaultBatchTrigger
	}
	maxSecrets := cfg.MaxSecretsPerTip
	if maxSecrets <= 0 {
		maxSecrets = DefaultMaxSecretsPerTip
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	nonce, err := voucher.NewNonce()
	if err != nil {
		return nil, err
	}

	return &Ledger{
		verifier:   verifier,
		logger:     logger.With("component", "ledger"),
		trigger:    trigger,
		maxSecrets: maxSecrets,
		baseline:   new(big.Int).Set(baseline),
		vctx:       cfg.Context.WithNonce(nonce),
		threshold:  new(big.Int).Set(baseline),
		spent:      mapset.NewThreadUnsafeSet[string](),
		total:      new(big.Int),
	}, nil
}

// AcceptSecret values a single secret against the current context and, if it
// meets the threshold, records it.
//
// Wrong length and duplicates are rejected before verification. A secret is
// marked spent only once accepted.
func (l *Ledger) AcceptSecret(secret []byte) (*Acceptance, error) {
	if len(secret) != voucher.SecretSize {
		return nil, ErrInvalidSecret
	}
	key := string(secret)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.spent.Contains(key) {
		return nil, ErrDuplicateSecret
	}

	value, err := l.verifier.VerifySecret(secret, l.vctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if value.Cmp(l.threshold) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, value, l.threshold)
	}

	l.recordLocked([][]byte{secret}, value)

	return &Acceptance{
		Value:    value,
		Accepted: 1,
		Handoff:  l.maybeHandoffLocked(),
	}, nil
}

// AcceptSecrets values up to MaxSecretsPerTip secrets as one batch.
//
// Secrets already spent, and repeats within the call, are skipped silently.
// The remainder is verified together and the combined value must meet the
// threshold.
func (l *Ledger) AcceptSecrets(secrets [][]byte) (*Acceptance, error) {
	if len(secrets) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(secrets) > l.maxSecrets {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(secrets), l.maxSecrets)
	}
	for _, s := range secrets {
		if len(s) != voucher.SecretSize {
			return nil, ErrInvalidSecret
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := mapset.NewThreadUnsafeSetWithSize[string](len(secrets))
	fresh := make([][]byte, 0, len(secrets))
	for _, s := range secrets {
		key := string(s)
		if l.spent.Contains(key) || !seen.Add(key) {
			continue
		}
		fresh = append(fresh, s)
	}

	value := new(big.Int)
	if len(fresh) > 0 {
		concat := make([]byte, 0, len(fresh)*voucher.SecretSize)
		for _, s := range fresh {
			concat = append(concat, s...)
		}
		v, err := l.verifier.VerifySecrets(concat, l.vctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
		}
		value = v
	}
	if value.Cmp(l.threshold) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, value, l.threshold)
	}

	l.recordLocked(fresh, value)

	return &Acceptance{
		Value:    value,
		Accepted: len(fresh),
		Handoff:  l.maybeHandoffLocked(),
	}, nil
}

// TakeBatchAndRotate hands off whatever is pending, even below the trigger,
// and rotates the context. It returns nil if nothing is pending.
func (l *Ledger) TakeBatchAndRotate() (*Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil, nil
	}
	return l.rotateLocked()
}

// DoubleThreshold doubles the acceptance threshold and returns the new value.
func (l *Ledger) DoubleThreshold() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.threshold = new(big.Int).Lsh(l.threshold, 1)
	l.logger.Info("increasing minimum", "minimum", l.threshold.String())
	return new(big.Int).Set(l.threshold)
}

// HalveThreshold halves the acceptance threshold, never below the baseline,
// and returns the new value.
func (l *Ledger) HalveThreshold() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	halved := new(big.Int).Rsh(l.threshold, 1)
	if halved.Cmp(l.baseline) < 0 {
		halved.Set(l.baseline)
	}
	l.threshold = halved
	l.logger.Info("decreasing minimum", "minimum", l.threshold.String())
	return new(big.Int).Set(l.threshold)
}

// Params returns the current context and threshold.
func (l *Ledger) Params() Params {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Params{
		Context:   l.copyContextLocked(),
		Threshold: new(big.Int).Set(l.threshold),
	}
}

// Baseline returns the configured floor of the acceptance threshold.
func (l *Ledger) Baseline() *big.Int {
	return new(big.Int).Set(l.baseline)
}

// Spent reports whether secret has been accepted before.
func (l *Ledger) Spent(secret []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent.Contains(string(secret))
}

// Stats returns a snapshot of the ledger counters.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Pending:      len(l.pending),
		PendingTotal: new(big.Int).Set(l.total),
		Spent:        l.spent.Cardinality(),
		Threshold:    new(big.Int).Set(l.threshold),
		Epoch:        l.epoch,
	}
}

func (l *Ledger) recordLocked(secrets [][]byte, value *big.Int) {
	for _, s := range secrets {
		l.spent.Add(string(s))
		l.pending = append(l.pending, s)
	}
	l.total.Add(l.total, value)
	l.logger.Debug("received value", "value", value.String(), "pending", len(l.pending))
}

func (l *Ledger) maybeHandoffLocked() *Batch {
	if len(l.pending) <= l.trigger {
		return nil
	}
	batch, err := l.rotateLocked()
	if err != nil {
		// Keep accumulating under the current nonce; the next tip retries.
		l.logger.Error("failed to rotate context", "error", err)
		return nil
	}
	return batch
}

// rotateLocked copies the pending batch out, resets it and installs a fresh
// nonce.
func (l *Ledger) rotateLocked() (*Batch, error) {
	nonce, err := voucher.NewNonce()
	if err != nil {
		return nil, err
	}

	batch := &Batch{
		Context: l.copyContextLocked(),
		Secrets: l.pending,
		Total:   l.total,
	}

	l.pending = nil
	l.total = new(big.Int)
	l.vctx = l.vctx.WithNonce(nonce)
	l.epoch++

	l.logger.Info("rotated context",
		"epoch", l.epoch,
		"handed_off", batch.Len(),
		"total", batch.Total.String(),
	)
	return batch, nil
}

func (l *Ledger) copyContextLocked() voucher.Context {
	c := l.vctx
	if c.ChainID != nil {
		c.ChainID = new(big.Int).Set(c.ChainID)
	}
	return c
}
