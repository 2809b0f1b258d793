package ledger

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"mercator-hq/turnpike/pkg/voucher"
)

var oracle = voucher.NewFixedOracle()

func newTestLedger(t *testing.T, cfg Config) *Ledger {
	t.Helper()
	cfg.Context = voucher.Context{
		ChainID:  big.NewInt(100),
		Contract: common.HexToAddress("0x0a4d5EFEa910Ea5E39be428A3d57B80BFAbA52f4"),
		Receiver: common.HexToAddress("0x00000000000000000000000000000000000000bb"),
	}
	l, err := New(cfg, oracle)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l
}

func mint(l *Ledger, value uint64) []byte {
	return oracle.Mint(value, l.Params().Context)
}

// ============================================================================
// Single secret
// ============================================================================

func TestAcceptSecret(t *testing.T) {
	l := newTestLedger(t, Config{})

	acc, err := l.AcceptSecret(mint(l, 70000))
	if err != nil {
		t.Fatalf("AcceptSecret failed: %v", err)
	}
	if acc.Value.Int64() != 70000 {
		t.Errorf("expected value 70000, got %s", acc.Value)
	}
	if acc.Handoff != nil {
		t.Error("expected no handoff for a single secret")
	}

	stats := l.Stats()
	if stats.Pending != 1 || stats.PendingTotal.Int64() != 70000 || stats.Spent != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestAcceptSecret_Duplicate(t *testing.T) {
	l := newTestLedger(t, Config{})
	secret := mint(l, DefaultMinimumThreshold)

	if _, err := l.AcceptSecret(secret); err != nil {
		t.Fatalf("first AcceptSecret failed: %v", err)
	}
	if _, err := l.AcceptSecret(secret); !errors.Is(err, ErrDuplicateSecret) {
		t.Fatalf("expected ErrDuplicateSecret, got %v", err)
	}
	if got := l.Stats().PendingTotal.Int64(); got != DefaultMinimumThreshold {
		t.Errorf("duplicate must not add value, total=%d", got)
	}
}

func TestAcceptSecret_WrongLength(t *testing.T) {
	l := newTestLedger(t, Config{})
	if _, err := l.AcceptSecret(make([]byte, 31)); !errors.Is(err, ErrInvalidSecret) {
		t.Errorf("expected ErrInvalidSecret, got %v", err)
	}
}

func TestAcceptSecret_BelowMinimum(t *testing.T) {
	l := newTestLedger(t, Config{})
	secret := mint(l, DefaultMinimumThreshold-1)

	if _, err := l.AcceptSecret(secret); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if l.Spent(secret) {
		t.Error("rejected secret must not be marked spent")
	}
	if l.Stats().Pending != 0 {
		t.Error("rejected secret must not be pending")
	}
}

// ============================================================================
// Batch of secrets
// ============================================================================

func TestAcceptSecrets_Limits(t *testing.T) {
	l := newTestLedger(t, Config{})

	if _, err := l.AcceptSecrets(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}

	eleven := make([][]byte, 11)
	for i := range eleven {
		eleven[i] = mint(l, 1)
	}
	if _, err := l.AcceptSecrets(eleven); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestAcceptSecrets_SumsAndSkipsDuplicates(t *testing.T) {
	l := newTestLedger(t, Config{})

	a := mint(l, 40000)
	b := mint(l, 30000)
	if _, err := l.AcceptSecret(a); err == nil {
		t.Fatal("expected 40000 alone to be below minimum")
	}

	acc, err := l.AcceptSecrets([][]byte{a, b, b})
	if err != nil {
		t.Fatalf("AcceptSecrets failed: %v", err)
	}
	if acc.Value.Int64() != 70000 {
		t.Errorf("expected 70000, got %s", acc.Value)
	}
	if acc.Accepted != 2 {
		t.Errorf("expected 2 accepted, got %d", acc.Accepted)
	}

	// Resubmitting spent secrets values to zero and is below the minimum.
	if _, err := l.AcceptSecrets([][]byte{a, b}); !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("expected ErrBelowMinimum for spent batch, got %v", err)
	}
}

// ============================================================================
// Rotation
// ============================================================================

func TestHandoffAfterTrigger(t *testing.T) {
	l := newTestLedger(t, Config{})
	before := l.Params().Context

	var old []byte
	for i := 0; i < DefaultBatchTrigger; i++ {
		secret := mint(l, DefaultMinimumThreshold)
		if i == 0 {
			old = secret
		}
		acc, err := l.AcceptSecret(secret)
		if err != nil {
			t.Fatalf("AcceptSecret %d failed: %v", i, err)
		}
		if acc.Handoff != nil {
			t.Fatalf("unexpected handoff at %d", i)
		}
	}

	acc, err := l.AcceptSecret(mint(l, DefaultMinimumThreshold))
	if err != nil {
		t.Fatalf("641st AcceptSecret failed: %v", err)
	}
	if acc.Handoff == nil {
		t.Fatal("expected handoff after the 641st voucher")
	}
	if acc.Handoff.Len() != DefaultBatchTrigger+1 {
		t.Errorf("expected %d secrets in batch, got %d", DefaultBatchTrigger+1, acc.Handoff.Len())
	}
	want := new(big.Int).Mul(big.NewInt(DefaultMinimumThreshold), big.NewInt(DefaultBatchTrigger+1))
	if acc.Handoff.Total.Cmp(want) != 0 {
		t.Errorf("expected batch total %s, got %s", want, acc.Handoff.Total)
	}
	if acc.Handoff.Context.Nonce != before.Nonce {
		t.Error("handed-off batch must carry the nonce it was accumulated under")
	}

	after := l.Params().Context
	if after.Nonce == before.Nonce {
		t.Error("expected nonce to rotate")
	}
	if stats := l.Stats(); stats.Pending != 0 || stats.PendingTotal.Sign() != 0 || stats.Epoch != 1 {
		t.Errorf("expected empty pending batch after rotation, got %+v", stats)
	}

	// A voucher minted for the old nonce, even an unused one, is worthless now.
	stale := oracle.Mint(DefaultMinimumThreshold, before)
	if _, err := l.AcceptSecret(stale); !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("expected stale voucher to be rejected, got %v", err)
	}
	if _, err := l.AcceptSecret(old); !errors.Is(err, ErrDuplicateSecret) {
		t.Errorf("expected spent voucher to stay spent across epochs, got %v", err)
	}
}

func TestTakeBatchAndRotate(t *testing.T) {
	l := newTestLedger(t, Config{})

	batch, err := l.TakeBatchAndRotate()
	if err != nil || batch != nil {
		t.Fatalf("expected nil batch on empty ledger, got %v %v", batch, err)
	}

	if _, err := l.AcceptSecret(mint(l, 70000)); err != nil {
		t.Fatalf("AcceptSecret failed: %v", err)
	}
	batch, err = l.TakeBatchAndRotate()
	if err != nil {
		t.Fatalf("TakeBatchAndRotate failed: %v", err)
	}
	if batch.Len() != 1 || batch.Total.Int64() != 70000 {
		t.Errorf("unexpected batch %+v", batch)
	}
}

func TestConcurrentAccept_PendingTotalMatches(t *testing.T) {
	l := newTestLedger(t, Config{BatchTrigger: 50})

	var (
		mu       sync.Mutex
		credited = new(big.Int)
		batched  = new(big.Int)
		wg       sync.WaitGroup
	)

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				acc, err := l.AcceptSecret(mint(l, DefaultMinimumThreshold+uint64(i)))
				if err != nil {
					// The nonce may rotate between mint and accept.
					continue
				}
				mu.Lock()
				credited.Add(credited, acc.Value)
				if acc.Handoff != nil {
					batched.Add(batched, acc.Handoff.Total)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sum := new(big.Int).Add(batched, l.Stats().PendingTotal)
	if sum.Cmp(credited) != 0 {
		t.Errorf("handed-off plus pending %s must equal credited %s", sum, credited)
	}
}

// ============================================================================
// Threshold
// ============================================================================

func TestThreshold_DoubleAndHalve(t *testing.T) {
	l := newTestLedger(t, Config{MinimumThreshold: big.NewInt(1000)})

	if got := l.DoubleThreshold(); got.Int64() != 2000 {
		t.Errorf("expected 2000, got %s", got)
	}
	if got := l.DoubleThreshold(); got.Int64() != 4000 {
		t.Errorf("expected 4000, got %s", got)
	}
	if got := l.HalveThreshold(); got.Int64() != 2000 {
		t.Errorf("expected 2000, got %s", got)
	}
	l.HalveThreshold()
	if got := l.HalveThreshold(); got.Int64() != 1000 {
		t.Errorf("threshold must not drop below baseline, got %s", got)
	}
	if got := l.Params().Threshold.Int64(); got != 1000 {
		t.Errorf("expected params threshold 1000, got %d", got)
	}
}

func TestThreshold_AppliesToTips(t *testing.T) {
	l := newTestLedger(t, Config{MinimumThreshold: big.NewInt(1000)})
	l.DoubleThreshold()

	if _, err := l.AcceptSecret(mint(l, 1500)); !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("expected doubled threshold to reject 1500, got %v", err)
	}
	if _, err := l.AcceptSecret(mint(l, 2000)); err != nil {
		t.Errorf("expected 2000 to be accepted, got %v", err)
	}
}
