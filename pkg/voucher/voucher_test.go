package voucher

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testContext(t *testing.T) Context {
	t.Helper()
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce failed: %v", err)
	}
	return Context{
		ChainID:  big.NewInt(100),
		Contract: common.HexToAddress("0x0a4d5EFEa910Ea5E39be428A3d57B80BFAbA52f4"),
		Receiver: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Nonce:    nonce,
	}
}

// ============================================================================
// Context encoding
// ============================================================================

func TestContext_Bytes(t *testing.T) {
	vctx := testContext(t)
	b := vctx.Bytes()

	if len(b) != 128 {
		t.Fatalf("expected 128 bytes, got %d", len(b))
	}
	if b[31] != 100 {
		t.Errorf("expected chain id in last byte of first word, got %d", b[31])
	}
	if !strings.EqualFold(common.BytesToAddress(b[32:64]).Hex(), vctx.Contract.Hex()) {
		t.Errorf("contract word mismatch")
	}
	if [32]byte(b[96:128]) != vctx.Nonce {
		t.Errorf("nonce word mismatch")
	}
}

func TestParams_RoundTrip(t *testing.T) {
	vctx := testContext(t)
	p := NewParams(vctx, big.NewInt(65536))

	for name, field := range map[string]string{
		"chainId":          p.ChainID,
		"nonce":            p.Nonce,
		"minimumThreshold": p.MinimumThreshold,
	} {
		if len(field) != 66 {
			t.Errorf("%s: expected 66 chars, got %d (%s)", name, len(field), field)
		}
	}
	if len(p.ContractAddress) != 42 || len(p.ReceiverAddress) != 42 {
		t.Errorf("expected 42-char addresses, got %q %q", p.ContractAddress, p.ReceiverAddress)
	}
	if p.MinimumThreshold != "0x"+strings.Repeat("0", 59)+"10000" {
		t.Errorf("unexpected minimum encoding %s", p.MinimumThreshold)
	}

	got, minimum, err := p.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.ChainID.Cmp(vctx.ChainID) != 0 || got.Contract != vctx.Contract ||
		got.Receiver != vctx.Receiver || got.Nonce != vctx.Nonce {
		t.Errorf("decoded context mismatch: %+v", got)
	}
	if minimum.Int64() != 65536 {
		t.Errorf("expected minimum 65536, got %s", minimum)
	}
}

func TestDecodeSecret(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid", "0x" + strings.Repeat("ab", 32), nil},
		{"uppercase", "0x" + strings.Repeat("AB", 32), nil},
		{"too short", "0x" + strings.Repeat("ab", 31), ErrSecretLength},
		{"too long", "0x" + strings.Repeat("ab", 33), ErrSecretLength},
		{"no prefix", strings.Repeat("ab", 33), ErrMalformedHex},
		{"not hex", "0x" + strings.Repeat("zz", 32), ErrMalformedHex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := DecodeSecret(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(b) != SecretSize {
				t.Errorf("expected %d bytes, got %d", SecretSize, len(b))
			}
		})
	}
}

// ============================================================================
// Keccak oracle
// ============================================================================

func TestKeccakOracle_GenerateMeetsMinimum(t *testing.T) {
	o := NewKeccakOracle()
	vctx := testContext(t)
	minimum := big.NewInt(1024)

	secret, err := o.Generate(context.Background(), minimum, vctx)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	v, err := o.VerifySecret(secret, vctx)
	if err != nil {
		t.Fatalf("VerifySecret failed: %v", err)
	}
	if v.Cmp(minimum) < 0 {
		t.Errorf("expected value >= %s, got %s", minimum, v)
	}
}

func TestKeccakOracle_ContextBound(t *testing.T) {
	o := NewKeccakOracle()
	vctx := testContext(t)

	secret, err := o.Generate(context.Background(), big.NewInt(4096), vctx)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	v1, _ := o.VerifySecret(secret, vctx)

	other := vctx
	other.Nonce[0] ^= 0xff
	v2, _ := o.VerifySecret(secret, other)

	if v1.Cmp(v2) == 0 {
		t.Errorf("expected value to depend on nonce, both %s", v1)
	}
}

func TestKeccakOracle_VerifySecretsSums(t *testing.T) {
	o := NewKeccakOracle()
	vctx := testContext(t)

	a, _ := o.Generate(context.Background(), big.NewInt(16), vctx)
	b, _ := o.Generate(context.Background(), big.NewInt(16), vctx)
	va, _ := o.VerifySecret(a, vctx)
	vb, _ := o.VerifySecret(b, vctx)

	total, err := o.VerifySecrets(append(append([]byte{}, a...), b...), vctx)
	if err != nil {
		t.Fatalf("VerifySecrets failed: %v", err)
	}
	if want := new(big.Int).Add(va, vb); total.Cmp(want) != 0 {
		t.Errorf("expected %s, got %s", want, total)
	}
}

func TestKeccakOracle_BadLength(t *testing.T) {
	o := NewKeccakOracle()
	vctx := testContext(t)

	if _, err := o.VerifySecret(make([]byte, 31), vctx); !errors.Is(err, ErrSecretLength) {
		t.Errorf("expected ErrSecretLength, got %v", err)
	}
	if _, err := o.VerifySecrets(make([]byte, 40), vctx); !errors.Is(err, ErrSecretLength) {
		t.Errorf("expected ErrSecretLength, got %v", err)
	}
}

func TestKeccakOracle_GenerateCancelled(t *testing.T) {
	o := NewKeccakOracle()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An astronomically high minimum never terminates on its own.
	minimum := new(big.Int).Lsh(big.NewInt(1), 200)
	if _, err := o.Generate(ctx, minimum, testContext(t)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// ============================================================================
// Fixed oracle
// ============================================================================

func TestFixedOracle(t *testing.T) {
	o := NewFixedOracle()
	vctx := testContext(t)

	secret := o.Mint(70000, vctx)
	v, err := o.VerifySecret(secret, vctx)
	if err != nil {
		t.Fatalf("VerifySecret failed: %v", err)
	}
	if v.Int64() != 70000 {
		t.Errorf("expected 70000, got %s", v)
	}

	rotated := vctx
	rotated.Nonce[0] ^= 0xff
	v, _ = o.VerifySecret(secret, rotated)
	if v.Sign() != 0 {
		t.Errorf("expected zero under a rotated nonce, got %s", v)
	}
}
