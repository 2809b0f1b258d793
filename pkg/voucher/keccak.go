package voucher

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// checkEvery is how many candidate secrets Generate tries between context checks.
const checkEvery = 1024

// KeccakOracle values a secret as floor((2^256-1) / keccak256(context || secret)).
// The expected number of attempts to find a secret worth at least v is v.
type KeccakOracle struct{}

// NewKeccakOracle returns the production oracle.
func NewKeccakOracle() *KeccakOracle {
	return &KeccakOracle{}
}

// VerifySecret returns the value of a single secret.
func (o *KeccakOracle) VerifySecret(secret []byte, vctx Context) (*big.Int, error) {
	if len(secret) != SecretSize {
		return nil, ErrSecretLength
	}
	return o.value(vctx.Bytes(), secret).ToBig(), nil
}

// VerifySecrets returns the sum of the values of concatenated secrets.
func (o *KeccakOracle) VerifySecrets(secrets []byte, vctx Context) (*big.Int, error) {
	if len(secrets) == 0 || len(secrets)%SecretSize != 0 {
		return nil, ErrSecretLength
	}

	prefix := vctx.Bytes()
	total := new(big.Int)
	for off := 0; off < len(secrets); off += SecretSize {
		total.Add(total, o.value(prefix, secrets[off:off+SecretSize]).ToBig())
	}
	return total, nil
}

// Generate searches random secrets until one is worth at least minimum.
func (o *KeccakOracle) Generate(ctx context.Context, minimum *big.Int, vctx Context) ([]byte, error) {
	want, overflow := uint256.FromBig(minimum)
	if overflow {
		return nil, fmt.Errorf("voucher: minimum %s exceeds 256 bits", minimum)
	}

	prefix := vctx.Bytes()
	secret := make([]byte, SecretSize)
	for i := 0; ; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("voucher: read random: %w", err)
		}
		if !o.value(prefix, secret).Lt(want) {
			return secret, nil
		}
	}
}

func (o *KeccakOracle) value(prefix, secret []byte) *uint256.Int {
	hash := crypto.Keccak256(prefix, secret)
	h := new(uint256.Int).SetBytes32(hash)

	max := new(uint256.Int).SetAllOne()
	if h.IsZero() {
		return max
	}
	return max.Div(max, h)
}
