package voucher

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
)

// FixedOracle is a deterministic oracle for tests and local development.
//
// A FixedOracle secret encodes its own value: bytes [0:8] hold the value as a
// big-endian uint64 and bytes [8:16] must match the first eight bytes of the
// context nonce. Secrets minted for a previous nonce are worth zero.
type FixedOracle struct{}

// NewFixedOracle returns a FixedOracle.
func NewFixedOracle() *FixedOracle {
	return &FixedOracle{}
}

// Mint returns a secret worth exactly value under vctx.
func (o *FixedOracle) Mint(value uint64, vctx Context) []byte {
	secret := make([]byte, SecretSize)
	binary.BigEndian.PutUint64(secret[0:8], value)
	copy(secret[8:16], vctx.Nonce[0:8])
	_, _ = rand.Read(secret[16:])
	return secret
}

// Generate mints a secret worth exactly minimum.
func (o *FixedOracle) Generate(ctx context.Context, minimum *big.Int, vctx Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !minimum.IsUint64() {
		return nil, fmt.Errorf("voucher: minimum %s exceeds fixed oracle range", minimum)
	}
	return o.Mint(minimum.Uint64(), vctx), nil
}

// VerifySecret returns the encoded value, or zero if the nonce does not match.
func (o *FixedOracle) VerifySecret(secret []byte, vctx Context) (*big.Int, error) {
	if len(secret) != SecretSize {
		return nil, ErrSecretLength
	}
	if !bytes.Equal(secret[8:16], vctx.Nonce[0:8]) {
		return new(big.Int), nil
	}
	return new(big.Int).SetUint64(binary.BigEndian.Uint64(secret[0:8])), nil
}

// VerifySecrets sums VerifySecret over concatenated secrets.
func (o *FixedOracle) VerifySecrets(secrets []byte, vctx Context) (*big.Int, error) {
	if len(secrets) == 0 || len(secrets)%SecretSize != 0 {
		return nil, ErrSecretLength
	}
	total := new(big.Int)
	for off := 0; off < len(secrets); off += SecretSize {
		v, err := o.VerifySecret(secrets[off:off+SecretSize], vctx)
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, nil
}
