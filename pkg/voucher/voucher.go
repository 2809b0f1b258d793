package voucher

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SecretSize is the byte length of a single voucher secret.
const SecretSize = 32

// WordSize is the width of every fixed-size field in a Context encoding.
const WordSize = 32

var (
	// ErrSecretLength is returned when a secret is not exactly SecretSize bytes.
	ErrSecretLength = errors.New("voucher: invalid secret length")

	// ErrMalformedHex is returned when a hex field cannot be decoded.
	ErrMalformedHex = errors.New("voucher: malformed hex")
)

// Context is the public settlement context a voucher is bound to. A voucher
// only has value under the exact Context it was generated for.
type Context struct {
	ChainID  *big.Int
	Contract common.Address
	Receiver common.Address
	Nonce    [32]byte
}

// NewNonce returns a fresh random 32-byte nonce.
func NewNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("voucher: generate nonce: %w", err)
	}
	return nonce, nil
}

// WithNonce returns a copy of c bound to nonce.
func (c Context) WithNonce(nonce [32]byte) Context {
	c.Nonce = nonce
	return c
}

// Bytes returns the oracle encoding of the context:
// chainId(32) || contract(32) || receiver(32) || nonce(32).
func (c Context) Bytes() []byte {
	out := make([]byte, 0, 4*WordSize)
	chainID := c.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	out = append(out, common.LeftPadBytes(chainID.Bytes(), WordSize)...)
	out = append(out, common.LeftPadBytes(c.Contract.Bytes(), WordSize)...)
	out = append(out, common.LeftPadBytes(c.Receiver.Bytes(), WordSize)...)
	out = append(out, c.Nonce[:]...)
	return out
}

// Generator produces secrets worth at least a minimum value under a Context.
type Generator interface {
	Generate(ctx context.Context, minimum *big.Int, vctx Context) ([]byte, error)
}

// Verifier values secrets under a Context.
type Verifier interface {
	// VerifySecret returns the value of a single SecretSize secret.
	VerifySecret(secret []byte, vctx Context) (*big.Int, error)

	// VerifySecrets returns the total value of concatenated secrets.
	VerifySecrets(secrets []byte, vctx Context) (*big.Int, error)
}

// Oracle both generates and verifies secrets.
type Oracle interface {
	Generator
	Verifier
}

// EncodeWord renders b as a 0x-prefixed, left-padded 32-byte hex string.
func EncodeWord(b []byte) string {
	return hexutil.Encode(common.LeftPadBytes(b, WordSize))
}

// EncodeBig renders v as a 0x-prefixed 32-byte hex string.
func EncodeBig(v *big.Int) string {
	if v == nil {
		v = new(big.Int)
	}
	return EncodeWord(v.Bytes())
}

// EncodeSecret renders a secret as 0x-prefixed hex.
func EncodeSecret(secret []byte) string {
	return hexutil.Encode(secret)
}

// DecodeSecret parses a 0x-prefixed secret of exactly SecretSize bytes.
func DecodeSecret(s string) ([]byte, error) {
	if len(s) != 2+2*SecretSize {
		return nil, ErrSecretLength
	}
	b, err := hexutil.Decode(strings.ToLower(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHex, err)
	}
	return b, nil
}

// DecodeBig parses a 0x-prefixed hex quantity of any width, leading zeros
// allowed.
func DecodeBig(s string) (*big.Int, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHex, err)
	}
	return new(big.Int).SetBytes(b), nil
}

// Params is the public view of the current settlement context as served by
// net_get. Every field is 0x-prefixed fixed-width hex.
type Params struct {
	ChainID          string `json:"chainId"`
	ContractAddress  string `json:"contractAddress"`
	ReceiverAddress  string `json:"receiverAddress"`
	Nonce            string `json:"nonce"`
	MinimumThreshold string `json:"minimumThreshold"`
}

// NewParams encodes a context and minimum threshold.
func NewParams(vctx Context, minimum *big.Int) Params {
	chainID := vctx.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return Params{
		ChainID:          EncodeBig(chainID),
		ContractAddress:  strings.ToLower(vctx.Contract.Hex()),
		ReceiverAddress:  strings.ToLower(vctx.Receiver.Hex()),
		Nonce:            hexutil.Encode(vctx.Nonce[:]),
		MinimumThreshold: EncodeBig(minimum),
	}
}

// Decode parses p back into a Context and minimum threshold.
func (p Params) Decode() (Context, *big.Int, error) {
	var vctx Context

	chainID, err := DecodeBig(p.ChainID)
	if err != nil {
		return vctx, nil, fmt.Errorf("chainId: %w", err)
	}
	if !common.IsHexAddress(p.ContractAddress) {
		return vctx, nil, fmt.Errorf("contractAddress: %w", ErrMalformedHex)
	}
	if !common.IsHexAddress(p.ReceiverAddress) {
		return vctx, nil, fmt.Errorf("receiverAddress: %w", ErrMalformedHex)
	}
	nonce, err := hexutil.Decode(p.Nonce)
	if err != nil {
		return vctx, nil, fmt.Errorf("nonce: %w: %v", ErrMalformedHex, err)
	}
	if len(nonce) > WordSize {
		return vctx, nil, fmt.Errorf("nonce: %w", ErrMalformedHex)
	}
	minimum, err := DecodeBig(p.MinimumThreshold)
	if err != nil {
		return vctx, nil, fmt.Errorf("minimumThreshold: %w", err)
	}

	vctx.ChainID = chainID
	vctx.Contract = common.HexToAddress(p.ContractAddress)
	vctx.Receiver = common.HexToAddress(p.ReceiverAddress)
	copy(vctx.Nonce[WordSize-len(nonce):], nonce)

	return vctx, minimum, nil
}
