package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ClaimABI is the subset of the settlement contract ABI used here.
const ClaimABI = `[{
	"type": "function",
	"name": "claim",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "nonce", "type": "uint256"},
		{"name": "secrets", "type": "uint256[]"}
	],
	"outputs": []
}]`

// Backend is the subset of an Ethereum RPC client the claim submitter uses.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

// EthereumConfig configures an EthereumClient.
type EthereumConfig struct {
	RPCURL   string
	ChainID  *big.Int
	Contract common.Address

	// PrivateKey is the hex-encoded settlement key, with or without 0x.
	PrivateKey string

	Logger *slog.Logger
}

type signedKey struct {
	seq   uint64
	nonce [32]byte
}

// EthereumClient submits claims through go-ethereum's contract bindings.
//
// A claim is signed once per (sequence number, context nonce) pair and the
// signed transaction is cached, so every retry broadcasts byte-identical
// data.
type EthereumClient struct {
	backend  Backend
	contract *bind.BoundContract
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	logger   *slog.Logger

	mu     sync.Mutex
	signed map[signedKey]*types.Transaction
}

// DialEthereum connects to cfg.RPCURL and returns a client.
func DialEthereum(ctx context.Context, cfg EthereumConfig) (*EthereumClient, error) {
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	c, err := NewEthereumClient(cfg, rpc)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	return c, nil
}

// NewEthereumClient builds a client over an existing backend.
func NewEthereumClient(cfg EthereumConfig, backend Backend) (*EthereumClient, error) {
	key, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("chain id cannot be nil")
	}

	parsed, err := abi.JSON(strings.NewReader(ClaimABI))
	if err != nil {
		return nil, fmt.Errorf("parse claim abi: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &EthereumClient{
		backend:  backend,
		contract: bind.NewBoundContract(cfg.Contract, parsed, backend, backend, backend),
		abi:      parsed,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  new(big.Int).Set(cfg.ChainID),
		logger:   logger.With("component", "chain"),
		signed:   make(map[signedKey]*types.Transaction),
	}, nil
}

// ParsePrivateKey decodes a hex secp256k1 key.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// Address returns the settlement account, which is also the voucher receiver.
func (c *EthereumClient) Address() common.Address {
	return c.from
}

// SequenceNumber returns the account nonce at the latest block.
func (c *EthereumClient) SequenceNumber(ctx context.Context) (uint64, error) {
	seq, err := c.backend.NonceAt(ctx, c.from, nil)
	if err != nil {
		return 0, fmt.Errorf("get nonce for %s: %w", c.from.Hex(), err)
	}

	c.mu.Lock()
	for k := range c.signed {
		if k.seq < seq {
			delete(c.signed, k)
		}
	}
	c.mu.Unlock()

	return seq, nil
}

// SubmitClaim signs (once) and broadcasts claim(nonce, secrets).
func (c *EthereumClient) SubmitClaim(ctx context.Context, nonce [32]byte, secrets [][]byte, seq uint64) (Transaction, error) {
	tx, err := c.signedClaim(ctx, nonce, secrets, seq)
	if err != nil {
		return nil, err
	}

	c.logger.Info("claiming",
		"tx", tx.Hash().Hex(),
		"sequence", seq,
		"secrets", len(secrets),
	)

	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		if !isResubmission(err) {
			return nil, fmt.Errorf("send claim: %w", err)
		}
		if isNonceTooLow(err) {
			// Either our transaction was mined or the nonce went elsewhere.
			if _, rerr := c.backend.TransactionReceipt(ctx, tx.Hash()); rerr != nil {
				return nil, fmt.Errorf("%w: %v", ErrNonceConsumed, err)
			}
		}
		c.logger.Debug("claim already broadcast", "tx", tx.Hash().Hex(), "reason", err.Error())
	}

	return &ethTransaction{tx: tx, backend: c.backend}, nil
}

func (c *EthereumClient) signedClaim(ctx context.Context, nonce [32]byte, secrets [][]byte, seq uint64) (*types.Transaction, error) {
	k := signedKey{seq: seq, nonce: nonce}

	c.mu.Lock()
	defer c.mu.Unlock()

	if tx, ok := c.signed[k]; ok {
		return tx, nil
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(seq)
	opts.NoSend = true

	nonceArg, secretArgs := claimArgs(nonce, secrets)
	tx, err := c.contract.Transact(opts, "claim", nonceArg, secretArgs)
	if err != nil {
		return nil, fmt.Errorf("sign claim: %w", err)
	}

	c.signed[k] = tx
	return tx, nil
}

// PackClaim returns the calldata of claim(nonce, secrets).
func (c *EthereumClient) PackClaim(nonce [32]byte, secrets [][]byte) ([]byte, error) {
	nonceArg, secretArgs := claimArgs(nonce, secrets)
	return c.abi.Pack("claim", nonceArg, secretArgs)
}

func claimArgs(nonce [32]byte, secrets [][]byte) (*big.Int, []*big.Int) {
	values := make([]*big.Int, len(secrets))
	for i, s := range secrets {
		values[i] = new(big.Int).SetBytes(s)
	}
	return new(big.Int).SetBytes(nonce[:]), values
}

func isResubmission(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "known transaction") ||
		isNonceTooLow(err)
}

func isNonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

type ethTransaction struct {
	tx      *types.Transaction
	backend bind.DeployBackend
}

func (t *ethTransaction) Hash() common.Hash {
	return t.tx.Hash()
}

func (t *ethTransaction) Wait(ctx context.Context) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, t.backend, t.tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, t.tx.Hash().Hex())
	}
	return receipt, nil
}
