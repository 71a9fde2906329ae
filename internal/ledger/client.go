package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const defaultTimeout = 30 * time.Second

// Backend is the RPC surface the client needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type Client struct {
	backend  Backend
	contract *bind.BoundContract
	address  common.Address
	signer   *bind.TransactOpts
	timeout  time.Duration
	closeFn  func()
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithSigner(opts *bind.TransactOpts) Option {
	return func(c *Client) { c.signer = opts }
}

func NewClient(backend Backend, address common.Address, opts ...Option) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(studyFundABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	c := &Client{
		backend:  backend,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		address:  address,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Dial connects to rpcURL. When privateKeyHex is non-empty the client can
// submit settlement transactions; chainID 0 means ask the node.
func Dial(ctx context.Context, rpcURL, contractAddress, privateKeyHex string, chainID int64, timeout time.Duration) (*Client, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddress)
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}

	opts := []Option{WithTimeout(timeout)}
	if privateKeyHex != "" {
		id := big.NewInt(chainID)
		if chainID == 0 {
			id, err = eth.ChainID(ctx)
			if err != nil {
				eth.Close()
				return nil, &TransientReadError{Op: "chainId", Err: err}
			}
		}
		signer, err := NewSigner(privateKeyHex, id)
		if err != nil {
			eth.Close()
			return nil, err
		}
		opts = append(opts, WithSigner(signer))
	}

	c, err := NewClient(eth, common.HexToAddress(contractAddress), opts...)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closeFn = eth.Close
	return c, nil
}

// NewSigner builds transact options from a hex private key.
func NewSigner(privateKeyHex string, chainID *big.Int) (*bind.TransactOpts, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse admin private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	return opts, nil
}

func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

func (c *Client) Address() common.Address {
	return c.address
}

// SignerAddress returns the settlement account, or the zero address for a
// read-only client.
func (c *Client) SignerAddress() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.From
}

func (c *Client) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, &TransientReadError{Op: method, Err: err}
	}
	return out, nil
}

func (c *Client) CurrentRoundID(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, methodCurrentRound)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Client) GetRound(ctx context.Context, id *big.Int) (*Round, error) {
	out, err := c.call(ctx, methodRound, id)
	if err != nil {
		return nil, err
	}
	r := &Round{
		ID:        new(big.Int).Set(id),
		StartTime: *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		EndTime:   *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		PrizePool: *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		Donations: *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		Completed: *abi.ConvertType(out[4], new(bool)).(*bool),
		RequestID: *abi.ConvertType(out[5], new(*big.Int)).(**big.Int),
	}
	// Unset mapping slots read back as zero values.
	if r.StartTime.Sign() == 0 && r.EndTime.Sign() == 0 && !r.Completed {
		return nil, fmt.Errorf("round %s: %w", id, ErrRoundNotFound)
	}
	return r, nil
}

func (c *Client) GetEntryCount(ctx context.Context, id *big.Int) (*big.Int, error) {
	out, err := c.call(ctx, methodEntryCount, id)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Client) GetWinners(ctx context.Context, id *big.Int) ([]common.Address, error) {
	return c.addresses(ctx, methodWinners, id)
}

func (c *Client) GetRunnerUps(ctx context.Context, id *big.Int) ([]common.Address, error) {
	return c.addresses(ctx, methodRunnerUps, id)
}

func (c *Client) addresses(ctx context.Context, method string, id *big.Int) ([]common.Address, error) {
	out, err := c.call(ctx, method, id)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address), nil
}

// SelectWinners submits the parameterless settlement call and blocks until
// the transaction is mined. The two expected reverts come back as
// ErrNoEntries and ErrAlreadyCompleted.
func (c *Client) SelectWinners(ctx context.Context) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, ErrReadOnly
	}

	opts := *c.signer
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, methodSettle)
	if err != nil {
		if expected := classifyRevert(err); expected != nil {
			return common.Hash{}, expected
		}
		return common.Hash{}, fmt.Errorf("submit %s: %w", methodSettle, err)
	}
	slog.InfoContext(ctx, "settlement transaction sent", "tx_hash", tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return tx.Hash(), fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash(), fmt.Errorf("%w: tx %s in block %s", ErrTransactionFailed, tx.Hash().Hex(), receipt.BlockNumber)
	}
	slog.InfoContext(ctx, "settlement transaction confirmed", "tx_hash", tx.Hash().Hex(), "block", receipt.BlockNumber.String())
	return tx.Hash(), nil
}
