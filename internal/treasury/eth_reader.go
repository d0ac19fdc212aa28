package treasury

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"StarPool/internal/pool"
)

// ChainReader is the read-only view of the on-chain treasury and WSTR
// token. It backs the quote/query layer and seeds the in-memory
// treasury at startup; it never sends transactions.

const treasuryABIJSON = `[
  {"inputs": [], "name": "getAllAssets", "outputs": [{"type": "uint16[]"}], "stateMutability": "view", "type": "function"}
]`

const wstrABIJSON = `[
  {"inputs": [{"type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"type": "address"}, {"type": "address"}], "name": "allowance", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

var (
	treasuryABI     abi.ABI
	treasuryABIOnce sync.Once
	treasuryABIErr  error
	wstrABI         abi.ABI
	wstrABIOnce     sync.Once
	wstrABIErr      error
)

func treasuryABIInstance() (abi.ABI, error) {
	treasuryABIOnce.Do(func() {
		treasuryABI, treasuryABIErr = abi.JSON(strings.NewReader(treasuryABIJSON))
	})
	return treasuryABI, treasuryABIErr
}

func wstrABIInstance() (abi.ABI, error) {
	wstrABIOnce.Do(func() {
		wstrABI, wstrABIErr = abi.JSON(strings.NewReader(wstrABIJSON))
	})
	return wstrABI, wstrABIErr
}

// ChainReader wraps go-ethereum RPC for treasury and token views
type ChainReader struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	treasuryAddr common.Address
	wstrAddr     common.Address
	poolAddr     common.Address // allowance spender
}

// NewChainReader dials the RPC endpoint
func NewChainReader(ctx context.Context, rpcURL string, treasuryAddr, wstrAddr, poolAddr common.Address) (*ChainReader, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial eth rpc: %w", err)
	}

	return &ChainReader{
		rpcClient:    rpcClient,
		ethClient:    ethclient.NewClient(rpcClient),
		treasuryAddr: treasuryAddr,
		wstrAddr:     wstrAddr,
		poolAddr:     poolAddr,
	}, nil
}

// Close closes the underlying RPC client
func (cr *ChainReader) Close() {
	if cr.rpcClient != nil {
		cr.rpcClient.Close()
	}
}

func (cr *ChainReader) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := cr.ethClient.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// AvailableStars returns the treasury contents in traversal order. The
// contract reports newest-first; settlement consumes oldest-first, so
// the list is reversed here.
func (cr *ChainReader) AvailableStars(ctx context.Context) ([]pool.Star, error) {
	parsed, err := treasuryABIInstance()
	if err != nil {
		return nil, err
	}

	out, err := cr.call(ctx, cr.treasuryAddr, parsed, "getAllAssets")
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("getAllAssets: unexpected output arity %d", len(out))
	}

	raw, ok := out[0].([]uint16)
	if !ok {
		return nil, fmt.Errorf("getAllAssets: unexpected output type %T", out[0])
	}

	stars := make([]pool.Star, len(raw))
	for i, s := range raw {
		stars[len(raw)-1-i] = pool.Star(s)
	}
	return stars, nil
}

// BalanceOf returns an address's WSTR balance
func (cr *ChainReader) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	parsed, err := wstrABIInstance()
	if err != nil {
		return nil, err
	}

	out, err := cr.call(ctx, cr.wstrAddr, parsed, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("balanceOf: unexpected output arity %d", len(out))
	}

	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected output type %T", out[0])
	}
	return balance, nil
}

// Allowance returns the pool's spendable WSTR allowance for an owner
func (cr *ChainReader) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	parsed, err := wstrABIInstance()
	if err != nil {
		return nil, err
	}

	out, err := cr.call(ctx, cr.wstrAddr, parsed, "allowance", owner, cr.poolAddr)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("allowance: unexpected output arity %d", len(out))
	}

	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("allowance: unexpected output type %T", out[0])
	}
	return allowance, nil
}
