// Package chain wraps the narrow slice of the go-ethereum JSON-RPC client
// this service needs, the way services/oracle-attesterd/evm_confirm.go wraps
// ethclient behind a small interface for testability, and adds the
// multicall3 aggregation helper named in spec.md §6.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the RPC surface spec.md §6 requires: eth_blockNumber,
// eth_getLogs, eth_getBlockByNumber, eth_getTransactionByHash, eth_call,
// eth_sendRawTransaction, eth_getTransactionReceipt.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NetworkID(ctx context.Context) (*big.Int, error)
}

// Dial connects to an EVM JSON-RPC endpoint. It trims surrounding whitespace
// and rejects an empty endpoint; scheme validation is left to ethclient,
// matching DialEVMClient in the teacher's oracle attester service.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	client, err := ethclient.Dial(trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial rpc endpoint: %w", err)
	}
	return client, nil
}
