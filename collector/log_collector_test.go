package collector

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeChainClient struct {
	head          uint64
	logsByWindow  map[string][]types.Log
	failuresLeft  map[string]int
	filterCalls   []ethereum.FilterQuery
}

func windowKey(q ethereum.FilterQuery) string {
	return q.FromBlock.String() + "-" + q.ToBlock.String()
}

func (f *fakeChainClient) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeChainClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.filterCalls = append(f.filterCalls, q)
	key := windowKey(q)
	if f.failuresLeft[key] > 0 {
		f.failuresLeft[key]--
		return nil, errors.New("transient rpc error")
	}
	return f.logsByWindow[key], nil
}

func (f *fakeChainClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return nil, nil
}
func (f *fakeChainClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, nil
}
func (f *fakeChainClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return nil, nil
}
func (f *fakeChainClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeChainClient) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeChainClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeChainClient) NetworkID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

type recordingStrategy struct {
	name        string
	loggedTxes  []common.Hash
	blockHeight []uint64
}

func (r *recordingStrategy) OnLog(ctx context.Context, log types.Log) error {
	r.loggedTxes = append(r.loggedTxes, log.TxHash)
	return nil
}
func (r *recordingStrategy) OnBlock(ctx context.Context, blockNumber uint64) error {
	r.blockHeight = append(r.blockHeight, blockNumber)
	return nil
}
func (r *recordingStrategy) Name() string { return r.name }

func TestBackfillThenTailDeliversLogsInOrderAndAdvances(t *testing.T) {
	head := uint64(5)
	window := "0-5"
	fc := &fakeChainClient{
		head: head,
		logsByWindow: map[string][]types.Log{
			window: {
				{TxHash: common.HexToHash("0x01")},
				{TxHash: common.HexToHash("0x02")},
			},
		},
		failuresLeft: map[string]int{},
	}

	c := New(fc, nil)
	c.SetStartBlock(0)
	strat := &recordingStrategy{name: "test"}
	c.AddStrategy(strat)

	gotHead, err := c.BackfillThenTail(context.Background())
	require.NoError(t, err)
	require.Equal(t, head, gotHead)
	require.Equal(t, []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}, strat.loggedTxes)
	require.Equal(t, head+1, c.startBlock)
}

func TestBackfillRetriesFailedWindowRatherThanSkipping(t *testing.T) {
	head := uint64(3)
	window := "0-3"
	fc := &fakeChainClient{
		head: head,
		logsByWindow: map[string][]types.Log{
			window: {{TxHash: common.HexToHash("0x09")}},
		},
		failuresLeft: map[string]int{window: 2},
	}

	c := New(fc, nil)
	c.SetStartBlock(0)
	strat := &recordingStrategy{name: "test"}
	c.AddStrategy(strat)

	gotHead, err := c.BackfillThenTail(context.Background())
	require.NoError(t, err)
	require.Equal(t, head, gotHead)
	require.Len(t, strat.loggedTxes, 1)
	require.Equal(t, 3, len(fc.filterCalls)) // two failures + one success, same window
}

func TestBackfillWindowsBoundedByMaxBlocksPerWindow(t *testing.T) {
	head := uint64(25_000)
	fc := &fakeChainClient{
		head:         head,
		logsByWindow: map[string][]types.Log{},
		failuresLeft: map[string]int{},
	}

	c := New(fc, nil)
	c.SetStartBlock(0)
	c.AddStrategy(&recordingStrategy{name: "test"})

	_, err := c.BackfillThenTail(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, len(fc.filterCalls)) // [0,10000] [10001,20001] [20002,25000]
	require.Equal(t, uint64(0), fc.filterCalls[0].FromBlock.Uint64())
	require.Equal(t, uint64(10000), fc.filterCalls[0].ToBlock.Uint64())
	require.Equal(t, uint64(20002), fc.filterCalls[2].FromBlock.Uint64())
	require.Equal(t, uint64(25000), fc.filterCalls[2].ToBlock.Uint64())
}
