package chain

import (
	"context"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	respondWith []byte
	lastCallMsg ethereum.CallMsg
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return nil, nil
}
func (f *fakeClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, nil
}
func (f *fakeClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return nil, nil
}
func (f *fakeClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.lastCallMsg = msg
	return f.respondWith, nil
}
func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeClient) NetworkID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func TestAggregate3RoundTrip(t *testing.T) {
	outArgs := abi.Arguments{{Type: resultTupleArrayTy}}
	encoded, err := outArgs.Pack([]CallResult{
		{Success: true, ReturnData: []byte{0x01, 0x02}},
		{Success: false, ReturnData: nil},
	})
	require.NoError(t, err)

	fc := &fakeClient{respondWith: encoded}
	mc := NewMulticall(fc)

	results, err := mc.Aggregate3(context.Background(), []Call3{
		{Target: common.HexToAddress("0xaa"), AllowFailure: true, CallData: []byte{0xde, 0xad}},
		{Target: common.HexToAddress("0xbb"), AllowFailure: true, CallData: []byte{0xbe, 0xef}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Success)
	require.Equal(t, []byte{0x01, 0x02}, results[0].ReturnData)
	require.False(t, results[1].Success)

	require.Equal(t, MulticallAddress, *fc.lastCallMsg.To)
}
