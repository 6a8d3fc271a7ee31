package executor

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/nhbchain/liquidationd/tracker"
)

type fakeExecClient struct {
	sendErr     error
	sentTxes    []*types.Transaction
	receiptStat uint64
}

func (f *fakeExecClient) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeExecClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeExecClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return nil, nil
}
func (f *fakeExecClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, nil
}
func (f *fakeExecClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: f.receiptStat}, nil
}
func (f *fakeExecClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeExecClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentTxes = append(f.sentTxes, tx)
	return nil
}
func (f *fakeExecClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 1, nil
}
func (f *fakeExecClient) NetworkID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))
	signer, err := NewSigner(hexKey, big.NewInt(1))
	require.NoError(t, err)
	return signer
}

func TestExecutePooledSkipsIfAlreadyTracked(t *testing.T) {
	signer := newTestSigner(t)
	fc := &fakeExecClient{receiptStat: 1}
	trk := tracker.New()
	opp := Opportunity{
		User:             common.HexToAddress("0x01"),
		Collateral:       common.HexToAddress("0x02"),
		Debt:             common.HexToAddress("0x03"),
		CollateralAmount: big.NewInt(10),
		DebtAmount:       big.NewInt(9),
	}
	trk.Mark(tracker.PositionID(opp.User.Hex(), opp.Collateral.Hex()))

	e := New(fc, nil, signer, common.HexToAddress("0x99"), trk, PairRegistry{}, nil, nil)
	err := e.ExecutePooled(context.Background(), opp)
	require.NoError(t, err)
	require.Empty(t, fc.sentTxes)
}

func TestExecutePooledDropsOnMissingPairConfig(t *testing.T) {
	signer := newTestSigner(t)
	fc := &fakeExecClient{receiptStat: 1}
	trk := tracker.New()
	opp := Opportunity{
		User:             common.HexToAddress("0x01"),
		Collateral:       common.HexToAddress("0x02"),
		Debt:             common.HexToAddress("0x03"),
		CollateralAmount: big.NewInt(10),
		DebtAmount:       big.NewInt(9),
	}

	e := New(fc, nil, signer, common.HexToAddress("0x99"), trk, PairRegistry{}, nil, nil)
	err := e.ExecutePooled(context.Background(), opp)
	require.NoError(t, err)
	require.Empty(t, fc.sentTxes)
	require.False(t, trk.Seen(tracker.PositionID(opp.User.Hex(), opp.Collateral.Hex())))
}

func TestExecutePooledMarksTrackerOnlyOnSendSuccess(t *testing.T) {
	signer := newTestSigner(t)
	collateral := common.HexToAddress("0x02")
	debt := common.HexToAddress("0x03")
	pools := PairRegistry{
		PairKey(collateral, debt): {
			Path:           []byte{0x01},
			Router:         KittenRouterSwap,
			SwapperAddress: common.HexToAddress("0xaa"),
		},
	}
	opp := Opportunity{
		User:             common.HexToAddress("0x01"),
		Collateral:       collateral,
		Debt:             debt,
		CollateralAmount: big.NewInt(10),
		DebtAmount:       big.NewInt(9),
	}

	t.Run("send failure does not mark tracker", func(t *testing.T) {
		fc := &fakeExecClient{sendErr: errors.New("rpc down")}
		trk := tracker.New()
		e := New(fc, nil, signer, common.HexToAddress("0x99"), trk, pools, nil, nil)

		err := e.ExecutePooled(context.Background(), opp)
		require.Error(t, err)
		require.False(t, trk.Seen(tracker.PositionID(opp.User.Hex(), opp.Collateral.Hex())))
	})

	t.Run("send success marks tracker", func(t *testing.T) {
		fc := &fakeExecClient{receiptStat: 1}
		trk := tracker.New()
		e := New(fc, nil, signer, common.HexToAddress("0x99"), trk, pools, nil, nil)

		err := e.ExecutePooled(context.Background(), opp)
		require.NoError(t, err)
		require.True(t, trk.Seen(tracker.PositionID(opp.User.Hex(), opp.Collateral.Hex())))
		require.Len(t, fc.sentTxes, 1)
	})
}

func TestExecuteCDPBuildsBatchLiquidateCall(t *testing.T) {
	signer := newTestSigner(t)
	fc := &fakeExecClient{receiptStat: 1}
	trk := tracker.New()
	e := New(fc, nil, signer, common.HexToAddress("0x99"), trk, nil, nil, nil)

	err := e.ExecuteCDP(context.Background(), common.HexToAddress("0x55"), []*big.Int{big.NewInt(1), big.NewInt(2)})
	require.NoError(t, err)
	require.Len(t, fc.sentTxes, 1)
}
