package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func packUint256(values ...*big.Int) []byte {
	args := make(abi.Arguments, len(values))
	for i := range values {
		args[i] = abi.Argument{Type: uint256Ty}
	}
	packed, err := args.Pack(toInterfaceSlice(values)...)
	if err != nil {
		panic(err)
	}
	return packed
}

func toInterfaceSlice(values []*big.Int) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func TestDecodeUnknownTopicYieldsNone(t *testing.T) {
	log := types.Log{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}}
	_, ok := Decode(log)
	require.False(t, ok)
}

func TestDecodeTroveUpdated(t *testing.T) {
	troveID := big.NewInt(7)
	data := packUint256(big.NewInt(100), big.NewInt(150), big.NewInt(50_000_000_000_000_000))

	log := types.Log{
		Topics:      []common.Hash{topicTroveUpdated, common.BigToHash(troveID)},
		Data:        data,
		BlockNumber: 42,
	}

	ev, ok := Decode(log)
	require.True(t, ok)
	require.Equal(t, KindTroveUpdated, ev.Kind)
	require.Equal(t, troveID, ev.TroveID)
	require.Equal(t, big.NewInt(100), ev.Debt)
	require.Equal(t, big.NewInt(150), ev.Collateral)
	require.Equal(t, uint64(42), ev.BlockNumber)
}

func TestDecodeCollateralEnabledHasNoDataPayload(t *testing.T) {
	reserve := common.HexToAddress("0x1111111111111111111111111111111111111111")
	user := common.HexToAddress("0x2222222222222222222222222222222222222222")

	log := types.Log{
		Topics: []common.Hash{
			topicReserveUsedAsCollateralEnabled,
			common.BytesToHash(reserve.Bytes()),
			common.BytesToHash(user.Bytes()),
		},
	}

	ev, ok := Decode(log)
	require.True(t, ok)
	require.Equal(t, KindCollateralEnabled, ev.Kind)
	require.Equal(t, reserve, ev.Reserve)
	require.Equal(t, user, ev.User)
}

func TestDecodeMalformedKnownTopicPanics(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{topicTroveUpdated, common.BigToHash(big.NewInt(1))},
		Data:   []byte{0x01}, // too short to unpack three uint256 words
	}

	require.Panics(t, func() {
		Decode(log)
	})
}
