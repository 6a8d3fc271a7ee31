package executor

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestEncodeSwapperDataKnownRouters(t *testing.T) {
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	path := []byte{0xde, 0xad, 0xbe, 0xef}

	for _, router := range []Router{KittenRouterSwap, LaminarRouterSwap, HyperswapRouterSwap} {
		data, err := EncodeSwapperData(router, token, path)
		require.NoError(t, err)
		require.Len(t, data[:4], 4)
		require.Greater(t, len(data), 4)
	}
}

func TestEncodeSwapperDataUnknownRouter(t *testing.T) {
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	_, err := EncodeSwapperData(Router("unknownRouterSwap"), token, []byte{0x01})
	require.Error(t, err)
}

func TestDifferentRoutersProduceDifferentSelectors(t *testing.T) {
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	path := []byte{0x01}

	kitten, err := EncodeSwapperData(KittenRouterSwap, token, path)
	require.NoError(t, err)
	laminar, err := EncodeSwapperData(LaminarRouterSwap, token, path)
	require.NoError(t, err)

	require.NotEqual(t, kitten[:4], laminar[:4])
}
