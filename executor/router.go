package executor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Router is the closed set of swap-router adapters a pair registry entry may
// name (spec.md §6/§9 "Model as a sum type with a private encoder per
// variant, not reflection").
type Router string

const (
	KittenRouterSwap   Router = "kittenRouterSwap"
	LaminarRouterSwap  Router = "laminarRouterSwap"
	HyperswapRouterSwap Router = "hyperswapRouterSwap"
)

var routerSelectors = map[Router][4]byte{}

func init() {
	for _, r := range []Router{KittenRouterSwap, LaminarRouterSwap, HyperswapRouterSwap} {
		sig := crypto.Keccak256Hash([]byte(string(r) + "(address,bytes)"))
		var sel [4]byte
		copy(sel[:], sig[:4])
		routerSelectors[r] = sel
	}
}

var tokenPathArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("bytes")},
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("executor: build abi type %q: %v", name, err))
	}
	return t
}

// EncodeSwapperData selects the named router adapter and ABI-encodes its
// (token, path) call data. An unrecognised router name is dropped with an
// error, not a panic: it arrives from the pair registry file, external
// configuration rather than a compile-time-fixed ABI (spec.md §7 "Missing
// pair configuration").
func EncodeSwapperData(router Router, token common.Address, path []byte) ([]byte, error) {
	selector, ok := routerSelectors[router]
	if !ok {
		return nil, fmt.Errorf("unknown router %q", router)
	}

	packed, err := tokenPathArgs.Pack(token, path)
	if err != nil {
		return nil, fmt.Errorf("encode swapper data: %w", err)
	}

	data := make([]byte, 0, len(selector)+len(packed))
	data = append(data, selector[:]...)
	data = append(data, packed...)
	return data, nil
}

// SwapperAddress books the swap adapter address each router call targets;
// encoded separately from EncodeSwapperData because the Liquidator contract
// call also needs it as a distinct parameter (spec.md §4.6 "swapperAddress").
func SwapperAddress(pool PairConfig) common.Address {
	return pool.SwapperAddress
}
