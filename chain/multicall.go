package chain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MulticallAddress is the canonical Multicall3 deployment address shared by
// virtually every EVM chain (spec.md §6).
var MulticallAddress = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

// Call3 mirrors Multicall3's `Call3` struct: a target, whether its failure is
// tolerated, and the call data to submit.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// CallResult mirrors Multicall3's `Result` struct.
type CallResult struct {
	Success    bool
	ReturnData []byte
}

var (
	call3TupleArrayTy abi.Type
	resultTupleArrayTy abi.Type
	aggregate3Selector [4]byte
)

func init() {
	call3Components := []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "allowFailure", Type: "bool"},
		{Name: "callData", Type: "bytes"},
	}
	var err error
	call3TupleArrayTy, err = abi.NewType("tuple[]", "", call3Components)
	if err != nil {
		panic(fmt.Sprintf("chain: build Call3 ABI type: %v", err))
	}

	resultComponents := []abi.ArgumentMarshaling{
		{Name: "success", Type: "bool"},
		{Name: "returnData", Type: "bytes"},
	}
	resultTupleArrayTy, err = abi.NewType("tuple[]", "", resultComponents)
	if err != nil {
		panic(fmt.Sprintf("chain: build Result ABI type: %v", err))
	}

	sig := crypto.Keccak256Hash([]byte("aggregate3((address,bool,bytes)[])"))
	copy(aggregate3Selector[:], sig[:4])
}

// Multicall wraps a Client bound to the canonical Multicall3 address.
type Multicall struct {
	client  Client
	address common.Address
}

// NewMulticall returns a Multicall bound to MulticallAddress.
func NewMulticall(client Client) *Multicall {
	return &Multicall{client: client, address: MulticallAddress}
}

// Aggregate3 batches calls into one eth_call, tolerating per-call failure
// when AllowFailure is set, so one malformed view call (spec.md §7
// "Malformed RPC result") never fails the whole batch.
func (m *Multicall) Aggregate3(ctx context.Context, calls []Call3) ([]CallResult, error) {
	args := abi.Arguments{{Type: call3TupleArrayTy}}
	packedArgs, err := args.Pack(calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate3 call: %w", err)
	}

	data := append(aggregate3Selector[:], packedArgs...)
	raw, err := m.client.CallContract(ctx, ethereum.CallMsg{
		To:   &m.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call aggregate3: %w", err)
	}

	outArgs := abi.Arguments{{Type: resultTupleArrayTy}}
	values, err := outArgs.UnpackValues(raw)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate3 result: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected aggregate3 return shape")
	}

	// The abi package builds tuple types with json tags named after the
	// components, so the asserted struct must carry the same tags.
	rawResults, ok := values[0].([]struct {
		Success    bool   `json:"success"`
		ReturnData []byte `json:"returnData"`
	})
	if !ok {
		return nil, fmt.Errorf("unexpected aggregate3 result type")
	}

	results := make([]CallResult, len(rawResults))
	for i, r := range rawResults {
		results[i] = CallResult{Success: r.Success, ReturnData: r.ReturnData}
	}
	return results, nil
}

// BigFromUint256Bytes interprets a 32-byte big-endian word as an unsigned
// integer, the shape every multicall return slot uses for U256 fields.
func BigFromUint256Bytes(word []byte) *big.Int {
	return new(big.Int).SetBytes(word)
}
