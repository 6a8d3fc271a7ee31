package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Kind tags the decoded event's variant. Pooled and CDP events share one
// closed enum so the Event Decoder stays a single pure function rather than
// two parallel hierarchies (spec.md §9 "tagged variants").
type Kind int

const (
	KindSupply Kind = iota
	KindBorrow
	KindRepay
	KindWithdraw
	KindLiquidationCall
	KindCollateralEnabled
	KindCollateralDisabled
	KindReserveDataUpdated
	KindIgnoredAncillary
	KindTroveUpdated
)

// Event is the decoded, typed form of a raw log. Only the fields relevant to
// the event's Kind are populated; callers switch on Kind before reading them.
type Event struct {
	Kind        Kind
	BlockNumber uint64
	TxHash      common.Hash

	// Pooled fields.
	Reserve    common.Address
	User       common.Address
	OnBehalfOf common.Address
	Amount     *big.Int
	// LiquidationCall reuses Reserve as collateralAsset and a separate field
	// for the debt asset, since both are indexed addresses distinct from User.
	DebtAsset               common.Address
	DebtToCover             *big.Int
	LiquidatedCollateralAmt *big.Int

	// CDP fields.
	TroveID            *big.Int
	Debt               *big.Int
	Collateral         *big.Int
	AnnualInterestRate *big.Int
}

var (
	addressTy, _ = abi.NewType("address", "", nil)
	uint256Ty, _ = abi.NewType("uint256", "", nil)
	uint8Ty, _   = abi.NewType("uint8", "", nil)
	uint16Ty, _  = abi.NewType("uint16", "", nil)
	boolTy, _    = abi.NewType("bool", "", nil)
)

func unpack(args abi.Arguments, data []byte) ([]interface{}, error) {
	values, err := args.UnpackValues(data)
	if err != nil {
		return nil, fmt.Errorf("unpack event data: %w", err)
	}
	return values, nil
}

// Decode implements the Event Decoder (spec.md §4.4): dispatch is by the
// log's first topic. An unknown topic yields (Event{}, false). A malformed
// payload for a *known* topic is a fatal logic error — the ABI is fixed and
// known at compile time, so ABI drift here means the binary is stale, not
// that the input is untrusted; Decode panics in that case rather than
// returning an error the caller might paper over.
func Decode(log types.Log) (Event, bool) {
	if len(log.Topics) == 0 {
		return Event{}, false
	}
	kind, ok := recognisedPooledTopics[log.Topics[0]]
	if !ok {
		if log.Topics[0] == topicTroveUpdated {
			return decodeTroveUpdated(log), true
		}
		return Event{}, false
	}

	base := Event{Kind: kind, BlockNumber: log.BlockNumber, TxHash: log.TxHash}

	switch kind {
	case KindSupply:
		requireTopics(log, 4)
		values, err := unpack(abi.Arguments{{Type: addressTy}, {Type: uint256Ty}}, log.Data)
		if err != nil {
			panic(fmt.Sprintf("decode Supply: %v", err))
		}
		base.Reserve = common.BytesToAddress(log.Topics[1].Bytes())
		base.OnBehalfOf = common.BytesToAddress(log.Topics[2].Bytes())
		base.User = values[0].(common.Address)
		base.Amount = values[1].(*big.Int)

	case KindBorrow:
		requireTopics(log, 4)
		values, err := unpack(abi.Arguments{{Type: addressTy}, {Type: uint256Ty}, {Type: uint8Ty}, {Type: uint256Ty}}, log.Data)
		if err != nil {
			panic(fmt.Sprintf("decode Borrow: %v", err))
		}
		base.Reserve = common.BytesToAddress(log.Topics[1].Bytes())
		base.OnBehalfOf = common.BytesToAddress(log.Topics[2].Bytes())
		base.User = values[0].(common.Address)
		base.Amount = values[1].(*big.Int)

	case KindRepay:
		requireTopics(log, 4)
		values, err := unpack(abi.Arguments{{Type: uint256Ty}, {Type: boolTy}}, log.Data)
		if err != nil {
			panic(fmt.Sprintf("decode Repay: %v", err))
		}
		base.Reserve = common.BytesToAddress(log.Topics[1].Bytes())
		base.User = common.BytesToAddress(log.Topics[2].Bytes())
		base.Amount = values[0].(*big.Int)

	case KindWithdraw:
		requireTopics(log, 4)
		values, err := unpack(abi.Arguments{{Type: uint256Ty}}, log.Data)
		if err != nil {
			panic(fmt.Sprintf("decode Withdraw: %v", err))
		}
		base.Reserve = common.BytesToAddress(log.Topics[1].Bytes())
		base.User = common.BytesToAddress(log.Topics[2].Bytes())
		base.OnBehalfOf = common.BytesToAddress(log.Topics[3].Bytes()) // "to"
		base.Amount = values[0].(*big.Int)

	case KindLiquidationCall:
		requireTopics(log, 4)
		values, err := unpack(abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}, {Type: addressTy}, {Type: boolTy}}, log.Data)
		if err != nil {
			panic(fmt.Sprintf("decode LiquidationCall: %v", err))
		}
		base.Reserve = common.BytesToAddress(log.Topics[1].Bytes()) // collateralAsset
		base.DebtAsset = common.BytesToAddress(log.Topics[2].Bytes())
		base.User = common.BytesToAddress(log.Topics[3].Bytes())
		base.DebtToCover = values[0].(*big.Int)
		base.LiquidatedCollateralAmt = values[1].(*big.Int)

	case KindCollateralEnabled, KindCollateralDisabled:
		requireTopics(log, 3)
		base.Reserve = common.BytesToAddress(log.Topics[1].Bytes())
		base.User = common.BytesToAddress(log.Topics[2].Bytes())

	case KindReserveDataUpdated:
		requireTopics(log, 2)
		values, err := unpack(abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty}}, log.Data)
		if err != nil {
			panic(fmt.Sprintf("decode ReserveDataUpdated: %v", err))
		}
		base.Reserve = common.BytesToAddress(log.Topics[1].Bytes())
		_ = values // logged only, per spec.md §4.6 table ("ReserveDataUpdated | log only")

	case KindIgnoredAncillary:
		// Accepted and ignored, per spec.md §4.4.
	}

	return base, true
}

func decodeTroveUpdated(log types.Log) Event {
	requireTopics(log, 2)
	values, err := unpack(abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty}}, log.Data)
	if err != nil {
		panic(fmt.Sprintf("decode TroveUpdated: %v", err))
	}
	return Event{
		Kind:               KindTroveUpdated,
		BlockNumber:        log.BlockNumber,
		TxHash:             log.TxHash,
		TroveID:            new(big.Int).SetBytes(log.Topics[1].Bytes()),
		Debt:               values[0].(*big.Int),
		Collateral:         values[1].(*big.Int),
		AnnualInterestRate: values[2].(*big.Int),
	}
}

// requireTopics panics if log does not carry the expected topic count for a
// known event signature: a mismatch means the ABI this binary was built
// against no longer matches what the chain emits.
func requireTopics(log types.Log, want int) {
	if len(log.Topics) != want {
		panic(fmt.Sprintf("event at tx %s: expected %d topics, got %d", log.TxHash, want, len(log.Topics)))
	}
}
