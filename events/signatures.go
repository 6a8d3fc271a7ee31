package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Topic signature hashes for every event the pooled protocol recognises, plus
// the ancillary events that are accepted and ignored (spec.md §4.4), and the
// CDP protocol's single recognised event. The contract ABI is fixed and known
// at compile time, so a malformed payload behind a known topic is a decode
// panic, never a soft failure.
var (
	topicSupply                           = crypto.Keccak256Hash([]byte("Supply(address,address,address,uint256,uint16)"))
	topicBorrow                           = crypto.Keccak256Hash([]byte("Borrow(address,address,address,uint256,uint8,uint256,uint16)"))
	topicRepay                            = crypto.Keccak256Hash([]byte("Repay(address,address,address,uint256,bool)"))
	topicWithdraw                         = crypto.Keccak256Hash([]byte("Withdraw(address,address,address,uint256)"))
	topicLiquidationCall                  = crypto.Keccak256Hash([]byte("LiquidationCall(address,address,address,uint256,uint256,address,bool)"))
	topicReserveUsedAsCollateralEnabled   = crypto.Keccak256Hash([]byte("ReserveUsedAsCollateralEnabled(address,address)"))
	topicReserveUsedAsCollateralDisabled  = crypto.Keccak256Hash([]byte("ReserveUsedAsCollateralDisabled(address,address)"))
	topicReserveDataUpdated               = crypto.Keccak256Hash([]byte("ReserveDataUpdated(address,uint256,uint256,uint256,uint256,uint256)"))
	topicSwapBorrowRateMode               = crypto.Keccak256Hash([]byte("SwapBorrowRateMode(address,address,uint8)"))
	topicIsolationModeTotalDebtUpdated    = crypto.Keccak256Hash([]byte("IsolationModeTotalDebtUpdated(address,uint256)"))
	topicUserEModeSet                     = crypto.Keccak256Hash([]byte("UserEModeSet(address,uint8)"))

	// TroveUpdated is the only CDP event the decoder recognises.
	topicTroveUpdated = crypto.Keccak256Hash([]byte("TroveUpdated(uint256,uint256,uint256,uint256)"))
)

// recognisedPooledTopics lists every topic the pooled decoder dispatches on,
// including the ancillary ones that decode to KindIgnoredAncillary.
var recognisedPooledTopics = map[common.Hash]Kind{
	topicSupply:                          KindSupply,
	topicBorrow:                          KindBorrow,
	topicRepay:                           KindRepay,
	topicWithdraw:                        KindWithdraw,
	topicLiquidationCall:                 KindLiquidationCall,
	topicReserveUsedAsCollateralEnabled:  KindCollateralEnabled,
	topicReserveUsedAsCollateralDisabled: KindCollateralDisabled,
	topicReserveDataUpdated:              KindReserveDataUpdated,
	topicSwapBorrowRateMode:              KindIgnoredAncillary,
	topicIsolationModeTotalDebtUpdated:   KindIgnoredAncillary,
	topicUserEModeSet:                    KindIgnoredAncillary,
}
