// Package strategy implements the pooled and CDP protocol state machines
// (spec.md §4.6, §4.7) behind one shared contract, modelled as tagged
// variants of a single interface rather than a class hierarchy (spec.md §9).
package strategy

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
)

// Strategy is the contract the Log Collector and Block Ticker drive: one
// callback per received log, one per new block height.
type Strategy interface {
	OnLog(ctx context.Context, log types.Log) error
	OnBlock(ctx context.Context, blockNumber uint64) error
	Name() string
}
