// Package collector implements the Log Collector and Block Ticker (spec.md
// §4.5): backfill historical logs in bounded windows, then tail new logs,
// fanning every log and every new height out to the registered strategies.
package collector

import (
	"context"
	"fmt"
	"log/slog"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/nhbchain/liquidationd/chain"
	"github.com/nhbchain/liquidationd/observability"
	"github.com/nhbchain/liquidationd/strategy"
)

// MaxBlocksPerWindow bounds a single eth_getLogs request, matching the
// original collector's MAX_BLOCKS_PER_REQUEST.
const MaxBlocksPerWindow = 10_000

// LogCollector delivers every log emitted by a fixed contract address, from a
// configured start block, to every registered strategy, exactly once per
// (block, log-index) pair within a single process.
type LogCollector struct {
	client          chain.Client
	contractAddress common.Address
	startBlock      uint64
	strategies      []strategy.Strategy
	log             *slog.Logger
}

// New constructs a LogCollector bound to a single contract address.
func New(client chain.Client, logger *slog.Logger) *LogCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogCollector{client: client, log: logger}
}

// SetContractAddress pins the address every fetched log must match.
func (c *LogCollector) SetContractAddress(addr common.Address) { c.contractAddress = addr }

// SetStartBlock seeds the first window's lower bound.
func (c *LogCollector) SetStartBlock(n uint64) { c.startBlock = n }

// AddStrategy registers a strategy to receive logs and block ticks, in the
// order logs/ticks must be delivered within a single tick (registration
// order, spec.md §4.5/§5).
func (c *LogCollector) AddStrategy(s strategy.Strategy) { c.strategies = append(c.strategies, s) }

// BackfillThenTail iterates windows [from, min(from+W, head)], delivering
// every log in (block_number, log_index) order to every strategy, and
// advances from to window_end+1. A window fetch failure is retried in place,
// never skipped. Terminates when from >= head and returns the head observed.
// Callers loop this until the returned head stabilises, to cover logs that
// arrived mid-backfill.
func (c *LogCollector) BackfillThenTail(ctx context.Context) (uint64, error) {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get current block number: %w", err)
	}

	from := c.startBlock
	for from < head {
		end := from + MaxBlocksPerWindow
		if end > head {
			end = head
		}

		logs, err := c.fetchWindowWithRetry(ctx, from, end)
		if err != nil {
			return 0, err
		}

		for _, l := range logs {
			if err := c.dispatchLog(ctx, l); err != nil {
				return 0, err
			}
		}

		from = end + 1
	}

	// Resume after the last fetched block so a later call never re-delivers
	// block head's logs.
	c.startBlock = from
	return head, nil
}

// fetchWindowWithRetry retries a failing eth_getLogs call for the same
// window indefinitely rather than skipping it, per spec.md §4.5/§7.
func (c *LogCollector) fetchWindowWithRetry(ctx context.Context, from, to uint64) ([]types.Log, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: blockNumberBig(from),
			ToBlock:   blockNumberBig(to),
			Addresses: []common.Address{c.contractAddress},
		})
		if err == nil {
			return logs, nil
		}
		observability.Liquidationd().RecordBackfillRetry()
		c.log.Warn("log window fetch failed, retrying", "from", from, "to", to, "error", err)
	}
}

func (c *LogCollector) dispatchLog(ctx context.Context, l types.Log) error {
	for _, s := range c.strategies {
		if err := s.OnLog(ctx, l); err != nil {
			return fmt.Errorf("strategy %s on_log: %w", s.Name(), err)
		}
		observability.Liquidationd().RecordLogProcessed(s.Name())
	}
	return nil
}
