package collector

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/time/rate"

	"github.com/nhbchain/liquidationd/chain"
	"github.com/nhbchain/liquidationd/strategy"
)

func blockNumberBig(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}

// BlockTicker delivers a periodic "new height" signal to strategies, capped
// at roughly one tick per second (spec.md §4.5). Within a tick, strategies
// run serially in registration order; the next tick never starts until every
// strategy from the previous tick has returned, preserving LastBlock
// monotonicity (spec.md §5).
type BlockTicker struct {
	client     chain.Client
	strategies []strategy.Strategy
	limiter    *rate.Limiter
	log        *slog.Logger
}

// NewBlockTicker returns a ticker capped at one tick per second.
func NewBlockTicker(client chain.Client, logger *slog.Logger) *BlockTicker {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockTicker{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		log:     logger,
	}
}

// AddStrategy registers a strategy for block-tick delivery.
func (b *BlockTicker) AddStrategy(s strategy.Strategy) { b.strategies = append(b.strategies, s) }

// Run loops forever: at each tick, query the current head and invoke every
// strategy with that height, serially. A single strategy's tick error is
// logged and does not abort the loop (spec.md §7 "the Block Ticker does not
// crash on tick errors"). Cancellation is by context; the loop has no other
// graceful shutdown path, matching spec.md §5's accepted simplification.
func (b *BlockTicker) Run(ctx context.Context) error {
	var lastHeight uint64
	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("block ticker: %w", err)
		}

		head, err := b.client.BlockNumber(ctx)
		if err != nil {
			b.log.Warn("block ticker: failed to fetch head", "error", err)
			continue
		}
		if head == lastHeight {
			continue
		}
		lastHeight = head

		for _, s := range b.strategies {
			if err := s.OnBlock(ctx, head); err != nil {
				b.log.Error("strategy on_block failed", "strategy", s.Name(), "block", head, "error", err)
			}
		}
	}
}
