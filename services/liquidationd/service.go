// Package liquidationd wires the Log Collector, Block Ticker, Store,
// Tracker, Sorted Trove Cache, and the protocol Strategy into a running
// liquidation bot (spec.md §4, §5).
package liquidationd

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	config "github.com/nhbchain/liquidationd/config/liquidationd"
	"github.com/nhbchain/liquidationd/cache"
	"github.com/nhbchain/liquidationd/chain"
	"github.com/nhbchain/liquidationd/collector"
	"github.com/nhbchain/liquidationd/executor"
	"github.com/nhbchain/liquidationd/store"
	"github.com/nhbchain/liquidationd/strategy"
	"github.com/nhbchain/liquidationd/tracker"
)

// stabilizeRounds is how many consecutive identical heads BackfillThenTail
// must observe before the daemon treats backfill as caught up and switches
// to the steady-state Block Ticker (SPEC_FULL.md §3 "stabilizing backfill").
const stabilizeRounds = 2

// Run wires every component and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := chain.Dial(cfg.RPCEndpoint)
	if err != nil {
		return fmt.Errorf("dial chain: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	st, err := store.New(db)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	signer, err := executor.NewSigner(cfg.PrivateKey, big.NewInt(cfg.ChainID))
	if err != nil {
		return fmt.Errorf("init signer: %w", err)
	}

	var pools executor.PairRegistry
	if cfg.PairRegistryPath != "" {
		pools, err = executor.LoadPairRegistry(cfg.PairRegistryPath)
		if err != nil {
			return fmt.Errorf("load pair registry: %w", err)
		}
	}

	trk := tracker.New()
	var tracer chain.Tracer
	if cfg.TraceTxs {
		tracer = chain.NewRPCTracer(client)
	}

	exec := executor.New(client, tracer, signer, common.HexToAddress(cfg.Liquidator), trk, pools, st, logger)

	logCollector := collector.New(client, logger)
	ticker := collector.NewBlockTicker(client, logger)

	switch cfg.Protocol {
	case config.ProtocolPooled:
		logCollector.SetContractAddress(common.HexToAddress(cfg.Pooled.PoolAddress))
		logCollector.SetStartBlock(cfg.Pooled.StartBlock)

		reserves := reserveConfigurations(cfg.Pooled.Reserves)

		s := strategy.NewPooledStrategy(
			common.HexToAddress(cfg.Pooled.PoolAddress),
			common.HexToAddress(cfg.Pooled.GatewayAddress),
			common.HexToAddress(cfg.Pooled.OracleAddress),
			reserves,
			st, client, exec, logger,
		)
		logCollector.AddStrategy(s)
		ticker.AddStrategy(s)

	case config.ProtocolCDP:
		logCollector.SetContractAddress(common.HexToAddress(cfg.CDP.TroveManagerAddress))
		logCollector.SetStartBlock(cfg.CDP.StartBlock)

		troveCache := cache.New(time.Duration(cfg.CDP.CacheTTLSeconds) * time.Second)
		s := strategy.NewCDPStrategy(
			common.HexToAddress(cfg.CDP.TroveManagerAddress),
			common.HexToAddress(cfg.CDP.RegistryAddress),
			common.HexToAddress(cfg.CDP.OracleAddress),
			st, client, troveCache, exec, logger,
		)
		logCollector.AddStrategy(s)
		ticker.AddStrategy(s)

	default:
		return fmt.Errorf("unknown protocol %q", cfg.Protocol)
	}

	if err := stabilizeBackfill(ctx, logCollector, logger); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	return ticker.Run(ctx)
}

// stabilizeBackfill repeats BackfillThenTail until the returned head is
// observed unchanged stabilizeRounds times in a row, which covers logs that
// arrived while the previous window was still being fetched
// (SPEC_FULL.md §3).
func stabilizeBackfill(ctx context.Context, logCollector *collector.LogCollector, logger *slog.Logger) error {
	var lastHead uint64
	stableRounds := 0

	for stableRounds < stabilizeRounds {
		head, err := logCollector.BackfillThenTail(ctx)
		if err != nil {
			return err
		}
		if head == lastHead {
			stableRounds++
		} else {
			stableRounds = 1
			lastHead = head
		}
		logger.Info("backfill round complete", "head", head, "stable_rounds", stableRounds)
	}

	return nil
}

// reserveConfigurations converts the configured reserve entries into the
// lookup table the pooled strategy ranks opportunities against. The reserve
// set is supplied by configuration rather than discovered on-chain, since
// the daemon has no general-purpose ABI decoder for the data provider's
// getAllReservesTokens view (spec.md §3 "ReserveConfiguration").
func reserveConfigurations(entries []config.ReserveEntry) map[common.Address]strategy.ReserveConfig {
	reserves := make(map[common.Address]strategy.ReserveConfig, len(entries))
	for _, e := range entries {
		reserves[common.HexToAddress(e.Asset)] = strategy.ReserveConfig{
			Decimals:            e.Decimals,
			LiquidationBonusBps: e.LiquidationBonusBps,
		}
	}
	return reserves
}
