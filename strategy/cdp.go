package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/nhbchain/liquidationd/cache"
	"github.com/nhbchain/liquidationd/chain"
	"github.com/nhbchain/liquidationd/events"
	"github.com/nhbchain/liquidationd/executor"
	"github.com/nhbchain/liquidationd/money"
	"github.com/nhbchain/liquidationd/observability"
	"github.com/nhbchain/liquidationd/store"
)

// secondsPerYear is the interest accrual denominator (spec.md §4.7).
const secondsPerYear = 31_536_000

var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// chainlinkAnswerScale normalises an 8-decimal Chainlink-style latestAnswer
// to the 18-decimal price the ICR formula expects (spec.md §4.7).
var chainlinkAnswerScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(10), nil)

var (
	latestAnswerSelector [4]byte
	mcrSelector          [4]byte
)

func init() {
	latestAnswerSelector = selectorOf("latestAnswer()")
	mcrSelector = selectorOf("mcr()")
}

// CDPStrategy implements the CDP/trove-protocol state machine (spec.md §4.7):
// ingest trove events, maintain the mirror, scan the risk-sorted cache once
// per tick, and batch-liquidate a contiguous undercollateralised prefix.
type CDPStrategy struct {
	name             string
	troveManager     common.Address
	registryAddress  common.Address
	oracleAddress    common.Address

	st       store.Store
	client   chain.Client
	cache    *cache.TroveCache
	executor *executor.Executor
	log      *slog.Logger
}

// NewCDPStrategy constructs a CDPStrategy.
func NewCDPStrategy(
	troveManager, registryAddress, oracleAddress common.Address,
	st store.Store,
	client chain.Client,
	troveCache *cache.TroveCache,
	exec *executor.Executor,
	logger *slog.Logger,
) *CDPStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &CDPStrategy{
		name:            "CDPStrategy",
		troveManager:    troveManager,
		registryAddress: registryAddress,
		oracleAddress:   oracleAddress,
		st:              st,
		client:          client,
		cache:           troveCache,
		executor:        exec,
		log:             logger,
	}
}

func (c *CDPStrategy) Name() string { return c.name }

// OnLog applies the TroveUpdated mirror update, invalidates the cache, and
// advances LastBlock (spec.md §4.7).
func (c *CDPStrategy) OnLog(ctx context.Context, log types.Log) error {
	if log.Address != c.troveManager {
		return nil
	}

	ev, ok := events.Decode(log)
	if ok && ev.Kind == events.KindTroveUpdated {
		if err := c.applyTroveUpdated(ctx, ev); err != nil {
			return err
		}
		c.cache.Invalidate()
	}

	return c.st.SetLastBlock(ctx, log.BlockNumber)
}

func (c *CDPStrategy) applyTroveUpdated(ctx context.Context, ev events.Event) error {
	status := store.TroveStatusActive
	if ev.Collateral.Sign() == 0 && ev.Debt.Sign() == 0 {
		status = store.TroveStatusClosed
	}

	icrNumeric := 0.0
	if ev.Debt.Sign() != 0 {
		// Ordering hint only, never the liquidation decision (spec.md §9 Open
		// Question (b)): precision loss above 2^53 is acceptable here.
		collF := new(big.Float).SetInt(ev.Collateral)
		debtF := new(big.Float).SetInt(ev.Debt)
		ratio := new(big.Float).Quo(collF, debtF)
		icrNumeric, _ = ratio.Float64()
	}

	// LastUpdated holds the update block's timestamp, so OnBlock's
	// "timestamp - LastUpdated" is an accrual period in seconds.
	updatedAt, err := c.fetchTimestamp(ctx, ev.BlockNumber)
	if err != nil {
		return fmt.Errorf("trove updated: fetch block timestamp: %w", err)
	}

	return c.st.UpsertTrove(ctx, store.TroveRow{
		TroveID:      ev.TroveID.String(),
		Collateral:   money.FormatDecimal(ev.Collateral),
		Debt:         money.FormatDecimal(ev.Debt),
		InterestRate: money.FormatDecimal(ev.AnnualInterestRate),
		ICR:          "0", // live ICR is never persisted; only the pre-price ordering hint is
		ICRNumeric:   icrNumeric,
		Status:       status,
		LastUpdated:  updatedAt,
	})
}

// OnBlock fetches price, MCR, and the block timestamp once, loads the
// risk-sorted cache, and walks it ascending, stopping at the first trove
// whose fullICR is not below mcr (spec.md §4.7, invariant I6).
func (c *CDPStrategy) OnBlock(ctx context.Context, blockNumber uint64) error {
	scanStart := time.Now()
	defer func() {
		observability.Liquidationd().ObserveScanLatency(c.name, time.Since(scanStart))
	}()

	price, err := c.fetchPrice(ctx)
	if err != nil {
		return fmt.Errorf("on_block: fetch price: %w", err)
	}
	mcr, err := c.fetchMCR(ctx)
	if err != nil {
		return fmt.Errorf("on_block: fetch mcr: %w", err)
	}
	timestamp, err := c.fetchTimestamp(ctx, blockNumber)
	if err != nil {
		return fmt.Errorf("on_block: fetch timestamp: %w", err)
	}

	troves, err := c.cache.GetSorted(ctx, c.st)
	if err != nil {
		return fmt.Errorf("on_block: load sorted troves: %w", err)
	}

	var batch []*big.Int
	var batchIDs []string
	for _, trove := range troves {
		coll, err := money.ParseDecimal(trove.Collateral)
		if err != nil {
			c.log.Warn("corrupt trove collateral, skipping row", "trove_id", trove.TroveID, "error", err)
			continue
		}
		debt, err := money.ParseDecimal(trove.Debt)
		if err != nil {
			c.log.Warn("corrupt trove debt, skipping row", "trove_id", trove.TroveID, "error", err)
			continue
		}
		rate, err := money.ParseDecimal(trove.InterestRate)
		if err != nil {
			c.log.Warn("corrupt trove interest rate, skipping row", "trove_id", trove.TroveID, "error", err)
			continue
		}

		// Skip troves with zero collateral or zero debt (spec.md §4.7;
		// liquity_strategy.rs:169) — otherwise a coll>0/debt=0 trove's
		// fullICR saturates to MaxUint256 and, sorting first by
		// icr_numeric, halts the scan before any real prefix is walked.
		if coll.Sign() == 0 || debt.Sign() == 0 {
			continue
		}

		fullICR, err := calculateFullICR(coll, debt, rate, price, timestamp-trove.LastUpdated)
		if err != nil {
			c.log.Warn("icr calculation failed, skipping row", "trove_id", trove.TroveID, "error", err)
			continue
		}

		if fullICR.Cmp(mcr) >= 0 {
			// Troves are risk-ordered; no later trove can be more undercollateralised.
			break
		}

		troveID, ok := new(big.Int).SetString(trove.TroveID, 10)
		if !ok {
			c.log.Warn("corrupt trove id, skipping row", "trove_id", trove.TroveID)
			continue
		}
		batch = append(batch, troveID)
		batchIDs = append(batchIDs, trove.TroveID)
	}

	if len(batch) > 0 {
		observability.Liquidationd().RecordOpportunityRanked(c.name)
		if err := c.executor.ExecuteCDP(ctx, c.troveManager, batch); err != nil {
			c.log.Error("cdp batch liquidation submission failed", "error", err)
		} else {
			if err := c.st.CloseTroves(ctx, batchIDs, int64(blockNumber)); err != nil {
				c.log.Warn("failed to mark troves closed after submission", "error", err)
			}
			c.cache.Invalidate()
		}
	}

	return c.st.SetLastBlock(ctx, blockNumber)
}

// calculateFullICR implements spec.md §4.7's accrual and ICR formulas exactly:
// weightedDebt = debt * annualInterestRate; accruedInterest = weightedDebt *
// period / SECONDS_PER_YEAR / 10^18; fullICR = (coll*price) / (debt+accrued).
func calculateFullICR(coll, debt, annualInterestRate, price *big.Int, period int64) (*big.Int, error) {
	if period < 0 {
		period = 0
	}
	weightedDebt := money.SaturatingMul(debt, annualInterestRate)
	accrued, err := money.MulDivTrunc(weightedDebt, big.NewInt(period), big.NewInt(secondsPerYear))
	if err != nil {
		return nil, err
	}
	accrued = new(big.Int).Div(accrued, wad)

	debtWithInterest := money.SaturatingAdd(debt, accrued)
	if debtWithInterest.Sign() == 0 {
		return new(big.Int).Set(money.MaxUint256), nil
	}

	return money.MulDivTrunc(coll, price, debtWithInterest)
}

func (c *CDPStrategy) fetchPrice(ctx context.Context) (*big.Int, error) {
	raw, err := c.call(ctx, c.oracleAddress, latestAnswerSelector)
	if err != nil {
		return nil, err
	}
	answer := chain.BigFromUint256Bytes(raw)
	return new(big.Int).Mul(answer, chainlinkAnswerScale), nil
}

func (c *CDPStrategy) fetchMCR(ctx context.Context) (*big.Int, error) {
	raw, err := c.call(ctx, c.registryAddress, mcrSelector)
	if err != nil {
		return nil, err
	}
	return chain.BigFromUint256Bytes(raw), nil
}

func (c *CDPStrategy) fetchTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, err
	}
	return int64(header.Time), nil
}

func (c *CDPStrategy) call(ctx context.Context, to common.Address, selector [4]byte) ([]byte, error) {
	data := append([]byte{}, selector[:]...)
	return c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}
