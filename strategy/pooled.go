package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nhbchain/liquidationd/chain"
	"github.com/nhbchain/liquidationd/events"
	"github.com/nhbchain/liquidationd/executor"
	"github.com/nhbchain/liquidationd/money"
	"github.com/nhbchain/liquidationd/observability"
	"github.com/nhbchain/liquidationd/store"
)

// ReserveConfig is the pooled protocol's per-asset configuration, loaded once
// at startup (spec.md §3 "ReserveConfiguration").
type ReserveConfig struct {
	Decimals           uint8
	LiquidationBonusBps int64
}

// batchSize bounds how many users are packed into a single multicall batch
// (spec.md §4.6 "partition into batches of 300").
const batchSize = 300

// healthFactorWad is 10^18, the fixed-point basis the pool's health factor is
// expressed in.
var healthFactorWad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// closeFactorThreshold is 0.95 * 10^18.
var closeFactorThreshold = big.NewInt(950_000_000_000_000_000)

const (
	defaultCloseFactorBps = 10000
	highHFCloseFactorBps  = 5000
)

var (
	getUserAccountDataSelector [4]byte
	getAssetPriceSelector      [4]byte
	addressArg                 = abi.Arguments{{Type: mustABIType("address")}}
)

func mustABIType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("strategy: build abi type %q: %v", name, err))
	}
	return t
}

func init() {
	getUserAccountDataSelector = selectorOf("getUserAccountData(address)")
	getAssetPriceSelector = selectorOf("getAssetPrice(address)")
}

func selectorOf(sig string) [4]byte {
	hash := crypto.Keccak256Hash([]byte(sig))
	var sel [4]byte
	copy(sel[:], hash[:4])
	return sel
}

// PooledStrategy implements the pooled-protocol state machine (spec.md §4.6):
// ingest pool events, update the mirror, scan users via multicall, rank the
// best opportunity, and submit.
type PooledStrategy struct {
	name           string
	poolAddress    common.Address
	gatewayAddress common.Address
	oracleAddress  common.Address
	reserves       map[common.Address]ReserveConfig

	st       store.Store
	client   chain.Client
	multi    *chain.Multicall
	executor *executor.Executor
	log      *slog.Logger
}

// NewPooledStrategy constructs a PooledStrategy. reserves must already be
// populated (loaded once at startup per spec.md §3).
func NewPooledStrategy(
	poolAddress, gatewayAddress, oracleAddress common.Address,
	reserves map[common.Address]ReserveConfig,
	st store.Store,
	client chain.Client,
	exec *executor.Executor,
	logger *slog.Logger,
) *PooledStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &PooledStrategy{
		name:           "PooledStrategy",
		poolAddress:    poolAddress,
		gatewayAddress: gatewayAddress,
		oracleAddress:  oracleAddress,
		reserves:       reserves,
		st:             st,
		client:         client,
		multi:          chain.NewMulticall(client),
		executor:       exec,
		log:            logger,
	}
}

func (p *PooledStrategy) Name() string { return p.name }

// OnLog decodes the event, applies the mirror-update table (spec.md §4.6),
// then advances LastBlock unconditionally.
func (p *PooledStrategy) OnLog(ctx context.Context, log types.Log) error {
	if log.Address != p.poolAddress {
		return nil
	}

	ev, ok := events.Decode(log)
	if ok {
		if err := p.applyEvent(ctx, ev); err != nil {
			return err
		}
	}

	return p.st.SetLastBlock(ctx, log.BlockNumber)
}

func (p *PooledStrategy) applyEvent(ctx context.Context, ev events.Event) error {
	switch ev.Kind {
	case events.KindSupply:
		return p.applySupply(ctx, ev)
	case events.KindBorrow:
		return p.applyBorrow(ctx, ev)
	case events.KindRepay:
		return p.applyRepay(ctx, ev)
	case events.KindWithdraw:
		return p.applyWithdraw(ctx, ev)
	case events.KindLiquidationCall:
		return p.applyLiquidationCall(ctx, ev)
	case events.KindCollateralEnabled:
		return p.applyCollateralToggle(ctx, ev, true)
	case events.KindCollateralDisabled:
		return p.applyCollateralToggle(ctx, ev, false)
	case events.KindReserveDataUpdated, events.KindIgnoredAncillary:
		return nil
	default:
		return nil
	}
}

// resolveUser substitutes the recovered transaction signer for the nominal
// event user when the nominal user is the configured gateway contract,
// exactly for Withdraw and Collateral-{En,Dis}abled (spec.md §4.6).
func (p *PooledStrategy) resolveUser(ctx context.Context, nominal common.Address, txHash common.Hash) (common.Address, error) {
	if nominal != p.gatewayAddress {
		return nominal, nil
	}
	tx, _, err := p.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve gateway user: fetch tx %s: %w", txHash, err)
	}
	chainID, err := p.client.NetworkID(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve gateway user: fetch chain id: %w", err)
	}
	signer := types.LatestSignerForChainID(chainID)
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve gateway user: recover signer: %w", err)
	}
	return sender, nil
}

func (p *PooledStrategy) applySupply(ctx context.Context, ev events.Event) error {
	existing, err := p.st.GetUserCollateralByAsset(ctx, ev.User.Hex(), ev.Reserve.Hex())
	if err != nil {
		return fmt.Errorf("supply: load existing collateral: %w", err)
	}
	balance := ev.Amount
	enabled := false
	if existing != nil {
		prev, err := money.ParseDecimal(existing.ScaledBalance)
		if err != nil {
			p.log.Warn("corrupt scaled balance, skipping row", "error", err)
			return nil
		}
		balance = money.SaturatingAdd(prev, ev.Amount)
		enabled = existing.Enabled
	}
	return p.st.UpsertUserCollateralWithEnabled(ctx, store.UserCollateralRow{
		UserAddress:       ev.User.Hex(),
		CollateralAddress: ev.Reserve.Hex(),
		ScaledBalance:     money.FormatDecimal(balance),
		Enabled:           enabled,
		LastUpdated:       int64(ev.BlockNumber),
	})
}

func (p *PooledStrategy) applyBorrow(ctx context.Context, ev events.Event) error {
	existing, err := p.st.GetUserDebtByAsset(ctx, ev.User.Hex(), ev.Reserve.Hex())
	if err != nil {
		return fmt.Errorf("borrow: load existing debt: %w", err)
	}
	balance := ev.Amount
	if existing != nil {
		prev, err := money.ParseDecimal(existing.ScaledBalance)
		if err != nil {
			p.log.Warn("corrupt scaled balance, skipping row", "error", err)
			return nil
		}
		balance = money.SaturatingAdd(prev, ev.Amount)
	}
	return p.st.UpsertUserDebt(ctx, store.UserDebtRow{
		UserAddress:  ev.User.Hex(),
		DebtAddress:  ev.Reserve.Hex(),
		ScaledBalance: money.FormatDecimal(balance),
		LastUpdated:  int64(ev.BlockNumber),
	})
}

func (p *PooledStrategy) applyRepay(ctx context.Context, ev events.Event) error {
	return p.reduceDebt(ctx, ev.User, ev.Reserve, ev.Amount, int64(ev.BlockNumber))
}

func (p *PooledStrategy) applyWithdraw(ctx context.Context, ev events.Event) error {
	user, err := p.resolveUser(ctx, ev.User, ev.TxHash)
	if err != nil {
		return err
	}
	return p.reduceCollateral(ctx, user, ev.Reserve, ev.Amount, int64(ev.BlockNumber))
}

func (p *PooledStrategy) applyLiquidationCall(ctx context.Context, ev events.Event) error {
	if err := p.reduceDebt(ctx, ev.User, ev.DebtAsset, ev.DebtToCover, int64(ev.BlockNumber)); err != nil {
		return err
	}
	return p.reduceCollateral(ctx, ev.User, ev.Reserve, ev.LiquidatedCollateralAmt, int64(ev.BlockNumber))
}

func (p *PooledStrategy) reduceDebt(ctx context.Context, user, asset common.Address, amount *big.Int, blockNumber int64) error {
	existing, err := p.st.GetUserDebtByAsset(ctx, user.Hex(), asset.Hex())
	if err != nil {
		return fmt.Errorf("reduce debt: load existing: %w", err)
	}
	if existing == nil {
		return nil
	}
	prev, err := money.ParseDecimal(existing.ScaledBalance)
	if err != nil {
		p.log.Warn("corrupt scaled balance, skipping row", "error", err)
		return nil
	}
	remaining := money.SaturatingSub(prev, amount)
	if remaining.Sign() == 0 {
		return p.st.DeleteUserDebt(ctx, user.Hex(), asset.Hex())
	}
	return p.st.UpsertUserDebt(ctx, store.UserDebtRow{
		UserAddress:  user.Hex(),
		DebtAddress:  asset.Hex(),
		ScaledBalance: money.FormatDecimal(remaining),
		LastUpdated:  blockNumber,
	})
}

func (p *PooledStrategy) reduceCollateral(ctx context.Context, user, asset common.Address, amount *big.Int, blockNumber int64) error {
	existing, err := p.st.GetUserCollateralByAsset(ctx, user.Hex(), asset.Hex())
	if err != nil {
		return fmt.Errorf("reduce collateral: load existing: %w", err)
	}
	if existing == nil {
		return nil
	}
	prev, err := money.ParseDecimal(existing.ScaledBalance)
	if err != nil {
		p.log.Warn("corrupt scaled balance, skipping row", "error", err)
		return nil
	}
	remaining := money.SaturatingSub(prev, amount)
	if remaining.Sign() == 0 {
		return p.st.DeleteUserCollateral(ctx, user.Hex(), asset.Hex())
	}
	return p.st.UpsertUserCollateralWithEnabled(ctx, store.UserCollateralRow{
		UserAddress:       user.Hex(),
		CollateralAddress: asset.Hex(),
		ScaledBalance:     money.FormatDecimal(remaining),
		Enabled:           existing.Enabled,
		LastUpdated:       blockNumber,
	})
}

func (p *PooledStrategy) applyCollateralToggle(ctx context.Context, ev events.Event, enabled bool) error {
	user, err := p.resolveUser(ctx, ev.User, ev.TxHash)
	if err != nil {
		return err
	}
	existing, err := p.st.GetUserCollateralByAsset(ctx, user.Hex(), ev.Reserve.Hex())
	if err != nil {
		return fmt.Errorf("collateral toggle: load existing: %w", err)
	}
	if existing == nil {
		return nil // no-op if row absent, per spec.md §4.6
	}
	existing.Enabled = enabled
	return p.st.UpsertUserCollateralWithEnabled(ctx, *existing)
}

// accountData mirrors the six U256 fields getUserAccountData returns.
type accountData struct {
	totalCollateralBase      *big.Int
	totalDebtBase            *big.Int
	availableBorrowsBase     *big.Int
	currentLiquidationThresh *big.Int
	ltv                      *big.Int
	healthFactor             *big.Int
}

// OnBlock pulls distinct debt holders, evaluates solvency in batches of 300
// via multicall, ranks the best opportunity across all liquidatable users
// and collateral/debt pairs, and submits it (spec.md §4.6).
func (p *PooledStrategy) OnBlock(ctx context.Context, blockNumber uint64) error {
	scanStart := time.Now()
	defer func() {
		observability.Liquidationd().ObserveScanLatency(p.name, time.Since(scanStart))
	}()

	users, err := p.st.GetAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("on_block: load users: %w", err)
	}

	liquidatable := make(map[common.Address]accountData)
	for start := 0; start < len(users); start += batchSize {
		end := start + batchSize
		if end > len(users) {
			end = len(users)
		}
		batch := users[start:end]

		calls := make([]chain.Call3, len(batch))
		for i, u := range batch {
			data, err := packAddressCall(getUserAccountDataSelector, common.HexToAddress(u))
			if err != nil {
				return fmt.Errorf("on_block: pack getUserAccountData: %w", err)
			}
			calls[i] = chain.Call3{Target: p.poolAddress, AllowFailure: true, CallData: data}
		}

		results, err := p.multi.Aggregate3(ctx, calls)
		if err != nil {
			p.log.Warn("multicall batch failed, skipping batch", "error", err)
			continue
		}

		for i, res := range results {
			if !res.Success || len(res.ReturnData) != 192 {
				// Malformed RPC result: record as not-liquidatable, never fatal.
				continue
			}
			ad := decodeAccountData(res.ReturnData)
			if ad.healthFactor.Cmp(healthFactorWad) < 0 {
				liquidatable[common.HexToAddress(batch[i])] = ad
			}
		}
	}

	if len(liquidatable) == 0 {
		return p.st.SetLastBlock(ctx, blockNumber)
	}

	prices, err := p.fetchPrices(ctx)
	if err != nil {
		return fmt.Errorf("on_block: fetch prices: %w", err)
	}

	best, found, err := p.bestOpportunity(ctx, liquidatable, prices)
	if err != nil {
		return fmt.Errorf("on_block: rank opportunities: %w", err)
	}
	if found {
		observability.Liquidationd().RecordOpportunityRanked(p.name)
		if err := p.executor.ExecutePooled(ctx, best); err != nil {
			p.log.Error("pooled liquidation submission failed", "error", err)
		}
	}

	return p.st.SetLastBlock(ctx, blockNumber)
}

func packAddressCall(selector [4]byte, addr common.Address) ([]byte, error) {
	packed, err := addressArg.Pack(addr)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, 4+len(packed))
	data = append(data, selector[:]...)
	data = append(data, packed...)
	return data, nil
}

func decodeAccountData(data []byte) accountData {
	return accountData{
		totalCollateralBase:      chain.BigFromUint256Bytes(data[0:32]),
		totalDebtBase:            chain.BigFromUint256Bytes(data[32:64]),
		availableBorrowsBase:     chain.BigFromUint256Bytes(data[64:96]),
		currentLiquidationThresh: chain.BigFromUint256Bytes(data[96:128]),
		ltv:                      chain.BigFromUint256Bytes(data[128:160]),
		healthFactor:             chain.BigFromUint256Bytes(data[160:192]),
	}
}

func (p *PooledStrategy) fetchPrices(ctx context.Context) (map[common.Address]*big.Int, error) {
	assets := make([]common.Address, 0, len(p.reserves))
	for asset := range p.reserves {
		assets = append(assets, asset)
	}

	calls := make([]chain.Call3, len(assets))
	for i, asset := range assets {
		data, err := packAddressCall(getAssetPriceSelector, asset)
		if err != nil {
			return nil, err
		}
		calls[i] = chain.Call3{Target: p.oracleAddress, AllowFailure: true, CallData: data}
	}

	results, err := p.multi.Aggregate3(ctx, calls)
	if err != nil {
		return nil, err
	}

	prices := make(map[common.Address]*big.Int, len(assets))
	for i, res := range results {
		if !res.Success || len(res.ReturnData) != 32 {
			continue
		}
		prices[assets[i]] = chain.BigFromUint256Bytes(res.ReturnData)
	}
	return prices, nil
}

// bestOpportunity implements the ranking formula of spec.md §4.6 exactly:
// close factor by health-factor threshold, percentMul/percentDiv with clamp
// recomputation, profit as collateralToLiquidate*collPrice -
// debtToCover*debtPrice, maximum profit wins, negative/zero profit skipped.
func (p *PooledStrategy) bestOpportunity(ctx context.Context, liquidatable map[common.Address]accountData, prices map[common.Address]*big.Int) (executor.Opportunity, bool, error) {
	var best executor.Opportunity
	var bestProfit *big.Int
	found := false

	for user, ad := range liquidatable {
		collRows, err := p.st.GetUserCollateral(ctx, user.Hex())
		if err != nil {
			return executor.Opportunity{}, false, err
		}
		debtRows, err := p.st.GetUserDebt(ctx, user.Hex())
		if err != nil {
			return executor.Opportunity{}, false, err
		}

		closeFactor := int64(defaultCloseFactorBps)
		if ad.healthFactor.Cmp(closeFactorThreshold) > 0 {
			closeFactor = highHFCloseFactorBps
		}

		for _, debtRow := range debtRows {
			debtAsset := common.HexToAddress(debtRow.DebtAddress)
			debtAmount, err := money.ParseDecimal(debtRow.ScaledBalance)
			if err != nil {
				p.log.Warn("corrupt debt balance, skipping row", "error", err)
				continue
			}
			debtPrice, ok := prices[debtAsset]
			if !ok {
				continue
			}
			debtReserve, ok := p.reserves[debtAsset]
			if !ok {
				continue
			}

			for _, collRow := range collRows {
				collAsset := common.HexToAddress(collRow.CollateralAddress)
				collAmount, err := money.ParseDecimal(collRow.ScaledBalance)
				if err != nil {
					p.log.Warn("corrupt collateral balance, skipping row", "error", err)
					continue
				}
				collPrice, ok := prices[collAsset]
				if !ok {
					continue
				}
				collReserve, ok := p.reserves[collAsset]
				if !ok {
					continue
				}

				opp, profit, ok, err := rankPair(debtAmount, debtPrice, debtReserve, collAmount, collPrice, collReserve, closeFactor)
				if err != nil {
					return executor.Opportunity{}, false, err
				}
				if !ok {
					continue
				}
				opp.User = user
				opp.Collateral = collAsset
				opp.Debt = debtAsset

				if bestProfit == nil || profit.Cmp(bestProfit) > 0 {
					best = opp
					bestProfit = profit
					found = true
				}
			}
		}
	}

	return best, found, nil
}

func rankPair(debtAmount, debtPrice *big.Int, debtReserve ReserveConfig, collAmount, collPrice *big.Int, collReserve ReserveConfig, closeFactorBps int64) (executor.Opportunity, *big.Int, bool, error) {
	debtUnit := pow10(debtReserve.Decimals)
	collUnit := pow10(collReserve.Decimals)

	debtToCover, err := money.MulDivTrunc(debtAmount, big.NewInt(closeFactorBps), big.NewInt(money.BasisPoints))
	if err != nil {
		return executor.Opportunity{}, nil, false, err
	}

	baseCollateral, err := baseCollateralAmount(debtPrice, debtToCover, debtUnit, collPrice, collUnit)
	if err != nil {
		return executor.Opportunity{}, nil, false, err
	}

	collateralToLiquidate := money.PercentMul(baseCollateral, collReserve.LiquidationBonusBps)

	if collateralToLiquidate.Cmp(collAmount) > 0 {
		collateralToLiquidate = collAmount
		numerator, err := money.MulDivTrunc(collPrice, collateralToLiquidate, big.NewInt(1))
		if err != nil {
			return executor.Opportunity{}, nil, false, err
		}
		numerator, err = money.MulDivTrunc(numerator, debtUnit, big.NewInt(1))
		if err != nil {
			return executor.Opportunity{}, nil, false, err
		}
		denomBase, err := money.MulDivTrunc(debtPrice, collUnit, big.NewInt(1))
		if err != nil {
			return executor.Opportunity{}, nil, false, err
		}
		denom, err := money.PercentDiv(denomBase, collReserve.LiquidationBonusBps)
		if err != nil {
			return executor.Opportunity{}, nil, false, err
		}
		if denom.Sign() == 0 {
			return executor.Opportunity{}, nil, false, nil
		}
		debtToCover = new(big.Int).Div(numerator, denom)
	}

	profitColl := money.SaturatingMul(collateralToLiquidate, collPrice)
	profitDebt := money.SaturatingMul(debtToCover, debtPrice)
	profit := new(big.Int).Sub(profitColl, profitDebt)
	if profit.Sign() <= 0 {
		return executor.Opportunity{}, nil, false, nil
	}

	return executor.Opportunity{
		CollateralAmount: collateralToLiquidate,
		DebtAmount:       debtToCover,
	}, profit, true, nil
}

// baseCollateralAmount computes (debtPrice*debtToCover*debtUnit)/(collPrice*collUnit).
func baseCollateralAmount(debtPrice, debtToCover, debtUnit, collPrice, collUnit *big.Int) (*big.Int, error) {
	numerator := money.SaturatingMul(money.SaturatingMul(debtPrice, debtToCover), debtUnit)
	denominator := money.SaturatingMul(collPrice, collUnit)
	if denominator.Sign() == 0 {
		return nil, fmt.Errorf("collateral price*unit is zero")
	}
	return new(big.Int).Div(numerator, denominator), nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
