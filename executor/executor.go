// Package executor implements the Liquidation Executor (spec.md §4.8):
// encode a protocol-specific liquidation call, fill/sign/submit, await a
// receipt, and collect a diagnostics trace. A send error aborts the current
// opportunity; a receipt error is logged but does not unmark the tracker.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/nhbchain/liquidationd/chain"
	"github.com/nhbchain/liquidationd/observability"
	"github.com/nhbchain/liquidationd/store"
	"github.com/nhbchain/liquidationd/tracker"
)

// Opportunity is the winning pooled candidate handed to the executor after
// ranking (spec.md §4.6).
type Opportunity struct {
	User              common.Address
	Collateral        common.Address
	Debt              common.Address
	CollateralAmount  *big.Int
	DebtAmount        *big.Int
}

var (
	liquidateSelector            [4]byte
	batchLiquidateTrovesSelector [4]byte
	executeSelector              [4]byte

	liquidateArgs abi.Arguments
	batchArgs     abi.Arguments
	executeArgs   abi.Arguments
)

func init() {
	liquidateSelector = selector4("liquidate(address,address,address,uint256,bytes,address)")
	batchLiquidateTrovesSelector = selector4("batchLiquidateTroves(uint256[])")
	executeSelector = selector4("execute(address,uint256,bytes)")

	liquidateArgs = abi.Arguments{
		{Type: mustType("address")},
		{Type: mustType("address")},
		{Type: mustType("address")},
		{Type: mustType("uint256")},
		{Type: mustType("bytes")},
		{Type: mustType("address")},
	}
	uint256ArrayTy, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		panic(fmt.Sprintf("executor: build uint256[] type: %v", err))
	}
	batchArgs = abi.Arguments{{Type: uint256ArrayTy}}

	executeArgs = abi.Arguments{
		{Type: mustType("address")},
		{Type: mustType("uint256")},
		{Type: mustType("bytes")},
	}
}

func selector4(sig string) [4]byte {
	hash := crypto.Keccak256Hash([]byte(sig))
	var sel [4]byte
	copy(sel[:], hash[:4])
	return sel
}

// Executor submits liquidation transactions for both protocol families
// against a deployed Liquidator adapter.
type Executor struct {
	client            chain.Client
	tracer            chain.Tracer
	signer            *Signer
	liquidatorAddress common.Address
	tracker           *tracker.Tracker
	pools             PairRegistry
	store             store.Store
	log               *slog.Logger
}

// New constructs an Executor. pools may be nil for a CDP-only deployment,
// since the CDP path never consults the pair registry.
func New(client chain.Client, tracer chain.Tracer, signer *Signer, liquidatorAddress common.Address, trk *tracker.Tracker, pools PairRegistry, st store.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client:            client,
		tracer:            tracer,
		signer:            signer,
		liquidatorAddress: liquidatorAddress,
		tracker:           trk,
		pools:             pools,
		store:             st,
		log:               logger,
	}
}

// ExecutePooled encodes and submits liquidate(collateral, debt, user,
// debtAmount, swapperBytes, swapperAddress), guarded by the Recent-Action
// Tracker (spec.md §4.2, §4.6).
func (e *Executor) ExecutePooled(ctx context.Context, opp Opportunity) error {
	positionID := tracker.PositionID(opp.User.Hex(), opp.Collateral.Hex())
	if e.tracker.Seen(positionID) {
		e.log.Info("pooled opportunity already tracked, skipping", "position", positionID)
		return nil
	}

	pool, ok := e.pools.Lookup(opp.Collateral, opp.Debt)
	if !ok {
		e.log.Warn("missing pair configuration, dropping opportunity",
			"collateral", opp.Collateral, "debt", opp.Debt)
		return nil
	}

	swapperData, err := EncodeSwapperData(pool.Router, opp.Debt, pool.Path)
	if err != nil {
		e.log.Warn("missing or invalid router configuration, dropping opportunity", "error", err)
		return nil
	}

	packed, err := liquidateArgs.Pack(opp.Collateral, opp.Debt, opp.User, opp.DebtAmount, swapperData, pool.SwapperAddress)
	if err != nil {
		return fmt.Errorf("encode liquidate call: %w", err)
	}
	calldata := append(append([]byte{}, liquidateSelector[:]...), packed...)

	return e.submit(ctx, "pooled", calldata, func() { e.tracker.Mark(positionID) })
}

// ExecuteCDP submits a single batchLiquidateTroves(ids) call against the
// generic Liquidator adapter's execute(target, value, calldata) entrypoint
// (spec.md §4.7, §4.8).
func (e *Executor) ExecuteCDP(ctx context.Context, troveManager common.Address, troveIDs []*big.Int) error {
	batchPacked, err := batchArgs.Pack(troveIDs)
	if err != nil {
		return fmt.Errorf("encode batchLiquidateTroves call: %w", err)
	}
	batchCalldata := append(append([]byte{}, batchLiquidateTrovesSelector[:]...), batchPacked...)

	execPacked, err := executeArgs.Pack(troveManager, big.NewInt(0), batchCalldata)
	if err != nil {
		return fmt.Errorf("encode execute call: %w", err)
	}
	calldata := append(append([]byte{}, executeSelector[:]...), execPacked...)

	return e.submit(ctx, "cdp", calldata, func() {})
}

// submit fills nonce, signs, sends, and — on successful send only — invokes
// onSent (which marks the tracker for the pooled path). A send failure
// aborts the opportunity without marking anything. A receipt or trace
// failure after a successful send is logged but never unmarks the tracker
// (spec.md §4.8, §7).
func (e *Executor) submit(ctx context.Context, protocol string, calldata []byte, onSent func()) error {
	nonce, err := e.client.PendingNonceAt(ctx, e.signer.Address())
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}

	tx, err := e.signer.SignLegacyTx(nonce, e.liquidatorAddress, calldata)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}

	sendErr := e.client.SendTransaction(ctx, tx)
	observability.Liquidationd().RecordSubmission(protocol, sendErr)
	if sendErr != nil {
		return fmt.Errorf("send transaction: %w", sendErr)
	}
	onSent()

	txHash := tx.Hash()
	outcome := "sent"
	receipt, err := e.awaitReceipt(ctx, txHash)
	if err != nil {
		e.log.Error("receipt fetch failed after send; tracker remains marked", "tx", txHash, "error", err)
		outcome = "receipt_error"
	} else if receipt.Status == 0 {
		outcome = "reverted"
	} else {
		outcome = "confirmed"
	}

	var traceJSON string
	if e.tracer != nil {
		raw, err := e.tracer.TraceTransaction(ctx, txHash)
		if err != nil {
			e.log.Warn("trace fetch failed", "tx", txHash, "error", err)
		} else {
			traceJSON = string(raw)
		}
	}

	if e.store != nil {
		if err := e.store.RecordDiagnosticsTrace(ctx, store.DiagnosticsTraceRow{
			ID:         uuid.NewString(),
			TxHash:     txHash.Hex(),
			Protocol:   protocol,
			RawTrace:   traceJSON,
			Outcome:    outcome,
			CapturedAt: time.Now(),
		}); err != nil {
			e.log.Warn("failed to record diagnostics trace", "tx", txHash, "error", err)
		}
	}

	return nil
}

func (e *Executor) awaitReceipt(ctx context.Context, hash common.Hash) (*receiptLike, error) {
	const attempts = 10
	const delay = 2 * time.Second
	for i := 0; i < attempts; i++ {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return &receiptLike{Status: receipt.Status}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("receipt not available after %d attempts", attempts)
}

// receiptLike decouples submit's outcome logic from go-ethereum's concrete
// Receipt type, keeping awaitReceipt trivially fakeable in tests.
type receiptLike struct {
	Status uint64
}
