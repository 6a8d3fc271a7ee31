package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Tracer fetches a post-submission diagnostic trace for a transaction, the
// "also collect a trace for diagnostics" requirement of spec.md §4.8. It is a
// narrow interface so the Executor can be tested without a live node.
type Tracer interface {
	TraceTransaction(ctx context.Context, hash common.Hash) (json.RawMessage, error)
}

// RPCTracer calls debug_traceTransaction over the same RPC connection an
// ethclient.Client already holds.
type RPCTracer struct {
	client *ethclient.Client
}

// NewRPCTracer wraps an already-dialled ethclient.Client for tracing.
func NewRPCTracer(client *ethclient.Client) *RPCTracer {
	return &RPCTracer{client: client}
}

func (t *RPCTracer) TraceTransaction(ctx context.Context, hash common.Hash) (json.RawMessage, error) {
	var raw json.RawMessage
	err := t.client.Client().CallContext(ctx, &raw, "debug_traceTransaction", hash, map[string]string{"tracer": "callTracer"})
	if err != nil {
		return nil, fmt.Errorf("trace_transaction: %w", err)
	}
	return raw, nil
}
