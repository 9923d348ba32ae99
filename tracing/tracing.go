package tracing

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/DQYXACML/minifuzz/common/errs"
	"github.com/DQYXACML/minifuzz/node"
)

// Trace is the decoded instruction stream of one mined transaction
type Trace struct {
	TxHash       common.Hash
	Failed       bool
	Gas          uint64
	Instructions []Instruction
}

// Tracer fetches struct logger traces through debug_traceTransaction
type Tracer struct {
	client   node.EthClient
	recovery *errs.ErrorRecovery
	log      log.Logger
}

func NewTracer(client node.EthClient, logger log.Logger) *Tracer {
	return &Tracer{
		client:   client,
		recovery: errs.NewErrorRecovery(),
		log:      logger,
	}
}

// Trace returns the instruction stream of the transaction behind receipt
func (t *Tracer) Trace(ctx context.Context, receipt *types.Receipt) (*Trace, error) {
	return t.TraceTransaction(ctx, receipt.TxHash)
}

// TraceTransaction replays txHash on the node. Transport failures are retried.
func (t *Tracer) TraceTransaction(ctx context.Context, txHash common.Hash) (*Trace, error) {
	var res *node.TraceResult
	err := t.recovery.RetryWithRecovery(ctx, func() error {
		var err error
		res, err = t.client.TraceOpcodes(ctx, txHash)
		return err
	})
	if err != nil {
		t.log.Error("failed to trace transaction", "txHash", txHash.Hex(), "err", err)
		return nil, errs.WrapError(errs.ErrorTypeTrace, "debug_traceTransaction failed", err).
			AddContext("tx", txHash.Hex())
	}

	t.log.Debug("traced transaction", "txHash", txHash.Hex(), "steps", len(res.StructLogs), "failed", res.Failed)
	return &Trace{
		TxHash:       txHash,
		Failed:       res.Failed,
		Gas:          res.Gas,
		Instructions: Decode(res.StructLogs),
	}, nil
}
