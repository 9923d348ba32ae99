package fuzzer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/DQYXACML/minifuzz/common/errs"
	"github.com/DQYXACML/minifuzz/compiler"
	"github.com/DQYXACML/minifuzz/tracing"
	"github.com/DQYXACML/minifuzz/txmgr/ethereum"
)

// ChainConnector deploys contracts, executes planned calls and traces them
type ChainConnector interface {
	Deploy(ctx context.Context, contractABI *abi.ABI, bytecode []byte, args []any) (*ethereum.ContractHandle, error)
	Execute(ctx context.Context, handle *ethereum.ContractHandle, plan FunctionPlan) (*types.Receipt, error)
	Trace(ctx context.Context, receipt *types.Receipt) (*tracing.Trace, error)
}

// CallOutcome is how far a planned call got
type CallOutcome string

const (
	OutcomeAnalyzed CallOutcome = "analyzed"
	OutcomeReverted CallOutcome = "reverted"
	OutcomeSkipped  CallOutcome = "skipped"
)

// CallRecord describes one planned call after it ran
type CallRecord struct {
	Round    int
	Contract common.Address
	Function string
	TxHash   common.Hash
	Value    *big.Int
	Outcome  CallOutcome
	Findings int
}

// CallRecorder receives a record of every planned call
type CallRecorder interface {
	RecordCall(ctx context.Context, record CallRecord) error
}

type Option func(*Fuzzer)

func WithRecorder(recorder CallRecorder) Option {
	return func(f *Fuzzer) {
		f.recorder = recorder
	}
}

// Fuzzer runs independent rounds against fresh contract instances. Each
// round deploys, calls every planned function in order and runs the detector
// over every successful call's trace.
type Fuzzer struct {
	artifacts *compiler.Output
	chain     ChainConnector
	builder   *PlanBuilder
	detector  *tracing.Detector
	sink      *findingSink
	recorder  CallRecorder
	stats     *Stats
	log       log.Logger
}

func NewFuzzer(artifacts *compiler.Output, chain ChainConnector, builder *PlanBuilder, reporter tracing.Reporter, logger log.Logger, opts ...Option) *Fuzzer {
	stats := NewStats()
	sink := &findingSink{next: reporter, stats: stats}
	f := &Fuzzer{
		artifacts: artifacts,
		chain:     chain,
		builder:   builder,
		detector:  tracing.NewDetector(sink),
		sink:      sink,
		stats:     stats,
		log:       logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fuzzer) Stats() *Stats {
	return f.stats
}

// Run executes rounds sequentially. Only a fatal error or cancellation of
// ctx ends it early.
func (f *Fuzzer) Run(ctx context.Context, rounds int) error {
	f.log.Info("starting fuzzing campaign", "contract", f.artifacts.ContractName, "rounds", rounds)
	defer func() { f.stats.Snapshot().Log(f.log) }()

	for round := 0; round < rounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.log.Info("running test case", "round", round)
		if err := f.runRound(ctx, round); err != nil {
			return err
		}
		f.log.Info("test case finished", "round", round)
	}
	return nil
}

func (f *Fuzzer) runRound(ctx context.Context, round int) error {
	f.stats.RoundStarted()

	plan, err := f.builder.Build(f.artifacts.AST, f.artifacts.ContractName)
	if err != nil {
		f.log.Error("test plan could not be built", "round", round, "err", err)
		f.stats.RoundAborted()
		return nil
	}

	handle, err := f.chain.Deploy(ctx, f.artifacts.ABI, f.artifacts.Bytecode, plan.ConstructorArgs())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errs.SeverityOf(err) == errs.SeverityFatal {
			return err
		}
		f.log.Error("contract could not be deployed", "round", round, "err", err)
		f.stats.RoundAborted()
		return nil
	}

	for _, fn := range plan.Functions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.runCall(ctx, round, handle, fn); err != nil {
			return err
		}
	}
	f.stats.RoundCompleted()
	return nil
}

// runCall only returns an error that must end the campaign
func (f *Fuzzer) runCall(ctx context.Context, round int, handle *ethereum.ContractHandle, fn FunctionPlan) error {
	record := CallRecord{
		Round:    round,
		Contract: handle.Address,
		Function: fn.Name,
		Value:    fn.Value,
		Outcome:  OutcomeSkipped,
	}
	defer f.record(ctx, &record)

	receipt, err := f.chain.Execute(ctx, handle, fn)
	if err != nil {
		return f.skipCall(ctx, round, fn, "contract function could not be executed", err)
	}
	record.TxHash = receipt.TxHash

	if receipt.Status != types.ReceiptStatusSuccessful {
		f.log.Info("transaction reverted", "round", round, "function", fn.Name, "tx", receipt.TxHash)
		record.Outcome = OutcomeReverted
		f.stats.CallReverted()
		return nil
	}

	trace, err := f.chain.Trace(ctx, receipt)
	if err != nil {
		return f.skipCall(ctx, round, fn, "transaction could not be traced", err)
	}
	if trace.Failed {
		f.log.Info("trace reports failed execution", "round", round, "function", fn.Name, "tx", receipt.TxHash)
		record.Outcome = OutcomeReverted
		f.stats.CallReverted()
		return nil
	}

	f.sink.set(round, fn.Name, receipt.TxHash)
	findings := f.detector.Analyze(trace.Instructions)
	f.detector.Reset()

	record.Outcome = OutcomeAnalyzed
	record.Findings = len(findings)
	f.stats.CallExecuted()
	return nil
}

func (f *Fuzzer) skipCall(ctx context.Context, round int, fn FunctionPlan, msg string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errs.SeverityOf(err) == errs.SeverityFatal {
		return err
	}
	f.log.Warn(msg, "round", round, "function", fn.Name, "err", err)
	f.stats.CallSkipped()
	return nil
}

func (f *Fuzzer) record(ctx context.Context, record *CallRecord) {
	if f.recorder == nil || ctx.Err() != nil {
		return
	}
	if err := f.recorder.RecordCall(ctx, *record); err != nil {
		f.log.Warn("failed to record call", "function", record.Function, "err", err)
	}
}

// findingSink stamps detector findings with the call they came from
type findingSink struct {
	next  tracing.Reporter
	stats *Stats

	round    int
	function string
	txHash   common.Hash
}

func (s *findingSink) set(round int, function string, txHash common.Hash) {
	s.round = round
	s.function = function
	s.txHash = txHash
}

func (s *findingSink) Report(finding tracing.Finding) {
	finding.Round = s.round
	finding.Function = s.function
	finding.TxHash = s.txHash
	s.stats.RecordFinding(finding.Rule)
	if s.next != nil {
		s.next.Report(finding)
	}
}
