package minifuzz

import (
	"context"
	"math/big"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/DQYXACML/minifuzz/compiler"
	"github.com/DQYXACML/minifuzz/config"
	"github.com/DQYXACML/minifuzz/database"
	"github.com/DQYXACML/minifuzz/fuzzer"
	"github.com/DQYXACML/minifuzz/node"
	"github.com/DQYXACML/minifuzz/tracing"
	"github.com/DQYXACML/minifuzz/txmgr/ethereum"
)

// MiniFuzz is one fuzzing campaign against a single contract
type MiniFuzz struct {
	cfg     *config.Config
	client  node.EthClient
	db      *database.DB
	fuzzer  *fuzzer.Fuzzer
	stopped atomic.Bool
}

func NewMiniFuzz(ctx context.Context, cfg *config.Config) (*MiniFuzz, error) {
	logger := log.Root()

	artifacts, err := compiler.NewCompiler(cfg.SolcPath, logger).Compile(ctx, cfg.ContractPath)
	if err != nil {
		log.Error("compile contract fail", "err", err)
		return nil, err
	}

	ethClient, err := node.DialEthClient(ctx, cfg.Chain.ChainRpcUrl)
	if err != nil {
		log.Error("new eth client fail", "err", err)
		return nil, err
	}

	var chainID *big.Int
	if cfg.Chain.ChainId != 0 {
		chainID = new(big.Int).SetUint64(uint64(cfg.Chain.ChainId))
	}
	sender, err := ethereum.NewTransactionSender(ctx, ethClient, ethereum.SenderConfig{
		PrivateKey:      cfg.Chain.PrivateKey,
		ChainID:         chainID,
		GasLimit:        cfg.Chain.GasLimit,
		ReceiptTimeout:  cfg.Chain.ReceiptTimeout,
		ReceiptInterval: cfg.Chain.ReceiptInterval,
	}, logger)
	if err != nil {
		ethClient.Close()
		log.Error("new transaction sender fail", "err", err)
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Info("input generator seeded", "seed", seed)
	builder := fuzzer.NewPlanBuilder(fuzzer.NewInputGenerator(rand.New(rand.NewSource(seed))), logger)

	reporters := tracing.MultiReporter{tracing.NewLogReporter(logger)}
	var opts []fuzzer.Option
	var db *database.DB
	if cfg.MasterDB.Enabled() {
		db, err = database.NewDB(ctx, cfg.MasterDB)
		if err != nil {
			ethClient.Close()
			log.Error("new database fail", "err", err)
			return nil, err
		}
		recorder := database.NewRecorder(db, logger)
		reporters = append(reporters, recorder)
		opts = append(opts, fuzzer.WithRecorder(recorder))
		log.Info("recording campaign", "campaign", recorder.Campaign())
	}

	chain := &chainConnector{sender: sender, tracer: tracing.NewTracer(ethClient, logger)}
	return &MiniFuzz{
		cfg:    cfg,
		client: ethClient,
		db:     db,
		fuzzer: fuzzer.NewFuzzer(artifacts, chain, builder, reporters, logger, opts...),
	}, nil
}

// Start runs every round and returns once the campaign is over
func (mf *MiniFuzz) Start(ctx context.Context) error {
	return mf.fuzzer.Run(ctx, mf.cfg.Rounds)
}

func (mf *MiniFuzz) Stop(ctx context.Context) error {
	if !mf.stopped.CompareAndSwap(false, true) {
		return nil
	}
	mf.client.Close()
	if mf.db != nil {
		return mf.db.Close()
	}
	return nil
}

func (mf *MiniFuzz) Stopped() bool {
	return mf.stopped.Load()
}

// chainConnector binds the transaction sender and tracer to the fuzzer
type chainConnector struct {
	sender *ethereum.TransactionSender
	tracer *tracing.Tracer
}

func (c *chainConnector) Deploy(ctx context.Context, contractABI *abi.ABI, bytecode []byte, args []any) (*ethereum.ContractHandle, error) {
	return c.sender.Deploy(ctx, contractABI, bytecode, args)
}

func (c *chainConnector) Execute(ctx context.Context, handle *ethereum.ContractHandle, plan fuzzer.FunctionPlan) (*types.Receipt, error) {
	return c.sender.Execute(ctx, handle, invocation(plan))
}

func (c *chainConnector) Trace(ctx context.Context, receipt *types.Receipt) (*tracing.Trace, error) {
	return c.tracer.Trace(ctx, receipt)
}

func invocation(plan fuzzer.FunctionPlan) ethereum.Invocation {
	return ethereum.Invocation{
		Method: plan.Name,
		Types:  plan.Types(),
		Args:   plan.Args,
		Value:  plan.Value,
	}
}
