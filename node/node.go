package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/DQYXACML/minifuzz/common/errs"
)

const (
	defaultDialTimeout = 5 * time.Second

	defaultRequestTimeout = 100 * time.Second
)

// structLogConfig asks the default struct logger for the operand stack only
var structLogConfig = map[string]any{
	"enableMemory":     false,
	"disableStack":     false,
	"disableStorage":   true,
	"enableReturnData": false,
}

type RPC interface {
	Close()
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// TransactionArgs is the eth_sendTransaction payload for node-managed accounts
type TransactionArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Gas   hexutil.Uint64  `json:"gas"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data"`
}

// StructLog is one executed instruction of a debug_traceTransaction result.
// Stack holds hex words with the top of the stack last.
type StructLog struct {
	Pc      uint64   `json:"pc"`
	Op      string   `json:"op"`
	Gas     uint64   `json:"gas"`
	GasCost uint64   `json:"gasCost"`
	Depth   int      `json:"depth"`
	Error   string   `json:"error,omitempty"`
	Stack   []string `json:"stack"`
}

// TraceResult is the default (struct logger) output of debug_traceTransaction
type TraceResult struct {
	Gas         uint64      `json:"gas"`
	Failed      bool        `json:"failed"`
	ReturnValue string      `json:"returnValue"`
	StructLogs  []StructLog `json:"structLogs"`
}

type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Accounts(ctx context.Context) ([]common.Address, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	TxCountByAddress(ctx context.Context, address common.Address) (hexutil.Uint64, error)

	SendRawTransaction(ctx context.Context, rawTx string) (common.Hash, error)
	SendTransaction(ctx context.Context, args TransactionArgs) (common.Hash, error)
	TxReceiptByHash(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	TraceOpcodes(ctx context.Context, hash common.Hash) (*TraceResult, error)

	Close()
}

type myClient struct {
	rpc RPC
	log log.Logger
}

func DialEthClient(ctx context.Context, rpcUrl string) (EthClient, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, errs.WrapError(errs.ErrorTypeConnect, fmt.Sprintf("failed to dial address (%s)", rpcUrl), err)
	}

	client := NewEthClient(NewRPC(rpcClient), log.Root().New("module", "node"))
	// An endpoint that accepts the dial but serves nothing is still a failed connection
	if _, err := client.ChainID(ctx); err != nil {
		client.Close()
		return nil, errs.WrapError(errs.ErrorTypeConnect, fmt.Sprintf("node at %s is not responding", rpcUrl), err)
	}
	return client, nil
}

func NewEthClient(r RPC, logger log.Logger) EthClient {
	return &myClient{rpc: r, log: logger}
}

func (m *myClient) call(ctx context.Context, result any, method string, args ...any) error {
	ctxwt, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()
	if err := m.rpc.CallContext(ctxwt, result, method, args...); err != nil {
		return classifyRPCError(method, err)
	}
	return nil
}

func (m *myClient) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := m.call(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

func (m *myClient) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := m.call(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (m *myClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price hexutil.Big
	if err := m.call(ctx, &price, "eth_gasPrice"); err != nil {
		return nil, err
	}
	return (*big.Int)(&price), nil
}

func (m *myClient) TxCountByAddress(ctx context.Context, address common.Address) (hexutil.Uint64, error) {
	var nonce hexutil.Uint64
	if err := m.call(ctx, &nonce, "eth_getTransactionCount", address, "pending"); err != nil {
		m.log.Error("Call eth_getTransactionCount method fail", "err", err)
		return 0, err
	}
	m.log.Debug("get nonce by address success", "address", address, "nonce", nonce)
	return nonce, nil
}

func (m *myClient) SendRawTransaction(ctx context.Context, rawTx string) (common.Hash, error) {
	var hash common.Hash
	if err := m.call(ctx, &hash, "eth_sendRawTransaction", rawTx); err != nil {
		return common.Hash{}, err
	}
	m.log.Debug("send raw tx success", "hash", hash)
	return hash, nil
}

func (m *myClient) SendTransaction(ctx context.Context, args TransactionArgs) (common.Hash, error) {
	var hash common.Hash
	if err := m.call(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, err
	}
	m.log.Debug("send tx success", "hash", hash, "from", args.From)
	return hash, nil
}

func (m *myClient) TxReceiptByHash(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var txReceipt *types.Receipt
	if err := m.call(ctx, &txReceipt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	} else if txReceipt == nil {
		return nil, ethereum.NotFound
	}
	return txReceipt, nil
}

// TraceOpcodes replays the transaction with the default struct logger
func (m *myClient) TraceOpcodes(ctx context.Context, hash common.Hash) (*TraceResult, error) {
	var res TraceResult
	if err := m.call(ctx, &res, "debug_traceTransaction", hash, structLogConfig); err != nil {
		return nil, err
	}
	return &res, nil
}

func (m *myClient) Close() {
	m.rpc.Close()
}

// classifyRPCError separates error responses of the node, which will not
// change on retry, from transport failures.
func classifyRPCError(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return errs.NewAPIError(method+" rejected", rpcErr.ErrorCode(), err).AddContext("method", method)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.WrapError(errs.ErrorTypeTimeout, method+" timed out", err).AddContext("method", method)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errs.NewNetworkError(method+" failed", err).AddContext("method", method)
}

type rpcClient struct {
	rpc *rpc.Client
}

func NewRPC(client *rpc.Client) RPC {
	return &rpcClient{client}
}

func (c *rpcClient) Close() {
	c.rpc.Close()
}

func (c *rpcClient) CallContext(ctx context.Context, result any, method string, args ...any) error {
	return c.rpc.CallContext(ctx, result, method, args...)
}
