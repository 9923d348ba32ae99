package tracing

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/minifuzz/common/errs"
	"github.com/DQYXACML/minifuzz/node"
)

type mockEthClient struct{ mock.Mock }

func (m *mockEthClient) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	id, _ := args.Get(0).(*big.Int)
	return id, args.Error(1)
}

func (m *mockEthClient) Accounts(ctx context.Context) ([]common.Address, error) {
	args := m.Called(ctx)
	accounts, _ := args.Get(0).([]common.Address)
	return accounts, args.Error(1)
}

func (m *mockEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	price, _ := args.Get(0).(*big.Int)
	return price, args.Error(1)
}

func (m *mockEthClient) TxCountByAddress(ctx context.Context, address common.Address) (hexutil.Uint64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(hexutil.Uint64), args.Error(1)
}

func (m *mockEthClient) SendRawTransaction(ctx context.Context, rawTx string) (common.Hash, error) {
	args := m.Called(ctx, rawTx)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *mockEthClient) SendTransaction(ctx context.Context, txArgs node.TransactionArgs) (common.Hash, error) {
	args := m.Called(ctx, txArgs)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *mockEthClient) TxReceiptByHash(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, hash)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}

func (m *mockEthClient) TraceOpcodes(ctx context.Context, hash common.Hash) (*node.TraceResult, error) {
	args := m.Called(ctx, hash)
	res, _ := args.Get(0).(*node.TraceResult)
	return res, args.Error(1)
}

func (m *mockEthClient) Close() {}

func fastTracer(client node.EthClient) *Tracer {
	tracer := NewTracer(client, log.Root())
	tracer.recovery.BaseDelay = time.Millisecond
	tracer.recovery.MaxDelay = time.Millisecond
	return tracer
}

func TestTracerDecodesTrace(t *testing.T) {
	client := new(mockEthClient)
	hash := common.HexToHash("0xabc")
	client.On("TraceOpcodes", mock.Anything, hash).Return(&node.TraceResult{
		Gas: 30000,
		StructLogs: []node.StructLog{
			{Pc: 0, Op: "PUSH1", Stack: []string{}},
			{Pc: 2, Op: "SLOAD", Stack: []string{"0x0"}},
			{Pc: 3, Op: "ORIGIN", Stack: []string{"0x1"}},
		},
	}, nil).Once()

	trace, err := fastTracer(client).Trace(context.Background(), &types.Receipt{TxHash: hash})
	require.NoError(t, err)
	assert.Equal(t, hash, trace.TxHash)
	assert.False(t, trace.Failed)
	require.Len(t, trace.Instructions, 3)
	assert.IsType(t, SLoad{}, trace.Instructions[1])
	assert.IsType(t, Origin{}, trace.Instructions[2])
	client.AssertExpectations(t)
}

func TestTracerRetriesTransportErrors(t *testing.T) {
	client := new(mockEthClient)
	hash := common.HexToHash("0xabc")
	client.On("TraceOpcodes", mock.Anything, hash).
		Return(nil, errs.NewNetworkError("debug_traceTransaction failed", errors.New("connection reset"))).Once()
	client.On("TraceOpcodes", mock.Anything, hash).
		Return(&node.TraceResult{Failed: true}, nil).Once()

	trace, err := fastTracer(client).TraceTransaction(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, trace.Failed)
	client.AssertExpectations(t)
}

func TestTracerGivesUpOnNodeErrors(t *testing.T) {
	client := new(mockEthClient)
	hash := common.HexToHash("0xabc")
	client.On("TraceOpcodes", mock.Anything, hash).
		Return(nil, errs.NewAPIError("debug_traceTransaction rejected", -32601, errors.New("method not found"))).Once()

	_, err := fastTracer(client).TraceTransaction(context.Background(), hash)
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeTrace))
	assert.Equal(t, errs.SeverityCall, errs.SeverityOf(err))
	client.AssertNumberOfCalls(t, "TraceOpcodes", 1)
}
