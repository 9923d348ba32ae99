package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
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

const vaultABI = `[
  {"type":"constructor","inputs":[{"name":"admin","type":"address"}],"stateMutability":"nonpayable"},
  {"type":"function","name":"deposit","inputs":[],"outputs":[],"stateMutability":"payable"},
  {"type":"function","name":"store","inputs":[{"name":"key","type":"bytes32"},{"name":"v","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"store","inputs":[{"name":"key","type":"string"},{"name":"v","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"}
]`

func parseVaultABI(t *testing.T) *abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	require.NoError(t, err)
	return &parsed
}

func testConfig() SenderConfig {
	return SenderConfig{
		GasLimit:        3_000_000,
		ReceiptTimeout:  time.Second,
		ReceiptInterval: time.Millisecond,
	}
}

func TestDeployWithPrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)
	chainID := big.NewInt(31337)
	contractAddr := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	admin := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

	client := new(mockEthClient)
	client.On("ChainID", mock.Anything).Return(chainID, nil).Once()
	client.On("TxCountByAddress", mock.Anything, from).Return(hexutil.Uint64(4), nil).Once()
	client.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(1_000_000_000), nil).Once()

	var sent *types.Transaction
	client.On("SendRawTransaction", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			raw, err := hexutil.Decode(args.String(1))
			require.NoError(t, err)
			sent = new(types.Transaction)
			require.NoError(t, sent.UnmarshalBinary(raw))
		}).Return(common.Hash{}, nil).Once()
	client.On("TxReceiptByHash", mock.Anything, mock.Anything).
		Return(nil, ethereum.NotFound).Once()
	client.On("TxReceiptByHash", mock.Anything, mock.Anything).
		Return(&types.Receipt{Status: types.ReceiptStatusSuccessful, ContractAddress: contractAddr}, nil).Once()

	cfg := testConfig()
	cfg.PrivateKey = "0x" + hex.EncodeToString(crypto.FromECDSA(key))
	sender, err := NewTransactionSender(context.Background(), client, cfg, log.Root())
	require.NoError(t, err)
	assert.Equal(t, from, sender.From())

	bytecode := []byte{0x60, 0x80, 0x60, 0x40}
	handle, err := sender.Deploy(context.Background(), parseVaultABI(t), bytecode, []any{admin})
	require.NoError(t, err)
	assert.Equal(t, contractAddr, handle.Address)

	require.NotNil(t, sent)
	assert.Nil(t, sent.To())
	assert.EqualValues(t, 4, sent.Nonce())
	assert.EqualValues(t, 3_000_000, sent.Gas())
	assert.Equal(t, bytecode, sent.Data()[:4])
	assert.Len(t, sent.Data(), 4+32)
	assert.Equal(t, common.HexToAddress(admin).Bytes(), sent.Data()[4+12:])

	signer, err := types.Sender(types.LatestSignerForChainID(chainID), sent)
	require.NoError(t, err)
	assert.Equal(t, from, signer)
	client.AssertExpectations(t)
}

func TestExecuteWithNodeAccount(t *testing.T) {
	account := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	contract := &ContractHandle{Address: common.HexToAddress("0x01"), ABI: parseVaultABI(t)}
	txHash := common.HexToHash("0xbeef")
	value := big.NewInt(2_000_000_000_000_000)

	client := new(mockEthClient)
	client.On("Accounts", mock.Anything).Return([]common.Address{account}, nil).Once()
	client.On("SendTransaction", mock.Anything, mock.MatchedBy(func(args node.TransactionArgs) bool {
		return args.From == account &&
			*args.To == contract.Address &&
			args.Value.ToInt().Cmp(value) == 0 &&
			len(args.Data) == 4
	})).Return(txHash, nil).Once()
	client.On("TxReceiptByHash", mock.Anything, txHash).
		Return(&types.Receipt{Status: types.ReceiptStatusFailed, TxHash: txHash}, nil).Once()

	sender, err := NewTransactionSender(context.Background(), client, testConfig(), log.Root())
	require.NoError(t, err)

	receipt, err := sender.Execute(context.Background(), contract, Invocation{Method: "deposit", Value: value})
	require.NoError(t, err, "a reverted call still yields its receipt")
	assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	client.AssertExpectations(t)
}

func TestNewTransactionSenderWithoutAccounts(t *testing.T) {
	client := new(mockEthClient)
	client.On("Accounts", mock.Anything).Return([]common.Address{}, nil).Once()

	_, err := NewTransactionSender(context.Background(), client, testConfig(), log.Root())
	require.Error(t, err)
	assert.Equal(t, errs.SeverityFatal, errs.SeverityOf(err))
}

func TestDeployRevertedIsRoundError(t *testing.T) {
	account := common.HexToAddress("0x01")
	client := new(mockEthClient)
	client.On("Accounts", mock.Anything).Return([]common.Address{account}, nil).Once()
	client.On("SendTransaction", mock.Anything, mock.Anything).Return(common.HexToHash("0x02"), nil).Once()
	client.On("TxReceiptByHash", mock.Anything, mock.Anything).
		Return(&types.Receipt{Status: types.ReceiptStatusFailed}, nil).Once()

	sender, err := NewTransactionSender(context.Background(), client, testConfig(), log.Root())
	require.NoError(t, err)

	_, err = sender.Deploy(context.Background(), parseVaultABI(t), []byte{0x60}, []any{"0x70997970C51812dc3A010C7d01b50e0d17dc79C8"})
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeDeploy))
	assert.Equal(t, errs.SeverityRound, errs.SeverityOf(err))
}

func TestWaitReceiptTimesOut(t *testing.T) {
	client := new(mockEthClient)
	client.On("Accounts", mock.Anything).Return([]common.Address{common.HexToAddress("0x01")}, nil).Once()
	client.On("SendTransaction", mock.Anything, mock.Anything).Return(common.HexToHash("0x02"), nil).Once()
	client.On("TxReceiptByHash", mock.Anything, mock.Anything).Return(nil, ethereum.NotFound)

	cfg := testConfig()
	cfg.ReceiptTimeout = 20 * time.Millisecond
	sender, err := NewTransactionSender(context.Background(), client, cfg, log.Root())
	require.NoError(t, err)

	contract := &ContractHandle{Address: common.HexToAddress("0x03"), ABI: parseVaultABI(t)}
	_, err = sender.Execute(context.Background(), contract, Invocation{Method: "deposit"})
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeTimeout))
	assert.Equal(t, errs.SeverityCall, errs.SeverityOf(err))
}

func TestWaitReceiptStopsOnNodeError(t *testing.T) {
	client := new(mockEthClient)
	client.On("Accounts", mock.Anything).Return([]common.Address{common.HexToAddress("0x01")}, nil).Once()
	client.On("SendTransaction", mock.Anything, mock.Anything).Return(common.HexToHash("0x02"), nil).Once()
	client.On("TxReceiptByHash", mock.Anything, mock.Anything).
		Return(nil, errs.NewAPIError("eth_getTransactionReceipt rejected", -32000, errors.New("boom"))).Once()

	sender, err := NewTransactionSender(context.Background(), client, testConfig(), log.Root())
	require.NoError(t, err)

	contract := &ContractHandle{Address: common.HexToAddress("0x03"), ABI: parseVaultABI(t)}
	_, err = sender.Execute(context.Background(), contract, Invocation{Method: "deposit"})
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeAPI))
	client.AssertNumberOfCalls(t, "TxReceiptByHash", 1)
}
