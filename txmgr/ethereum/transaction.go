package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/DQYXACML/minifuzz/common/errs"
	"github.com/DQYXACML/minifuzz/node"
)

const (
	defaultGasLimit        = 6_000_000
	defaultReceiptTimeout  = 60 * time.Second
	defaultReceiptInterval = 500 * time.Millisecond
)

// SenderConfig selects the sending account. With an empty PrivateKey the
// node's first unlocked account is used and the node signs.
type SenderConfig struct {
	PrivateKey      string
	ChainID         *big.Int
	GasLimit        uint64
	ReceiptTimeout  time.Duration
	ReceiptInterval time.Duration
}

// ContractHandle is a deployed contract instance
type ContractHandle struct {
	Address  common.Address
	ABI      *abi.ABI
	DeployTx common.Hash
}

// Invocation is one contract method call. Types are the declared solidity
// parameter types, used to pick between overloads.
type Invocation struct {
	Method string
	Types  []string
	Args   []any
	Value  *big.Int
}

// TransactionSender deploys contracts and sends calls, one at a time, and
// waits for each to be mined.
type TransactionSender struct {
	client node.EthClient
	log    log.Logger

	privateKey *ecdsa.PrivateKey
	from       common.Address
	chainID    *big.Int

	gasLimit        uint64
	receiptTimeout  time.Duration
	receiptInterval time.Duration
}

func NewTransactionSender(ctx context.Context, client node.EthClient, cfg SenderConfig, logger log.Logger) (*TransactionSender, error) {
	ts := &TransactionSender{
		client:          client,
		log:             logger,
		chainID:         cfg.ChainID,
		gasLimit:        cfg.GasLimit,
		receiptTimeout:  cfg.ReceiptTimeout,
		receiptInterval: cfg.ReceiptInterval,
	}
	if ts.gasLimit == 0 {
		ts.gasLimit = defaultGasLimit
	}
	if ts.receiptTimeout <= 0 {
		ts.receiptTimeout = defaultReceiptTimeout
	}
	if ts.receiptInterval <= 0 {
		ts.receiptInterval = defaultReceiptInterval
	}

	if cfg.PrivateKey != "" {
		privateKeyEcdsa, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, errs.WrapError(errs.ErrorTypeConfig, "invalid private key", err)
		}
		ts.privateKey = privateKeyEcdsa
		ts.from = crypto.PubkeyToAddress(privateKeyEcdsa.PublicKey)

		if ts.chainID == nil || ts.chainID.Sign() == 0 {
			chainID, err := client.ChainID(ctx)
			if err != nil {
				return nil, errs.WrapError(errs.ErrorTypeConnect, "failed to query chain id", err)
			}
			ts.chainID = chainID
		}
	} else {
		accounts, err := client.Accounts(ctx)
		if err != nil {
			return nil, errs.WrapError(errs.ErrorTypeConnect, "failed to list node accounts", err)
		}
		if len(accounts) == 0 {
			return nil, errs.NewError(errs.ErrorTypeConnect, "node has no unlocked account and no private key is configured")
		}
		ts.from = accounts[0]
	}

	logger.Info("transaction sender ready", "from", ts.from, "signing", ts.signsLocally())
	return ts, nil
}

func (ts *TransactionSender) From() common.Address {
	return ts.from
}

func (ts *TransactionSender) signsLocally() bool {
	return ts.privateKey != nil
}

// Deploy creates a new instance of the contract. args are ABI-encoded
// against the constructor inputs and appended to the bytecode.
func (ts *TransactionSender) Deploy(ctx context.Context, contractABI *abi.ABI, bytecode []byte, args []any) (*ContractHandle, error) {
	converted, err := ConvertArgs(contractABI.Constructor.Inputs, args)
	if err != nil {
		return nil, errs.WrapError(errs.ErrorTypeDeploy, "convert constructor arguments", err)
	}
	input, err := contractABI.Pack("", converted...)
	if err != nil {
		return nil, errs.WrapError(errs.ErrorTypeDeploy, "pack constructor arguments", err)
	}
	data := append(append([]byte{}, bytecode...), input...)

	receipt, err := ts.send(ctx, nil, nil, data)
	if err != nil {
		return nil, errs.WrapError(errs.ErrorTypeDeploy, "deployment transaction failed", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errs.NewError(errs.ErrorTypeDeploy, "deployment reverted").AddContext("tx", receipt.TxHash.Hex())
	}
	if receipt.ContractAddress == (common.Address{}) {
		return nil, errs.NewError(errs.ErrorTypeDeploy, "receipt carries no contract address").AddContext("tx", receipt.TxHash.Hex())
	}

	ts.log.Info("contract deployed", "address", receipt.ContractAddress, "tx", receipt.TxHash)
	return &ContractHandle{
		Address:  receipt.ContractAddress,
		ABI:      contractABI,
		DeployTx: receipt.TxHash,
	}, nil
}

// Execute calls a method of a deployed contract and returns the receipt of
// the mined transaction, whether or not it reverted.
func (ts *TransactionSender) Execute(ctx context.Context, handle *ContractHandle, call Invocation) (*types.Receipt, error) {
	method, err := LookupMethod(handle.ABI, call.Method, call.Types, len(call.Args))
	if err != nil {
		return nil, errs.WrapError(errs.ErrorTypeExecute, "resolve method", err)
	}
	converted, err := ConvertArgs(method.Inputs, call.Args)
	if err != nil {
		return nil, errs.WrapError(errs.ErrorTypeExecute, "convert arguments", err).AddContext("method", call.Method)
	}
	packed, err := method.Inputs.Pack(converted...)
	if err != nil {
		return nil, errs.WrapError(errs.ErrorTypeExecute, "pack arguments", err).AddContext("method", call.Method)
	}
	data := append(append([]byte{}, method.ID...), packed...)

	ts.log.Info("executing function", "method", method.Sig, "value", call.Value)
	receipt, err := ts.send(ctx, &handle.Address, call.Value, data)
	if err != nil {
		return nil, errs.WrapError(errs.ErrorTypeExecute, "transaction failed", err).AddContext("method", call.Method)
	}
	ts.log.Info("function executed", "method", method.Sig, "tx", receipt.TxHash, "status", receipt.Status)
	return receipt, nil
}

func (ts *TransactionSender) send(ctx context.Context, to *common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}

	var hash common.Hash
	if ts.signsLocally() {
		nonce, err := ts.client.TxCountByAddress(ctx, ts.from)
		if err != nil {
			return nil, fmt.Errorf("failed to get nonce: %w", err)
		}
		gasPrice, err := ts.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}

		tx := types.NewTx(&types.LegacyTx{
			Nonce:    uint64(nonce),
			GasPrice: gasPrice,
			Gas:      ts.gasLimit,
			To:       to,
			Value:    value,
			Data:     data,
		})
		rawTx, txHash, err := OfflineSignTx(tx, ts.privateKey, ts.chainID)
		if err != nil {
			return nil, err
		}
		if _, err := ts.client.SendRawTransaction(ctx, rawTx); err != nil {
			return nil, err
		}
		hash = txHash
	} else {
		txHash, err := ts.client.SendTransaction(ctx, node.TransactionArgs{
			From:  ts.from,
			To:    to,
			Gas:   hexutil.Uint64(ts.gasLimit),
			Value: (*hexutil.Big)(value),
			Data:  data,
		})
		if err != nil {
			return nil, err
		}
		hash = txHash
	}

	return ts.waitReceipt(ctx, hash)
}

// waitReceipt polls for the receipt until it is mined or the receipt
// timeout expires. Transport errors while polling are tolerated.
func (ts *TransactionSender) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, ts.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(ts.receiptInterval)
	defer ticker.Stop()

	for {
		receipt, err := ts.client.TxReceiptByHash(ctx, hash)
		switch {
		case err == nil:
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
		case errs.IsType(err, errs.ErrorTypeNetwork):
			ts.log.Warn("receipt poll failed", "tx", hash, "err", err)
		default:
			return nil, err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errs.WrapError(errs.ErrorTypeTimeout, "transaction not mined in time", ctx.Err()).
					AddContext("tx", hash.Hex())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// OfflineSignTx signs tx and returns the 0x-prefixed RLP encoding and its hash
func OfflineSignTx(tx *types.Transaction, privateKey *ecdsa.PrivateKey, chainId *big.Int) (string, common.Hash, error) {
	signer := types.LatestSignerForChainID(chainId)

	signedTx, err := types.SignTx(tx, signer, privateKey)
	if err != nil {
		return "", common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	signedTxData, err := rlp.EncodeToBytes(signedTx)
	if err != nil {
		return "", common.Hash{}, fmt.Errorf("failed to encode transaction: %w", err)
	}

	return "0x" + hex.EncodeToString(signedTxData), signedTx.Hash(), nil
}
