// Package eth implements the Eth facade: the RPC-facing orchestration
// layer tying together validation, mempool admission, and EntryPoint log
// lookups, one instance per configured network.
package eth

import (
	"context"
	"fmt"
	"math"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tanpx12/chain-guard-bundler/core/chainio/aa"
	"github.com/tanpx12/chain-guard-bundler/core/mempool"
	"github.com/tanpx12/chain-guard-bundler/core/reputation"
	"github.com/tanpx12/chain-guard-bundler/core/validation"
	"github.com/tanpx12/chain-guard-bundler/pkg/erc4337/bundler"
	"github.com/tanpx12/chain-guard-bundler/pkg/logger"
	"github.com/tanpx12/chain-guard-bundler/pkg/rpcerr"
)

// Gas overhead constants for the preVerificationGas formula.
const (
	fixedGas           = 21000
	perUserOpGas       = 18300
	perUserOpWord      = 4
	zeroByteGas        = 4
	nonZeroByteGas     = 16
	bundleSize         = 1
	sigPlaceholderSize = 65
)

// UserOperationLookup is the result shape for eth_getUserOperationByHash.
type UserOperationLookup struct {
	UserOperation   *bundler.UserOperation `json:"userOperation"`
	EntryPoint      common.Address         `json:"entryPoint"`
	TransactionHash common.Hash            `json:"transactionHash"`
	BlockHash       common.Hash            `json:"blockHash"`
	BlockNumber     *big.Int               `json:"blockNumber"`
}

// UserOperationReceipt is the result shape for eth_getUserOperationReceipt.
type UserOperationReceipt struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Nonce         *big.Int       `json:"nonce"`
	Paymaster     common.Address `json:"paymaster"`
	ActualGasCost *big.Int       `json:"actualGasCost"`
	ActualGasUsed *big.Int       `json:"actualGasUsed"`
	Success       bool           `json:"success"`
	Logs          []types.Log    `json:"logs"`
	Receipt       *types.Receipt `json:"receipt"`
}

// Facade is the per-network instance wiring the Eth-facing RPC operations
// to validation, mempool, and the raw EVM client.
type Facade struct {
	chainID     *big.Int
	client      *ethclient.Client
	entryPoints []common.Address
	mempool     *mempool.Service
	rep         *reputation.Service
	valid       *validation.Service
	log         logger.Logger

	entryPointBindings map[common.Address]*aa.EntryPoint
}

func New(chainID *big.Int, client *ethclient.Client, entryPoints []common.Address, mempoolSvc *mempool.Service, repSvc *reputation.Service, validSvc *validation.Service, log logger.Logger) (*Facade, error) {
	bindings := make(map[common.Address]*aa.EntryPoint, len(entryPoints))
	for _, addr := range entryPoints {
		ep, err := aa.NewEntryPoint(addr, client)
		if err != nil {
			return nil, fmt.Errorf("bind entrypoint %s: %w", addr.Hex(), err)
		}
		bindings[addr] = ep
	}
	return &Facade{
		chainID:            chainID,
		client:             client,
		entryPoints:        entryPoints,
		mempool:            mempoolSvc,
		rep:                repSvc,
		valid:              validSvc,
		log:                logger.EnsureLogger(log),
		entryPointBindings: bindings,
	}, nil
}

// checkBlacklist rejects userOp before any other admission check if its
// sender, paymaster, or factory is blacklisted.
func (f *Facade) checkBlacklist(userOp *bundler.UserOperation) error {
	addrs := []common.Address{userOp.Sender}
	if userOp.HasPaymaster() {
		addrs = append(addrs, userOp.Paymaster())
	}
	if userOp.HasFactory() {
		addrs = append(addrs, userOp.Factory())
	}
	reason, err := f.rep.CheckBlacklist(addrs...)
	if err != nil {
		return err
	}
	if reason != "" {
		return rpcerr.Invalid(reason)
	}
	return nil
}

func (f *Facade) isSupported(entryPoint common.Address) bool {
	for _, ep := range f.entryPoints {
		if ep == entryPoint {
			return true
		}
	}
	return false
}

// SendUserOperation validates, admits, and returns the EntryPoint-computed
// hash of userOp.
func (f *Facade) SendUserOperation(ctx context.Context, userOp *bundler.UserOperation, entryPoint common.Address) (string, error) {
	if err := f.checkBlacklist(userOp); err != nil {
		return "", err
	}
	if !f.isSupported(entryPoint) {
		return "", rpcerr.Invalid(fmt.Sprintf("entrypoint %s not supported", entryPoint.Hex()))
	}

	result, err := f.valid.SimulateCompleteValidation(ctx, userOp, entryPoint)
	if err != nil {
		return "", translateValidationError(err)
	}

	hash, err := f.getUserOpHash(ctx, entryPoint, userOp)
	if err != nil {
		return "", err
	}

	var aggregator *common.Address
	if _, err := f.mempool.AddUserOp(userOp, entryPoint, result.ReturnInfo.Prefund, result.SenderInfo, hash, aggregator); err != nil {
		return "", err
	}

	return hash, nil
}

// ValidateUserOperation runs the admission checks without persisting to the
// mempool: supported EntryPoint, isNewOrReplacing, then simulation.
func (f *Facade) ValidateUserOperation(ctx context.Context, userOp *bundler.UserOperation, entryPoint common.Address) (bool, error) {
	if err := f.checkBlacklist(userOp); err != nil {
		return false, err
	}
	if !f.isSupported(entryPoint) {
		return false, rpcerr.Invalid(fmt.Sprintf("entrypoint %s not supported", entryPoint.Hex()))
	}

	ok, err := f.mempool.IsNewOrReplacing(userOp, entryPoint)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, rpcerr.InvalidOp("fee too low")
	}

	if _, err := f.valid.SimulateCompleteValidation(ctx, userOp, entryPoint); err != nil {
		return false, translateValidationError(err)
	}
	return true, nil
}

// EstimateUserOperationGas runs a fee-less simulation to derive verification
// and call gas, then computes preVerificationGas by the standard formula.
func (f *Facade) EstimateUserOperationGas(ctx context.Context, userOp *bundler.UserOperation, entryPoint common.Address) (*bundler.GasEstimation, error) {
	if !f.isSupported(entryPoint) {
		return nil, rpcerr.Invalid(fmt.Sprintf("entrypoint %s not supported", entryPoint.Hex()))
	}

	feeless := *userOp
	feeless.MaxFeePerGas = "0x0"
	feeless.MaxPriorityFeePerGas = "0x0"
	feeless.PreVerificationGas = "0x0"
	feeless.VerificationGasLimit = "0x989680" // 10^7
	feeless.PaymasterAndData = "0x"

	result, err := f.valid.CallSimulateValidation(ctx, &feeless, entryPoint)
	if err != nil {
		return nil, translateValidationError(err)
	}

	callData, err := hexToBytesLoose(userOp.CallData)
	if err != nil {
		return nil, fmt.Errorf("callData: %w", err)
	}
	callGasLimit, err := f.client.EstimateGas(ctx, ethereum.CallMsg{
		From: entryPoint,
		To:   &userOp.Sender,
		Data: callData,
	})
	if err != nil {
		return nil, fmt.Errorf("estimateGas: %w", err)
	}

	preVerifGas, err := preVerificationGas(userOp)
	if err != nil {
		return nil, err
	}

	estimate := &bundler.GasEstimation{
		PreVerificationGas: preVerifGas,
		VerificationGas:    result.ReturnInfo.PreOpGas,
		CallGasLimit:       new(big.Int).SetUint64(callGasLimit),
	}
	if result.ReturnInfo.ValidUntil != nil && result.ReturnInfo.ValidUntil.Sign() > 0 {
		estimate.Deadline = result.ReturnInfo.ValidUntil
	}
	return estimate, nil
}

// preVerificationGas implements the standard formula: substitute the signature
// with sigPlaceholderSize bytes of 0x01, pack the op (forSignature=false),
// and cost the packed bytes at zero/nonzero-byte calldata rates.
func preVerificationGas(userOp *bundler.UserOperation) (*big.Int, error) {
	placeholder := make([]byte, sigPlaceholderSize)
	for i := range placeholder {
		placeholder[i] = 0x01
	}

	copyOp := *userOp
	copyOp.Signature = "0x" + common.Bytes2Hex(placeholder)

	packed, err := copyOp.Pack(false)
	if err != nil {
		return nil, fmt.Errorf("pack for preVerificationGas: %w", err)
	}

	var callDataCost float64
	for _, b := range packed {
		if b == 0 {
			callDataCost += zeroByteGas
		} else {
			callDataCost += nonZeroByteGas
		}
	}

	total := callDataCost + float64(fixedGas)/float64(bundleSize) + float64(perUserOpGas) + float64(perUserOpWord)*float64(len(packed))
	return big.NewInt(int64(math.Round(total))), nil
}

func (f *Facade) getUserOpHash(ctx context.Context, entryPoint common.Address, userOp *bundler.UserOperation) (string, error) {
	ep, ok := f.entryPointBindings[entryPoint]
	if !ok {
		return "", fmt.Errorf("no binding for entrypoint %s", entryPoint.Hex())
	}
	abiOp, err := userOp.ToABI()
	if err != nil {
		return "", err
	}
	hash, err := ep.GetUserOpHash(nil, abiOp)
	if err != nil {
		return "", err
	}
	return "0x" + common.Bytes2Hex(hash[:]), nil
}

// GetSupportedEntryPoints returns the configured EntryPoint addresses.
func (f *Facade) GetSupportedEntryPoints() []common.Address {
	return f.entryPoints
}

// GetChainID returns the configured chain id.
func (f *Facade) GetChainID() *big.Int {
	return f.chainID
}

// GetUserOperationByHash scans the configured EntryPoints for a matching
// UserOperationEvent log, then recovers the original userOp from the
// handleOps calldata of the transaction that emitted it.
func (f *Facade) GetUserOperationByHash(ctx context.Context, hash common.Hash) (*UserOperationLookup, error) {
	parsed, err := aa.EntryPointMetaData.GetAbi()
	if err != nil {
		return nil, err
	}
	eventSig := parsed.Events["UserOperationEvent"].ID

	for _, entryPoint := range f.entryPoints {
		logs, err := f.client.FilterLogs(ctx, ethereum.FilterQuery{
			Addresses: []common.Address{entryPoint},
			Topics:    [][]common.Hash{{eventSig}, {hash}},
		})
		if err != nil {
			return nil, fmt.Errorf("filterLogs(%s): %w", entryPoint.Hex(), err)
		}
		if len(logs) == 0 {
			continue
		}

		found := logs[len(logs)-1]
		tx, _, err := f.client.TransactionByHash(ctx, found.TxHash)
		if err != nil {
			return nil, fmt.Errorf("transactionByHash: %w", err)
		}

		event, err := f.entryPointBindings[entryPoint].ParseUserOperationEvent(found)
		if err != nil {
			return nil, fmt.Errorf("decode UserOperationEvent: %w", err)
		}

		userOp, err := findUserOpInCalldata(parsed, tx.Data(), event.Sender, event.Nonce)
		if err != nil {
			return nil, err
		}
		if userOp == nil {
			continue
		}

		return &UserOperationLookup{
			UserOperation:   bundler.FromABI(*userOp),
			EntryPoint:      entryPoint,
			TransactionHash: found.TxHash,
			BlockHash:       found.BlockHash,
			BlockNumber:     new(big.Int).SetUint64(found.BlockNumber),
		}, nil
	}

	return nil, nil
}

// GetUserOperationReceipt resolves the same log as GetUserOperationByHash,
// then slices the transaction's logs per the receipt log filtering
// algorithm: the matching UserOperationEvent is endIndex; the nearest
// preceding UserOperationEvent log for a *different* userOpHash (the
// previous op in the same bundle) is startIndex; the receipt's logs are
// logs[startIndex+1 .. endIndex].
func (f *Facade) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOperationReceipt, error) {
	parsed, err := aa.EntryPointMetaData.GetAbi()
	if err != nil {
		return nil, err
	}
	eventSig := parsed.Events["UserOperationEvent"].ID

	for _, entryPoint := range f.entryPoints {
		logs, err := f.client.FilterLogs(ctx, ethereum.FilterQuery{
			Addresses: []common.Address{entryPoint},
			Topics:    [][]common.Hash{{eventSig}, {hash}},
		})
		if err != nil {
			return nil, fmt.Errorf("filterLogs(%s): %w", entryPoint.Hex(), err)
		}
		if len(logs) == 0 {
			continue
		}

		matched := logs[len(logs)-1]
		event, err := f.entryPointBindings[entryPoint].ParseUserOperationEvent(matched)
		if err != nil {
			return nil, fmt.Errorf("decode UserOperationEvent: %w", err)
		}

		receipt, err := f.client.TransactionReceipt(ctx, matched.TxHash)
		if err != nil {
			return nil, fmt.Errorf("transactionReceipt: %w", err)
		}

		endIndex := -1
		for i, l := range receipt.Logs {
			if len(l.Topics) >= 2 && l.Topics[0] == eventSig && l.Topics[1] == hash {
				endIndex = i
			}
		}
		if endIndex < 0 {
			return nil, fmt.Errorf("UserOperationEvent not found in receipt logs for %s", hash.Hex())
		}

		startIndex := -1
		for i := endIndex - 1; i >= 0; i-- {
			l := receipt.Logs[i]
			if len(l.Topics) >= 2 && l.Topics[0] == eventSig && l.Topics[1] != hash {
				startIndex = i
				break
			}
		}

		sliced := make([]types.Log, 0, endIndex-startIndex)
		for i := startIndex + 1; i <= endIndex; i++ {
			sliced = append(sliced, *receipt.Logs[i])
		}

		return &UserOperationReceipt{
			UserOpHash:    hash,
			Sender:        event.Sender,
			Nonce:         event.Nonce,
			Paymaster:     event.Paymaster,
			ActualGasCost: event.ActualGasCost,
			ActualGasUsed: event.ActualGasUsed,
			Success:       event.Success,
			Logs:          sliced,
			Receipt:       receipt,
		}, nil
	}

	return nil, nil
}

// findUserOpInCalldata decodes a handleOps transaction's ops argument and
// returns the entry matching sender and nonce, or nil if the calldata isn't
// a handleOps call or contains no such entry.
func findUserOpInCalldata(parsed *abi.ABI, data []byte, sender common.Address, nonce *big.Int) (*aa.UserOperation, error) {
	if len(data) < 4 {
		return nil, nil
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil || method.Name != "handleOps" {
		return nil, nil
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("decode handleOps calldata: %w", err)
	}
	ops := *abi.ConvertType(values[0], new([]aa.UserOperation)).(*[]aa.UserOperation)
	for i := range ops {
		if ops[i].Sender == sender && ops[i].Nonce != nil && ops[i].Nonce.Cmp(nonce) == 0 {
			return &ops[i], nil
		}
	}
	return nil, nil
}

func translateValidationError(err error) error {
	return rpcerr.New(rpcerr.SimulationReverted, err.Error())
}

func hexToBytesLoose(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return []byte{}, nil
	}
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return common.Hex2BytesFixed(s, len(s)/2), nil
}
