package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	mapstructure "github.com/mitchellh/mapstructure"

	"github.com/tanpx12/chain-guard-bundler/core/eth"
	"github.com/tanpx12/chain-guard-bundler/core/reputation"
	"github.com/tanpx12/chain-guard-bundler/pkg/erc4337/bundler"
)

// Request is the JSON-RPC 2.0 request envelope: params are always
// positional.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  []interface{}   `json:"params"`
}

// Response is the JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the {message, data, code} shape required for typed
// failures.
type ResponseError struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Code    int         `json:"code"`
}

// addressDecodeHook lets mapstructure turn the loosely-typed JSON params
// (map[string]interface{} / string / float64) into the typed fields our
// request structs declare — chiefly string-to-common.Address, which
// mapstructure has no built-in conversion for.
func addressDecodeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(common.Address{}) {
		return data, nil
	}
	s, ok := data.(string)
	if !ok {
		return data, nil
	}
	if !common.IsHexAddress(s) {
		return nil, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// decodeParam decodes params[idx] into out using mapstructure, honoring the
// "mapstructure" tags on bundler.UserOperation and friends.
func decodeParam(params []interface{}, idx int, out interface{}) error {
	if idx >= len(params) {
		return fmt.Errorf("missing param at index %d", idx)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       addressDecodeHook,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params[idx])
}

func paramString(params []interface{}, idx int) (string, error) {
	if idx >= len(params) {
		return "", fmt.Errorf("missing param at index %d", idx)
	}
	s, ok := params[idx].(string)
	if !ok {
		return "", fmt.Errorf("param at index %d is not a string", idx)
	}
	return s, nil
}

func paramFloat(params []interface{}, idx int) (float64, error) {
	if idx >= len(params) {
		return 0, fmt.Errorf("missing param at index %d", idx)
	}
	f, ok := params[idx].(float64)
	if !ok {
		return 0, fmt.Errorf("param at index %d is not a number", idx)
	}
	return f, nil
}

func hexBig(v *big.Int) *hexutil.Big {
	if v == nil {
		return nil
	}
	return (*hexutil.Big)(v)
}

// gasEstimationResponse mirrors bundler.GasEstimation with every quantity
// serialized as 0x-hex, per the JSON-RPC "deep hexlify" requirement.
type gasEstimationResponse struct {
	PreVerificationGas *hexutil.Big `json:"preVerificationGas"`
	VerificationGas    *hexutil.Big `json:"verificationGas"`
	CallGasLimit       *hexutil.Big `json:"callGasLimit"`
	Deadline           *hexutil.Big `json:"deadline,omitempty"`
}

func newGasEstimationResponse(g *bundler.GasEstimation) *gasEstimationResponse {
	return &gasEstimationResponse{
		PreVerificationGas: hexBig(g.PreVerificationGas),
		VerificationGas:    hexBig(g.VerificationGas),
		CallGasLimit:       hexBig(g.CallGasLimit),
		Deadline:           hexBig(g.Deadline),
	}
}

// userOpLookupResponse mirrors eth.UserOperationLookup.
type userOpLookupResponse struct {
	UserOperation   *bundler.UserOperation `json:"userOperation"`
	EntryPoint      common.Address         `json:"entryPoint"`
	TransactionHash common.Hash            `json:"transactionHash"`
	BlockHash       common.Hash            `json:"blockHash"`
	BlockNumber     *hexutil.Big           `json:"blockNumber"`
}

func newUserOpLookupResponse(l *eth.UserOperationLookup) *userOpLookupResponse {
	if l == nil {
		return nil
	}
	return &userOpLookupResponse{
		UserOperation:   l.UserOperation,
		EntryPoint:      l.EntryPoint,
		TransactionHash: l.TransactionHash,
		BlockHash:       l.BlockHash,
		BlockNumber:     hexBig(l.BlockNumber),
	}
}

// userOpReceiptResponse mirrors eth.UserOperationReceipt; Logs and Receipt
// are passed through unchanged since go-ethereum's types already serialize
// their own fields as JSON-RPC-style hex.
type userOpReceiptResponse struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Nonce         *hexutil.Big   `json:"nonce"`
	Paymaster     common.Address `json:"paymaster"`
	ActualGasCost *hexutil.Big   `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big   `json:"actualGasUsed"`
	Success       bool           `json:"success"`
	Logs          []*types.Log   `json:"logs"`
	Receipt       *types.Receipt `json:"receipt"`
}

func newUserOpReceiptResponse(r *eth.UserOperationReceipt) *userOpReceiptResponse {
	if r == nil {
		return nil
	}
	logs := make([]*types.Log, len(r.Logs))
	for i := range r.Logs {
		logs[i] = &r.Logs[i]
	}
	return &userOpReceiptResponse{
		UserOpHash:    r.UserOpHash,
		Sender:        r.Sender,
		Nonce:         hexBig(r.Nonce),
		Paymaster:     r.Paymaster,
		ActualGasCost: hexBig(r.ActualGasCost),
		ActualGasUsed: hexBig(r.ActualGasUsed),
		Success:       r.Success,
		Logs:          logs,
		Receipt:       r.Receipt,
	}
}

// reputationDumpEntry is the {address, opsSeen, opsIncluded, status} shape
// debug_bundler_dumpReputation returns.
type reputationDumpEntry struct {
	Address     common.Address `json:"address"`
	OpsSeen     hexutil.Uint64 `json:"opsSeen"`
	OpsIncluded hexutil.Uint64 `json:"opsIncluded"`
	Status      string         `json:"status"`
}

func newReputationDumpEntry(e *reputation.Entry, status reputation.Status) *reputationDumpEntry {
	return &reputationDumpEntry{
		Address:     e.Address,
		OpsSeen:     hexutil.Uint64(e.OpsSeen),
		OpsIncluded: hexutil.Uint64(e.OpsIncluded),
		Status:      status.String(),
	}
}

// setReputationEntry is one element of the reputations[] array
// debug_bundler_setReputation takes.
type setReputationEntry struct {
	Address     common.Address `mapstructure:"address"`
	OpsSeen     uint64         `mapstructure:"opsSeen"`
	OpsIncluded uint64         `mapstructure:"opsIncluded"`
}
