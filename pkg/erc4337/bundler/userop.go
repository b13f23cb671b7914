package bundler

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tanpx12/chain-guard-bundler/core/chainio/aa"
)

// UserOperation is the RPC wire representation of an EIP-4337 user operation:
// every numeric/byte field is a 0x-prefixed hex string, matching what
// eth_sendUserOperation callers send and what debug_bundler_dumpMempool
// returns.
type UserOperation struct {
	Sender               common.Address `json:"sender" mapstructure:"sender" validate:"required"`
	Nonce                string         `json:"nonce" mapstructure:"nonce" validate:"required,hexadecimal"`
	InitCode             string         `json:"initCode" mapstructure:"initCode"`
	CallData             string         `json:"callData" mapstructure:"callData" validate:"required,hexadecimal"`
	CallGasLimit         string         `json:"callGasLimit" mapstructure:"callGasLimit" validate:"required,hexadecimal"`
	VerificationGasLimit string         `json:"verificationGasLimit" mapstructure:"verificationGasLimit" validate:"required,hexadecimal"`
	PreVerificationGas   string         `json:"preVerificationGas" mapstructure:"preVerificationGas" validate:"required,hexadecimal"`
	MaxFeePerGas         string         `json:"maxFeePerGas" mapstructure:"maxFeePerGas" validate:"required,hexadecimal"`
	MaxPriorityFeePerGas string         `json:"maxPriorityFeePerGas" mapstructure:"maxPriorityFeePerGas" validate:"required,hexadecimal"`
	PaymasterAndData     string         `json:"paymasterAndData" mapstructure:"paymasterAndData"`
	Signature            string         `json:"signature" mapstructure:"signature" validate:"required,hexadecimal"`
}

func hexToBig(s string) (*big.Int, error) {
	if s == "" || s == "0x" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex integer %q", s)
	}
	return v, nil
}

func hexToBytes(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return []byte{}, nil
	}
	return hexutil.Decode(s)
}

func bigToHex(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(v)
}

func bytesToHex(b []byte) string {
	if len(b) == 0 {
		return "0x"
	}
	return hexutil.Encode(b)
}

// ToABI converts the wire representation into the abigen struct the
// EntryPoint contract binding expects.
func (u *UserOperation) ToABI() (aa.UserOperation, error) {
	nonce, err := hexToBig(u.Nonce)
	if err != nil {
		return aa.UserOperation{}, fmt.Errorf("nonce: %w", err)
	}
	callGasLimit, err := hexToBig(u.CallGasLimit)
	if err != nil {
		return aa.UserOperation{}, fmt.Errorf("callGasLimit: %w", err)
	}
	verificationGasLimit, err := hexToBig(u.VerificationGasLimit)
	if err != nil {
		return aa.UserOperation{}, fmt.Errorf("verificationGasLimit: %w", err)
	}
	preVerificationGas, err := hexToBig(u.PreVerificationGas)
	if err != nil {
		return aa.UserOperation{}, fmt.Errorf("preVerificationGas: %w", err)
	}
	maxFeePerGas, err := hexToBig(u.MaxFeePerGas)
	if err != nil {
		return aa.UserOperation{}, fmt.Errorf("maxFeePerGas: %w", err)
	}
	maxPriorityFeePerGas, err := hexToBig(u.MaxPriorityFeePerGas)
	if err != nil {
		return aa.UserOperation{}, fmt.Errorf("maxPriorityFeePerGas: %w", err)
	}
	initCode, err := hexToBytes(u.InitCode)
	if err != nil {
		return aa.UserOperation{}, fmt.Errorf("initCode: %w", err)
	}
	callData, err := hexToBytes(u.CallData)
	if err != nil {
		return aa.UserOperation{}, fmt.Errorf("callData: %w", err)
	}
	paymasterAndData, err := hexToBytes(u.PaymasterAndData)
	if err != nil {
		return aa.UserOperation{}, fmt.Errorf("paymasterAndData: %w", err)
	}
	signature, err := hexToBytes(u.Signature)
	if err != nil {
		return aa.UserOperation{}, fmt.Errorf("signature: %w", err)
	}

	return aa.UserOperation{
		Sender:               u.Sender,
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             callData,
		CallGasLimit:         callGasLimit,
		VerificationGasLimit: verificationGasLimit,
		PreVerificationGas:   preVerificationGas,
		MaxFeePerGas:         maxFeePerGas,
		MaxPriorityFeePerGas: maxPriorityFeePerGas,
		PaymasterAndData:     paymasterAndData,
		Signature:            signature,
	}, nil
}

// FromABI converts an abigen UserOperation back into the hex-string wire form.
func FromABI(op aa.UserOperation) *UserOperation {
	return &UserOperation{
		Sender:               op.Sender,
		Nonce:                bigToHex(op.Nonce),
		InitCode:             bytesToHex(op.InitCode),
		CallData:             bytesToHex(op.CallData),
		CallGasLimit:         bigToHex(op.CallGasLimit),
		VerificationGasLimit: bigToHex(op.VerificationGasLimit),
		PreVerificationGas:   bigToHex(op.PreVerificationGas),
		MaxFeePerGas:         bigToHex(op.MaxFeePerGas),
		MaxPriorityFeePerGas: bigToHex(op.MaxPriorityFeePerGas),
		PaymasterAndData:     bytesToHex(op.PaymasterAndData),
		Signature:            bytesToHex(op.Signature),
	}
}

// Paymaster returns the first 20 bytes of paymasterAndData, or the zero
// address when none is set.
func (u *UserOperation) Paymaster() common.Address {
	b, err := hexToBytes(u.PaymasterAndData)
	if err != nil || len(b) < 20 {
		return common.Address{}
	}
	return common.BytesToAddress(b[:20])
}

// Factory returns the first 20 bytes of initCode, or the zero address when
// the sender is already deployed.
func (u *UserOperation) Factory() common.Address {
	b, err := hexToBytes(u.InitCode)
	if err != nil || len(b) < 20 {
		return common.Address{}
	}
	return common.BytesToAddress(b[:20])
}

// HasPaymaster reports whether paymasterAndData carries a paymaster address.
func (u *UserOperation) HasPaymaster() bool {
	b, err := hexToBytes(u.PaymasterAndData)
	return err == nil && len(b) >= 20
}

// HasFactory reports whether initCode carries a factory address.
func (u *UserOperation) HasFactory() bool {
	b, err := hexToBytes(u.InitCode)
	return err == nil && len(b) >= 20
}

func padLeft32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func bigPadded(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return padLeft32(v.Bytes())
}

// Pack encodes the user operation fields in EntryPoint's canonical order,
// each scalar left-padded to 32 bytes and each dynamic bytes field replaced
// by its keccak256 hash. When forSignature is false the signature hash is
// appended too; this is the packing used to compute preVerificationGas, not
// the EntryPoint's own userOpHash (that one is resolved on-chain via
// getUserOpHash).
func (u *UserOperation) Pack(forSignature bool) ([]byte, error) {
	nonce, err := hexToBig(u.Nonce)
	if err != nil {
		return nil, err
	}
	callGasLimit, err := hexToBig(u.CallGasLimit)
	if err != nil {
		return nil, err
	}
	verificationGasLimit, err := hexToBig(u.VerificationGasLimit)
	if err != nil {
		return nil, err
	}
	preVerificationGas, err := hexToBig(u.PreVerificationGas)
	if err != nil {
		return nil, err
	}
	maxFeePerGas, err := hexToBig(u.MaxFeePerGas)
	if err != nil {
		return nil, err
	}
	maxPriorityFeePerGas, err := hexToBig(u.MaxPriorityFeePerGas)
	if err != nil {
		return nil, err
	}
	initCode, err := hexToBytes(u.InitCode)
	if err != nil {
		return nil, err
	}
	callData, err := hexToBytes(u.CallData)
	if err != nil {
		return nil, err
	}
	paymasterAndData, err := hexToBytes(u.PaymasterAndData)
	if err != nil {
		return nil, err
	}

	var out []byte
	out = append(out, padLeft32(u.Sender.Bytes())...)
	out = append(out, bigPadded(nonce)...)
	out = append(out, crypto.Keccak256(initCode)...)
	out = append(out, crypto.Keccak256(callData)...)
	out = append(out, bigPadded(callGasLimit)...)
	out = append(out, bigPadded(verificationGasLimit)...)
	out = append(out, bigPadded(preVerificationGas)...)
	out = append(out, bigPadded(maxFeePerGas)...)
	out = append(out, bigPadded(maxPriorityFeePerGas)...)
	out = append(out, crypto.Keccak256(paymasterAndData)...)

	if !forSignature {
		signature, err := hexToBytes(u.Signature)
		if err != nil {
			return nil, err
		}
		out = append(out, crypto.Keccak256(signature)...)
	}

	return out, nil
}
