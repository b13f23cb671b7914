package aa

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// FailedOpError mirrors the EntryPoint FailedOp(uint256,address,string) revert.
// Raised by handleOps when one op in the batch fails post-validation.
type FailedOpError struct {
	OpIndex   *big.Int
	Paymaster common.Address
	Reason    string
}

func (e *FailedOpError) Error() string {
	return fmt.Sprintf("FailedOp(%s, %s, %q)", e.OpIndex, e.Paymaster.Hex(), e.Reason)
}

// ValidationResultError mirrors the EntryPoint ValidationResult(...) revert
// that simulateValidation always raises on success: it is the carrier for
// the validation output, not a real failure.
type ValidationResultError struct {
	ReturnInfo    ReturnInfo
	SenderInfo    StakeInfo
	FactoryInfo   StakeInfo
	PaymasterInfo StakeInfo
}

func (e *ValidationResultError) Error() string {
	return "ValidationResult"
}

// ReturnInfo is the first tuple of the ValidationResult error.
type ReturnInfo struct {
	PreOpGas         *big.Int
	Prefund          *big.Int
	SigFailed        bool
	ValidAfter       *big.Int
	ValidUntil       *big.Int
	PaymasterContext []byte
}

// StakeInfo is the stake/unstakeDelaySec pair embedded in ValidationResult.
type StakeInfo struct {
	Stake           *big.Int
	UnstakeDelaySec *big.Int
}

var errRevertTooShort = errors.New("revert data shorter than a 4-byte selector")

// DecodeRevert inspects raw eth_call/eth_estimateGas revert data and decodes
// it as either FailedOp or ValidationResult, whichever selector matches. Any
// other selector is returned as an "unrecognized revert selector" error.
func DecodeRevert(data []byte) error {
	if len(data) < 4 {
		return errRevertTooShort
	}

	parsed, err := EntryPointMetaData.GetAbi()
	if err != nil {
		return err
	}

	selector := data[:4]

	if failedOpABI, ok := parsed.Errors["FailedOp"]; ok && matchesSelector(failedOpABI, selector) {
		values, err := failedOpABI.Inputs.Unpack(data[4:])
		if err != nil {
			return fmt.Errorf("decode FailedOp: %w", err)
		}
		return &FailedOpError{
			OpIndex:   values[0].(*big.Int),
			Paymaster: values[1].(common.Address),
			Reason:    values[2].(string),
		}
	}

	if validationABI, ok := parsed.Errors["ValidationResult"]; ok && matchesSelector(validationABI, selector) {
		values, err := validationABI.Inputs.Unpack(data[4:])
		if err != nil {
			return fmt.Errorf("decode ValidationResult: %w", err)
		}
		return &ValidationResultError{
			ReturnInfo:    decodeReturnInfo(values[0]),
			SenderInfo:    decodeStakeInfo(values[1]),
			FactoryInfo:   decodeStakeInfo(values[2]),
			PaymasterInfo: decodeStakeInfo(values[3]),
		}
	}

	return fmt.Errorf("unrecognized revert selector 0x%x", selector)
}

func matchesSelector(e abi.Error, selector []byte) bool {
	return string(e.ID.Bytes()[:4]) == string(selector)
}

func decodeReturnInfo(v interface{}) ReturnInfo {
	return *abi.ConvertType(v, new(ReturnInfo)).(*ReturnInfo)
}

func decodeStakeInfo(v interface{}) StakeInfo {
	return *abi.ConvertType(v, new(StakeInfo)).(*StakeInfo)
}

// dataErr is the interface go-ethereum's JSON-RPC transport implements on
// errors that carry revert data (rpc.DataError and friends).
type dataErr interface {
	ErrorData() interface{}
}

// ExtractRevertData pulls the raw revert bytes out of an error returned by
// ethclient.CallContract or a failed transaction send, or nil if err carries
// no such data.
func ExtractRevertData(err error) []byte {
	de, ok := err.(dataErr)
	if !ok {
		return nil
	}
	switch d := de.ErrorData().(type) {
	case string:
		b := common.FromHex(d)
		if len(b) == 0 {
			return nil
		}
		return b
	case []byte:
		return d
	default:
		return nil
	}
}
