package bundler

import "math/big"

// GasEstimation is the result shape of eth_estimateUserOperationGas.
// Deadline is omitted (nil) unless the validation result carried a
// validUntil timestamp.
type GasEstimation struct {
	PreVerificationGas *big.Int `json:"preVerificationGas"`
	VerificationGas    *big.Int `json:"verificationGas"`
	CallGasLimit       *big.Int `json:"callGasLimit"`
	Deadline           *big.Int `json:"deadline,omitempty"`
}
