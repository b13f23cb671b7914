package eth

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tanpx12/chain-guard-bundler/pkg/erc4337/bundler"
)

func TestPreVerificationGasSeesCallDataOnlyThroughItsHash(t *testing.T) {
	base := &bundler.UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                "0x1",
		CallData:             "0x",
		CallGasLimit:         "0x5208",
		VerificationGasLimit: "0x186a0",
		PreVerificationGas:   "0x0",
		MaxFeePerGas:         "0x0",
		MaxPriorityFeePerGas: "0x0",
		PaymasterAndData:     "0x",
		Signature:            "0x",
	}

	small, err := preVerificationGas(base)
	if err != nil {
		t.Fatalf("preVerificationGas: %v", err)
	}

	large := *base
	large.CallData = "0x" + hexRepeat("ab", 512)
	bigResult, err := preVerificationGas(&large)
	if err != nil {
		t.Fatalf("preVerificationGas (large callData): %v", err)
	}

	// Pack encodes callData as its 32-byte keccak hash, so the packed length
	// is the same for both ops; the keccak hashes of "" and of 512 0xab bytes
	// each hold exactly one zero byte, so the per-byte cost is identical too.
	if bigResult.Cmp(small) != 0 {
		t.Errorf("expected callData length not to change preVerificationGas: got %s vs %s", bigResult, small)
	}
}

func TestPreVerificationGasIncludesFixedOverhead(t *testing.T) {
	op := &bundler.UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                "0x0",
		CallData:             "0x",
		CallGasLimit:         "0x0",
		VerificationGasLimit: "0x0",
		PreVerificationGas:   "0x0",
		MaxFeePerGas:         "0x0",
		MaxPriorityFeePerGas: "0x0",
		PaymasterAndData:     "0x",
		Signature:            "0x",
	}

	got, err := preVerificationGas(op)
	if err != nil {
		t.Fatalf("preVerificationGas: %v", err)
	}
	if got.Sign() <= 0 {
		t.Errorf("expected a positive preVerificationGas even for an empty op, got %s", got)
	}
	if got.Cmp(big.NewInt(fixedGas)) <= 0 {
		t.Errorf("expected preVerificationGas %s to exceed the fixed overhead %d", got, fixedGas)
	}
}

func hexRepeat(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}
