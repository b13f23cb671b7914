package bundler

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func sampleUserOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Nonce:                "0x1",
		InitCode:             "0x",
		CallData:             "0xb61d27f6",
		CallGasLimit:         "0x5208",
		VerificationGasLimit: "0x186a0",
		PreVerificationGas:   "0xb3a8",
		MaxFeePerGas:         "0x3b9aca00",
		MaxPriorityFeePerGas: "0x3b9aca00",
		PaymasterAndData:     "0x",
		Signature:            "0x1234",
	}
}

func TestToABIFromABIRoundTrip(t *testing.T) {
	op := sampleUserOp()
	abiOp, err := op.ToABI()
	if err != nil {
		t.Fatalf("ToABI: %v", err)
	}
	back := FromABI(abiOp)

	if back.Sender != op.Sender {
		t.Errorf("sender mismatch: got %s want %s", back.Sender, op.Sender)
	}
	if back.Nonce != op.Nonce {
		t.Errorf("nonce mismatch: got %s want %s", back.Nonce, op.Nonce)
	}
	if back.MaxFeePerGas != op.MaxFeePerGas {
		t.Errorf("maxFeePerGas mismatch: got %s want %s", back.MaxFeePerGas, op.MaxFeePerGas)
	}
	if back.CallData != op.CallData {
		t.Errorf("callData mismatch: got %s want %s", back.CallData, op.CallData)
	}
}

func TestPaymasterAndFactoryExtraction(t *testing.T) {
	op := sampleUserOp()

	if op.HasPaymaster() {
		t.Error("expected no paymaster for empty paymasterAndData")
	}
	if op.HasFactory() {
		t.Error("expected no factory for empty initCode")
	}
	if op.Paymaster() != (common.Address{}) {
		t.Error("expected zero address when no paymaster set")
	}

	paymaster := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	op.PaymasterAndData = paymaster.Hex() + "deadbeef"
	if !op.HasPaymaster() {
		t.Error("expected paymaster to be detected")
	}
	if op.Paymaster() != paymaster {
		t.Errorf("got paymaster %s, want %s", op.Paymaster(), paymaster)
	}

	factory := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	op.InitCode = factory.Hex() + "cafebabe"
	if !op.HasFactory() {
		t.Error("expected factory to be detected")
	}
	if op.Factory() != factory {
		t.Errorf("got factory %s, want %s", op.Factory(), factory)
	}
}

func TestPackDeterministicLength(t *testing.T) {
	op := sampleUserOp()

	packed, err := op.Pack(false)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	// sender + nonce + initCodeHash + callDataHash + 5 gas/fee fields + paymasterHash + sigHash = 11*32
	if len(packed) != 352 {
		t.Errorf("got packed length %d, want 352", len(packed))
	}

	forSig, err := op.Pack(true)
	if err != nil {
		t.Fatalf("Pack(true): %v", err)
	}
	if len(forSig) != 320 {
		t.Errorf("got forSignature packed length %d, want 320", len(forSig))
	}
}
