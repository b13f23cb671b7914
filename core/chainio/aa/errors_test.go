package aa

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func packError(t *testing.T, name string, args ...interface{}) []byte {
	t.Helper()
	parsed, err := EntryPointMetaData.GetAbi()
	if err != nil {
		t.Fatalf("GetAbi: %v", err)
	}
	errABI, ok := parsed.Errors[name]
	if !ok {
		t.Fatalf("no %s error in EntryPoint ABI", name)
	}
	packed, err := errABI.Inputs.Pack(args...)
	if err != nil {
		t.Fatalf("pack %s: %v", name, err)
	}
	return append(errABI.ID.Bytes()[:4], packed...)
}

func TestDecodeRevertFailedOp(t *testing.T) {
	paymaster := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data := packError(t, "FailedOp", big.NewInt(2), paymaster, "AA21 didn't pay prefund")

	decoded := DecodeRevert(data)
	failedOp, ok := decoded.(*FailedOpError)
	if !ok {
		t.Fatalf("decoded type = %T, want *FailedOpError", decoded)
	}
	if failedOp.OpIndex.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("OpIndex = %s, want 2", failedOp.OpIndex)
	}
	if failedOp.Paymaster != paymaster {
		t.Errorf("Paymaster = %s, want %s", failedOp.Paymaster.Hex(), paymaster.Hex())
	}
	if failedOp.Reason != "AA21 didn't pay prefund" {
		t.Errorf("Reason = %q", failedOp.Reason)
	}
}

func TestDecodeRevertValidationResult(t *testing.T) {
	returnInfo := ReturnInfo{
		PreOpGas:         big.NewInt(100000),
		Prefund:          big.NewInt(500000),
		SigFailed:        false,
		ValidAfter:       big.NewInt(0),
		ValidUntil:       big.NewInt(0),
		PaymasterContext: []byte{},
	}
	stake := StakeInfo{Stake: big.NewInt(0), UnstakeDelaySec: big.NewInt(0)}

	data := packError(t, "ValidationResult", returnInfo, stake, stake, stake)

	decoded := DecodeRevert(data)
	vr, ok := decoded.(*ValidationResultError)
	if !ok {
		t.Fatalf("decoded type = %T, want *ValidationResultError", decoded)
	}
	if vr.ReturnInfo.PreOpGas.Cmp(returnInfo.PreOpGas) != 0 {
		t.Errorf("PreOpGas = %s, want %s", vr.ReturnInfo.PreOpGas, returnInfo.PreOpGas)
	}
	if vr.ReturnInfo.Prefund.Cmp(returnInfo.Prefund) != 0 {
		t.Errorf("Prefund = %s, want %s", vr.ReturnInfo.Prefund, returnInfo.Prefund)
	}
}

func TestDecodeRevertTooShort(t *testing.T) {
	err := DecodeRevert([]byte{0x01, 0x02})
	if !errors.Is(err, errRevertTooShort) {
		t.Errorf("got %v, want errRevertTooShort", err)
	}
}

func TestDecodeRevertUnrecognizedSelector(t *testing.T) {
	err := DecodeRevert([]byte{0xde, 0xad, 0xbe, 0xef, 0x00})
	if err == nil {
		t.Fatal("expected an error for an unrecognized selector")
	}
}

type fakeDataErr struct {
	data interface{}
}

func (f fakeDataErr) Error() string        { return "revert" }
func (f fakeDataErr) ErrorData() interface{} { return f.data }

func TestExtractRevertDataFromHexString(t *testing.T) {
	err := fakeDataErr{data: "0xdeadbeef"}
	got := ExtractRevertData(err)
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	if len(got) != len(want) {
		t.Fatalf("got %x, want %x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %x, want %x", got, want)
		}
	}
}

func TestExtractRevertDataFromBytes(t *testing.T) {
	want := []byte{0x01, 0x02, 0x03}
	err := fakeDataErr{data: want}
	got := ExtractRevertData(err)
	if len(got) != len(want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestExtractRevertDataNonDataError(t *testing.T) {
	if got := ExtractRevertData(errors.New("plain error")); got != nil {
		t.Errorf("got %x, want nil for a non-data error", got)
	}
}
