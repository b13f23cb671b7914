package mempool

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tanpx12/chain-guard-bundler/pkg/erc4337/bundler"
)

func newEntry(sender string, maxFee, maxTip string, insertionID string) *Entry {
	return &Entry{
		ChainID: big.NewInt(1),
		UserOp: &bundler.UserOperation{
			Sender:               common.HexToAddress(sender),
			Nonce:                "0x1",
			MaxFeePerGas:         maxFee,
			MaxPriorityFeePerGas: maxTip,
		},
		InsertionID: insertionID,
	}
}

func TestCanReplaceRequiresTenPercentBumpOnBothFields(t *testing.T) {
	old := newEntry("0x1111111111111111111111111111111111111111", "0x64", "0x64", "a")

	tests := []struct {
		name    string
		fee     string
		tip     string
		canRepl bool
	}{
		{"exact ten percent bump on both", "0x6e", "0x6e", true}, // 100*110/100 = 110 = 0x6e, and the bound is inclusive
		{"below bump on fee", "0x65", "0x70", false},
		{"below bump on tip", "0x70", "0x65", false},
		{"equal, no bump", "0x64", "0x64", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incoming := newEntry("0x1111111111111111111111111111111111111111", tt.fee, tt.tip, "b")
			if got := old.CanReplace(incoming); got != tt.canRepl {
				t.Errorf("CanReplace() = %v, want %v", got, tt.canRepl)
			}
		})
	}
}

func TestCompareByCostOrdersByPriorityFeeDescending(t *testing.T) {
	low := newEntry("0x1111111111111111111111111111111111111111", "0x64", "0x32", "a")
	high := newEntry("0x2222222222222222222222222222222222222222", "0x64", "0x64", "b")

	if !CompareByCost(high, low) {
		t.Error("expected higher priority fee to sort first")
	}
	if CompareByCost(low, high) {
		t.Error("expected lower priority fee to not sort before higher")
	}
}

func TestCompareByCostBreaksTiesByInsertionID(t *testing.T) {
	first := newEntry("0x1111111111111111111111111111111111111111", "0x64", "0x64", "01AAAA")
	second := newEntry("0x2222222222222222222222222222222222222222", "0x64", "0x64", "01BBBB")

	if !CompareByCost(first, second) {
		t.Error("expected earlier insertion ID to sort first on a tie")
	}
	if CompareByCost(second, first) {
		t.Error("expected later insertion ID to not sort before earlier")
	}
}

func TestEntryKeyFormat(t *testing.T) {
	e := newEntry("0x1111111111111111111111111111111111111111", "0x1", "0x1", "a")
	e.UserOp.Nonce = "0x5"
	want := "1:0x1111111111111111111111111111111111111111:0x5"
	if got := e.Key(); got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}
