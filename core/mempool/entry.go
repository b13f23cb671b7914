package mempool

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tanpx12/chain-guard-bundler/pkg/erc4337/bundler"
)

// minBumpBps is the minimum bump, in percent (10 means 10%), a replacement
// must clear on both fee fields.
const minBumpBps = 10

// Entry is the value object binding a UserOperation to the EntryPoint it was
// validated against, its prefund, and bookkeeping fields.
type Entry struct {
	ChainID         *big.Int
	UserOp          *bundler.UserOperation
	EntryPoint      common.Address
	Prefund         *big.Int
	Aggregator      *common.Address
	Hash            string
	LastUpdatedTime time.Time

	// InsertionID breaks ties in CompareByCost by order of insertion into
	// the mempool. It's a ULID rather than a counter so ordering survives a
	// restart (a process-local sequence number would reset to zero and
	// reorder every pre-existing entry ahead of anything admitted after
	// the restart).
	InsertionID string
}

// Key returns the entry's mempool key: "{chainId}:{sender}:{nonce}".
func (e *Entry) Key() string {
	return fmt.Sprintf("%s:%s:%s", e.ChainID.String(), e.UserOp.Sender.Hex(), e.UserOp.Nonce)
}

func feeBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(trimHexPrefix(s), 16)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// minBumped returns old * (100+minBumpBps) / 100, the minimum value a
// replacement must meet or exceed.
func minBumped(old *big.Int) *big.Int {
	num := new(big.Int).Mul(old, big.NewInt(100+minBumpBps))
	return num.Div(num, big.NewInt(100))
}

// CanReplace reports whether incoming can replace e: both maxFeePerGas and
// maxPriorityFeePerGas must each meet or exceed a 10% bump over e's values.
func (e *Entry) CanReplace(incoming *Entry) bool {
	oldFee := feeBig(e.UserOp.MaxFeePerGas)
	oldTip := feeBig(e.UserOp.MaxPriorityFeePerGas)
	newFee := feeBig(incoming.UserOp.MaxFeePerGas)
	newTip := feeBig(incoming.UserOp.MaxPriorityFeePerGas)

	return newFee.Cmp(minBumped(oldFee)) >= 0 && newTip.Cmp(minBumped(oldTip)) >= 0
}

// CompareByCost orders entries descending by maxPriorityFeePerGas, breaking
// ties by order of insertion (lower InsertionID first).
func CompareByCost(a, b *Entry) bool {
	at := feeBig(a.UserOp.MaxPriorityFeePerGas)
	bt := feeBig(b.UserOp.MaxPriorityFeePerGas)
	if cmp := at.Cmp(bt); cmp != 0 {
		return cmp > 0
	}
	return a.InsertionID < b.InsertionID
}
