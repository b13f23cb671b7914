package bundling

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tanpx12/chain-guard-bundler/core/chainio/aa"
	"github.com/tanpx12/chain-guard-bundler/core/mempool"
	"github.com/tanpx12/chain-guard-bundler/core/reputation"
	"github.com/tanpx12/chain-guard-bundler/pkg/erc4337/bundler"
	"github.com/tanpx12/chain-guard-bundler/pkg/logger"
	"github.com/tanpx12/chain-guard-bundler/storage"
)

func newTestBundlingService(t *testing.T) *Service {
	t.Helper()
	store := storage.NewMemoryStore()
	rep, err := reputation.New(big.NewInt(1), store, reputation.Config{MinInclusionDenominator: 10}, logger.NewNoOpLogger(), nil)
	if err != nil {
		t.Fatalf("reputation.New: %v", err)
	}
	mp := mempool.New(big.NewInt(1), store, rep, logger.NewNoOpLogger(), nil)
	return &Service{
		chainID: big.NewInt(1),
		mempool: mp,
		rep:     rep,
		log:     logger.NewNoOpLogger(),
	}
}

func opFor(sender common.Address, nonce, tip string) *bundler.UserOperation {
	return &bundler.UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		CallData:             "0x",
		CallGasLimit:         "0x1",
		VerificationGasLimit: "0x1",
		PreVerificationGas:   "0x1",
		MaxFeePerGas:         tip,
		MaxPriorityFeePerGas: tip,
		Signature:            "0x1234",
	}
}

func TestPickEntryPointGroupsOrdersByQueueSizeDescending(t *testing.T) {
	s := newTestBundlingService(t)
	epSmall := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	epBig := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	sender1 := common.HexToAddress("0x1111111111111111111111111111111111111111")
	sender2 := common.HexToAddress("0x2222222222222222222222222222222222222222")
	sender3 := common.HexToAddress("0x3333333333333333333333333333333333333333")

	if _, err := s.mempool.AddUserOp(opFor(sender1, "0x1", "0x64"), epSmall, big.NewInt(0), aa.StakeInfo{}, "0xa", nil); err != nil {
		t.Fatalf("AddUserOp: %v", err)
	}
	if _, err := s.mempool.AddUserOp(opFor(sender2, "0x1", "0x64"), epBig, big.NewInt(0), aa.StakeInfo{}, "0xb", nil); err != nil {
		t.Fatalf("AddUserOp: %v", err)
	}
	if _, err := s.mempool.AddUserOp(opFor(sender3, "0x1", "0x64"), epBig, big.NewInt(0), aa.StakeInfo{}, "0xc", nil); err != nil {
		t.Fatalf("AddUserOp: %v", err)
	}

	groups, err := s.pickEntryPointGroups()
	if err != nil {
		t.Fatalf("pickEntryPointGroups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].entryPoint != epBig {
		t.Errorf("first group entryPoint = %s, want the larger queue %s", groups[0].entryPoint.Hex(), epBig.Hex())
	}
	if len(groups[0].candidates) != 2 {
		t.Errorf("got %d candidates in the first group, want 2", len(groups[0].candidates))
	}
	if groups[1].entryPoint != epSmall {
		t.Errorf("second group entryPoint = %s, want %s", groups[1].entryPoint.Hex(), epSmall.Hex())
	}
	if len(groups[1].candidates) != 1 {
		t.Errorf("got %d candidates in the second group, want 1", len(groups[1].candidates))
	}
}

func TestHandleSendFailurePurgesOnGenericReason(t *testing.T) {
	s := newTestBundlingService(t)
	ep := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")

	entry, err := s.mempool.AddUserOp(opFor(sender, "0x1", "0x64"), ep, big.NewInt(0), aa.StakeInfo{}, "0xhash", nil)
	if err != nil {
		t.Fatalf("AddUserOp: %v", err)
	}

	failedOp := &aa.FailedOpError{OpIndex: big.NewInt(0), Paymaster: common.Address{}, Reason: "AA23 reverted"}
	if err := s.handleSendFailure([]*mempool.Entry{entry}, ep, failedOp); err != failedOp {
		t.Errorf("handleSendFailure() = %v, want the original FailedOpError returned", err)
	}

	count, err := s.mempool.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0 after purge", count)
	}
}

func TestHandleSendFailureQuarantinesPaymaster(t *testing.T) {
	s := newTestBundlingService(t)
	ep := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")
	paymaster := common.HexToAddress("0x2222222222222222222222222222222222222222")

	entry, err := s.mempool.AddUserOp(opFor(sender, "0x1", "0x64"), ep, big.NewInt(0), aa.StakeInfo{}, "0xhash", nil)
	if err != nil {
		t.Fatalf("AddUserOp: %v", err)
	}

	failedOp := &aa.FailedOpError{OpIndex: big.NewInt(0), Paymaster: paymaster, Reason: "AA33 reverted"}
	if err := s.handleSendFailure([]*mempool.Entry{entry}, ep, failedOp); err != failedOp {
		t.Errorf("handleSendFailure() = %v, want the original FailedOpError returned", err)
	}

	status, err := s.rep.GetStatus(paymaster)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != reputation.BANNED {
		t.Errorf("paymaster status = %v, want BANNED after a crashed handleOps", status)
	}
}

func TestHandleSendFailureOnNonFailedOpLogsAndReturns(t *testing.T) {
	s := newTestBundlingService(t)
	ep := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")

	entry, err := s.mempool.AddUserOp(opFor(sender, "0x1", "0x64"), ep, big.NewInt(0), aa.StakeInfo{}, "0xhash", nil)
	if err != nil {
		t.Fatalf("AddUserOp: %v", err)
	}

	genericErr := &aa.ValidationResultError{}
	if err := s.handleSendFailure([]*mempool.Entry{entry}, ep, genericErr); err != genericErr {
		t.Errorf("handleSendFailure() = %v, want the original error returned unchanged", err)
	}

	count, err := s.mempool.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want the entry left untouched for a non-FailedOp error", count)
	}
}
