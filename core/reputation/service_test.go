package reputation

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tanpx12/chain-guard-bundler/core/chainio/aa"
	"github.com/tanpx12/chain-guard-bundler/pkg/logger"
	"github.com/tanpx12/chain-guard-bundler/storage"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	store := storage.NewMemoryStore()
	s, err := New(big.NewInt(1), store, cfg, logger.NewNoOpLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestUpdateSeenAndIncludedStatusPersist(t *testing.T) {
	s := newTestService(t, Config{MinInclusionDenominator: 10})
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	for i := 0; i < 5; i++ {
		if err := s.UpdateSeenStatus(addr); err != nil {
			t.Fatalf("UpdateSeenStatus: %v", err)
		}
	}
	if err := s.UpdateIncludedStatus(addr); err != nil {
		t.Fatalf("UpdateIncludedStatus: %v", err)
	}

	entry, err := s.get(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.OpsSeen != 5 {
		t.Errorf("OpsSeen = %d, want 5", entry.OpsSeen)
	}
	if entry.OpsIncluded != 1 {
		t.Errorf("OpsIncluded = %d, want 1", entry.OpsIncluded)
	}
}

func TestGetStatusReflectsThresholds(t *testing.T) {
	s := newTestService(t, Config{MinInclusionDenominator: 1})
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	if err := s.SetReputation(addr, 100, 0); err != nil {
		t.Fatalf("SetReputation: %v", err)
	}

	status, err := s.GetStatus(addr)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != BANNED {
		t.Errorf("GetStatus() = %v, want BANNED", status)
	}
}

func TestCheckStakeAllowsWhitelistedEvenWhenBanned(t *testing.T) {
	s := newTestService(t, Config{MinInclusionDenominator: 1})
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	if err := s.SetReputation(addr, 100, 0); err != nil {
		t.Fatalf("SetReputation: %v", err)
	}
	if err := s.AddWhitelist(addr); err != nil {
		t.Fatalf("AddWhitelist: %v", err)
	}

	reason, err := s.CheckStake(addr, aa.StakeInfo{})
	if err != nil {
		t.Fatalf("CheckStake: %v", err)
	}
	if reason != "" {
		t.Errorf("CheckStake() = %q, want empty for a whitelisted entity", reason)
	}
}

func TestCheckStakeRejectsBannedEntity(t *testing.T) {
	s := newTestService(t, Config{MinInclusionDenominator: 1})
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	if err := s.SetReputation(addr, 100, 0); err != nil {
		t.Fatalf("SetReputation: %v", err)
	}

	reason, err := s.CheckStake(addr, aa.StakeInfo{})
	if err != nil {
		t.Fatalf("CheckStake: %v", err)
	}
	if reason == "" {
		t.Error("expected a non-empty rejection reason for a banned entity")
	}
}

func TestCheckStakeRejectsInsufficientStakeAndUnstakeDelay(t *testing.T) {
	s := newTestService(t, Config{MinInclusionDenominator: 1, MinStake: big.NewInt(1000), MinUnstakeDelaySec: 86400})
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	reason, err := s.CheckStake(addr, aa.StakeInfo{Stake: big.NewInt(10), UnstakeDelaySec: big.NewInt(10)})
	if err != nil {
		t.Fatalf("CheckStake: %v", err)
	}
	if reason == "" {
		t.Error("expected a rejection reason when unstake delay is too short")
	}

	reason, err = s.CheckStake(addr, aa.StakeInfo{Stake: big.NewInt(10), UnstakeDelaySec: big.NewInt(999999)})
	if err != nil {
		t.Fatalf("CheckStake: %v", err)
	}
	if reason == "" {
		t.Error("expected a rejection reason when stake is too low")
	}

	reason, err = s.CheckStake(addr, aa.StakeInfo{Stake: big.NewInt(2000), UnstakeDelaySec: big.NewInt(999999)})
	if err != nil {
		t.Fatalf("CheckStake: %v", err)
	}
	if reason != "" {
		t.Errorf("CheckStake() = %q, want empty when stake and delay both clear the minimums", reason)
	}
}

func TestWhitelistAndBlacklistRoundTrip(t *testing.T) {
	s := newTestService(t, Config{MinInclusionDenominator: 1})
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	if err := s.AddBlacklist(addr); err != nil {
		t.Fatalf("AddBlacklist: %v", err)
	}
	blacklisted, err := s.IsBlacklisted(addr)
	if err != nil {
		t.Fatalf("IsBlacklisted: %v", err)
	}
	if !blacklisted {
		t.Error("expected address to be blacklisted")
	}

	if err := s.RemoveWhitelist(addr); err != nil {
		t.Fatalf("RemoveWhitelist (not present): %v", err)
	}

	if err := s.AddWhitelist(addr); err != nil {
		t.Fatalf("AddWhitelist: %v", err)
	}
	whitelisted, err := s.IsWhitelisted(addr)
	if err != nil {
		t.Fatalf("IsWhitelisted: %v", err)
	}
	if !whitelisted {
		t.Error("expected address to be whitelisted")
	}

	if err := s.RemoveWhitelist(addr); err != nil {
		t.Fatalf("RemoveWhitelist: %v", err)
	}
	whitelisted, err = s.IsWhitelisted(addr)
	if err != nil {
		t.Fatalf("IsWhitelisted: %v", err)
	}
	if whitelisted {
		t.Error("expected address to no longer be whitelisted after removal")
	}
}

func TestCrashedHandleOpsForcesBanned(t *testing.T) {
	s := newTestService(t, Config{MinInclusionDenominator: 1})
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	if err := s.CrashedHandleOps(addr); err != nil {
		t.Fatalf("CrashedHandleOps: %v", err)
	}

	status, err := s.GetStatus(addr)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != BANNED {
		t.Errorf("GetStatus() = %v, want BANNED after CrashedHandleOps", status)
	}
}
