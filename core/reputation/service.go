package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/tanpx12/chain-guard-bundler/core/chainio/aa"
	"github.com/tanpx12/chain-guard-bundler/metrics"
	"github.com/tanpx12/chain-guard-bundler/pkg/logger"
	"github.com/tanpx12/chain-guard-bundler/storage"
)

// Config carries the per-network reputation thresholds from NetworkConfig.
type Config struct {
	MinInclusionDenominator uint64
	ThrottlingSlack         uint64
	BanSlack                uint64
	MinStake                *big.Int
	MinUnstakeDelaySec      uint64
}

// Service implements the reputation engine: persisted opsSeen/
// opsIncluded counters, whitelist/blacklist, and stake checks, backed by a
// bigcache read-through cache in front of the KV store.
type Service struct {
	chainID *big.Int
	store   storage.Store
	cache   *bigcache.BigCache
	cfg     Config
	log     logger.Logger
	metrics *metrics.Metrics
}

func New(chainID *big.Int, store storage.Store, cfg Config, log logger.Logger, m *metrics.Metrics) (*Service, error) {
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(5*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("init reputation cache: %w", err)
	}
	return &Service{
		chainID: chainID,
		store:   store,
		cache:   cache,
		cfg:     cfg,
		log:     logger.EnsureLogger(log),
		metrics: m,
	}, nil
}

func (s *Service) thresholds() thresholds {
	return thresholds{
		minInclusionDenominator: s.cfg.MinInclusionDenominator,
		throttlingSlack:         s.cfg.ThrottlingSlack,
		banSlack:                s.cfg.BanSlack,
	}
}

func (s *Service) indexKey() []byte {
	return storage.KeyPrefix(s.chainID.String(), "REPUTATION")
}

func (s *Service) entryKey(addr common.Address) []byte {
	return storage.KeyPrefix(s.chainID.String(), "REPUTATION", strings.ToLower(addr.Hex()))
}

func (s *Service) whitelistKey() []byte {
	return storage.KeyPrefix(s.chainID.String(), "REPUTATION", "WL")
}

func (s *Service) blacklistKey() []byte {
	return storage.KeyPrefix(s.chainID.String(), "REPUTATION", "BL")
}

func (s *Service) cacheKey(addr common.Address) string {
	return fmt.Sprintf("%s:%s", s.chainID.String(), strings.ToLower(addr.Hex()))
}

// get loads an entry, lazily creating a zero-initialized one if absent. A
// missing DB value is not an error.
func (s *Service) get(addr common.Address) (*Entry, error) {
	if cached, err := s.cache.Get(s.cacheKey(addr)); err == nil {
		var entry Entry
		if jsonErr := json.Unmarshal(cached, &entry); jsonErr == nil {
			return &entry, nil
		}
	}

	raw, found, err := s.store.Get(s.entryKey(addr))
	if err != nil {
		return nil, fmt.Errorf("get reputation entry for %s: %w", addr.Hex(), err)
	}

	entry := &Entry{ChainID: s.chainID, Address: addr}
	if found {
		if err := json.Unmarshal(raw, entry); err != nil {
			return nil, fmt.Errorf("decode reputation entry for %s: %w", addr.Hex(), err)
		}
	}

	entry.decay(time.Now())
	return entry, nil
}

func (s *Service) put(entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	if err := s.store.Put(s.entryKey(entry.Address), raw); err != nil {
		return fmt.Errorf("put reputation entry for %s: %w", entry.Address.Hex(), err)
	}

	if err := s.appendIndex(entry.Address); err != nil {
		return err
	}

	_ = s.cache.Set(s.cacheKey(entry.Address), raw)

	if s.metrics != nil {
		s.metrics.SetReputationStatus(s.chainID.String(), strings.ToLower(entry.Address.Hex()), int(entry.status(s.thresholds())))
	}
	return nil
}

func (s *Service) appendIndex(addr common.Address) error {
	addrs, err := s.listIndex(s.indexKey())
	if err != nil {
		return err
	}
	lower := strings.ToLower(addr.Hex())
	if lo.Contains(addrs, lower) {
		return nil
	}
	addrs = append(addrs, lower)
	return s.writeIndex(s.indexKey(), addrs)
}

func (s *Service) listIndex(key []byte) ([]string, error) {
	raw, found, err := s.store.Get(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var addrs []string
	if err := json.Unmarshal(raw, &addrs); err != nil {
		return nil, err
	}
	return addrs, nil
}

func (s *Service) writeIndex(key []byte, addrs []string) error {
	raw, err := json.Marshal(addrs)
	if err != nil {
		return err
	}
	return s.store.Put(key, raw)
}

// UpdateSeenStatus increments opsSeen for addr by one.
func (s *Service) UpdateSeenStatus(addr common.Address) error {
	entry, err := s.get(addr)
	if err != nil {
		return err
	}
	entry.OpsSeen++
	entry.LastUpdateTime = time.Now()
	return s.put(entry)
}

// UpdateIncludedStatus increments opsIncluded for addr by one.
func (s *Service) UpdateIncludedStatus(addr common.Address) error {
	entry, err := s.get(addr)
	if err != nil {
		return err
	}
	entry.OpsIncluded++
	entry.LastUpdateTime = time.Now()
	return s.put(entry)
}

// GetStatus computes the current OK/THROTTLED/BANNED classification.
func (s *Service) GetStatus(addr common.Address) (Status, error) {
	entry, err := s.get(addr)
	if err != nil {
		return BANNED, err
	}
	return entry.status(s.thresholds()), nil
}

// SetReputation overwrites both counters, used by the debug RPC surface.
func (s *Service) SetReputation(addr common.Address, seen, included uint64) error {
	entry := &Entry{
		ChainID:        s.chainID,
		Address:        addr,
		OpsSeen:        seen,
		OpsIncluded:    included,
		LastUpdateTime: time.Now(),
	}
	return s.put(entry)
}

// CrashedHandleOps quarantines an entity whose on-chain handleOps disagreed
// with its off-chain simulation: force BANNED by setting opsSeen=100,
// opsIncluded=0.
func (s *Service) CrashedHandleOps(addr common.Address) error {
	s.log.Warnf("reputation: crashedHandleOps for %s, forcing BANNED", addr.Hex())
	if err := s.SetReputation(addr, 100, 0); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncEntityBanned(s.chainID.String())
	}
	return nil
}

// CheckStake returns a non-empty rejection reason when addr is not
// whitelisted and either BANNED, under-staked, or its unstake delay is too
// short. An empty reason means the entity is OK to proceed.
func (s *Service) CheckStake(addr common.Address, stake aa.StakeInfo) (string, error) {
	whitelisted, err := s.IsWhitelisted(addr)
	if err != nil {
		return "", err
	}
	if whitelisted {
		return "", nil
	}

	status, err := s.GetStatus(addr)
	if err != nil {
		return "", err
	}
	if status == BANNED {
		return fmt.Sprintf("entity %s is banned", addr.Hex()), nil
	}

	if stake.UnstakeDelaySec == nil || stake.UnstakeDelaySec.Uint64() < s.cfg.MinUnstakeDelaySec {
		return fmt.Sprintf("entity %s unstake delay too low", addr.Hex()), nil
	}

	if s.cfg.MinStake != nil && (stake.Stake == nil || stake.Stake.Cmp(s.cfg.MinStake) < 0) {
		return fmt.Sprintf("entity %s stake too low", addr.Hex()), nil
	}

	return "", nil
}

func (s *Service) IsWhitelisted(addr common.Address) (bool, error) {
	addrs, err := s.listIndex(s.whitelistKey())
	if err != nil {
		return false, err
	}
	return lo.Contains(addrs, strings.ToLower(addr.Hex())), nil
}

func (s *Service) IsBlacklisted(addr common.Address) (bool, error) {
	addrs, err := s.listIndex(s.blacklistKey())
	if err != nil {
		return false, err
	}
	return lo.Contains(addrs, strings.ToLower(addr.Hex())), nil
}

// CheckBlacklist returns a non-empty rejection reason if any of addrs is
// blacklisted. Callers run this ahead of every other admission check —
// stake, reputation status, and simulation all cost more to compute than a
// blacklist lookup and none of them should run for a blacklisted entity.
func (s *Service) CheckBlacklist(addrs ...common.Address) (string, error) {
	for _, addr := range addrs {
		if addr == (common.Address{}) {
			continue
		}
		blacklisted, err := s.IsBlacklisted(addr)
		if err != nil {
			return "", err
		}
		if blacklisted {
			return fmt.Sprintf("entity %s is blacklisted", addr.Hex()), nil
		}
	}
	return "", nil
}

func (s *Service) AddWhitelist(addr common.Address) error {
	return s.addToList(s.whitelistKey(), addr)
}

func (s *Service) RemoveWhitelist(addr common.Address) error {
	return s.removeFromList(s.whitelistKey(), addr)
}

func (s *Service) AddBlacklist(addr common.Address) error {
	return s.addToList(s.blacklistKey(), addr)
}

func (s *Service) RemoveBlacklist(addr common.Address) error {
	return s.removeFromList(s.blacklistKey(), addr)
}

func (s *Service) addToList(key []byte, addr common.Address) error {
	addrs, err := s.listIndex(key)
	if err != nil {
		return err
	}
	lower := strings.ToLower(addr.Hex())
	if lo.Contains(addrs, lower) {
		return nil
	}
	return s.writeIndex(key, append(addrs, lower))
}

// removeFromList writes the filtered list back to the KV store so a removed
// address stays removed across restarts.
func (s *Service) removeFromList(key []byte, addr common.Address) error {
	addrs, err := s.listIndex(key)
	if err != nil {
		return err
	}
	lower := strings.ToLower(addr.Hex())
	filtered := lo.Filter(addrs, func(a string, _ int) bool { return a != lower })
	return s.writeIndex(key, filtered)
}

// Dump returns every known reputation entry, used by debug_bundler_dumpReputation.
func (s *Service) Dump() ([]*Entry, error) {
	addrs, err := s.listIndex(s.indexKey())
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(addrs))
	for _, a := range addrs {
		entry, err := s.get(common.HexToAddress(a))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
