package mempool

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"

	"github.com/tanpx12/chain-guard-bundler/core/chainio/aa"
	"github.com/tanpx12/chain-guard-bundler/core/reputation"
	"github.com/tanpx12/chain-guard-bundler/metrics"
	"github.com/tanpx12/chain-guard-bundler/pkg/erc4337/bundler"
	"github.com/tanpx12/chain-guard-bundler/pkg/logger"
	"github.com/tanpx12/chain-guard-bundler/pkg/rpcerr"
	"github.com/tanpx12/chain-guard-bundler/storage"
)

// MaxMempoolUserOpsPerSender caps how many pending ops an unstaked sender
// may occupy at once.
const MaxMempoolUserOpsPerSender = 4

// Service is the pending user-op store: per-sender quotas, replacement
// rules, and cost-ordered retrieval, all layered over the KV store.
type Service struct {
	chainID *big.Int
	store   storage.Store
	rep     *reputation.Service
	log     logger.Logger
	metrics *metrics.Metrics
}

func New(chainID *big.Int, store storage.Store, rep *reputation.Service, log logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		chainID: chainID,
		store:   store,
		rep:     rep,
		log:     logger.EnsureLogger(log),
		metrics: m,
	}
}

func (m *Service) setMempoolSizeMetric() {
	if m.metrics == nil {
		return
	}
	if count, err := m.Count(); err == nil {
		m.metrics.SetMempoolSize(m.chainID.String(), count)
	}
}

func (m *Service) keysIndexKey() []byte {
	return storage.KeyPrefix(m.chainID.String(), "USEROPKEYS")
}

func (m *Service) entryKey(key string) []byte {
	return []byte(key)
}

func (m *Service) listKeys() ([]string, error) {
	raw, found, err := m.store.Get(m.keysIndexKey())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (m *Service) writeKeys(keys []string) error {
	raw, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return m.store.Put(m.keysIndexKey(), raw)
}

func (m *Service) loadEntry(key string) (*Entry, bool, error) {
	raw, found, err := m.store.Get(m.entryKey(key))
	if err != nil || !found {
		return nil, found, err
	}
	var stored storedEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, err
	}
	return stored.toEntry(m.chainID), true, nil
}

// storedEntry is the JSON-on-disk shape, including the InsertionID so
// cost-ordering ties stay stable across a restart.
type storedEntry struct {
	UserOp          *bundler.UserOperation `json:"userOp"`
	EntryPoint      common.Address         `json:"entryPoint"`
	Prefund         *big.Int               `json:"prefund"`
	Aggregator      *common.Address        `json:"aggregator,omitempty"`
	Hash            string                 `json:"hash,omitempty"`
	LastUpdatedTime int64                  `json:"lastUpdatedTime"`
	InsertionID     string                 `json:"insertionId"`
}

func (e *Entry) toStored() storedEntry {
	return storedEntry{
		UserOp:          e.UserOp,
		EntryPoint:      e.EntryPoint,
		Prefund:         e.Prefund,
		Aggregator:      e.Aggregator,
		Hash:            e.Hash,
		LastUpdatedTime: e.LastUpdatedTime.Unix(),
		InsertionID:     e.InsertionID,
	}
}

func (s storedEntry) toEntry(chainID *big.Int) *Entry {
	return &Entry{
		ChainID:         chainID,
		UserOp:          s.UserOp,
		EntryPoint:      s.EntryPoint,
		Prefund:         s.Prefund,
		Aggregator:      s.Aggregator,
		Hash:            s.Hash,
		LastUpdatedTime: time.Unix(s.LastUpdatedTime, 0),
		InsertionID:     s.InsertionID,
	}
}

// AddUserOp admits userOp into the mempool, handling both the fresh-entry
// and replacement paths.
func (m *Service) AddUserOp(userOp *bundler.UserOperation, entryPoint common.Address, prefund *big.Int, senderInfo aa.StakeInfo, hash string, aggregator *common.Address) (*Entry, error) {
	blacklistAddrs := []common.Address{userOp.Sender}
	if userOp.HasPaymaster() {
		blacklistAddrs = append(blacklistAddrs, userOp.Paymaster())
	}
	if userOp.HasFactory() {
		blacklistAddrs = append(blacklistAddrs, userOp.Factory())
	}
	if aggregator != nil {
		blacklistAddrs = append(blacklistAddrs, *aggregator)
	}
	if reason, err := m.rep.CheckBlacklist(blacklistAddrs...); err != nil {
		return nil, err
	} else if reason != "" {
		return nil, rpcerr.Invalid(reason)
	}

	entry := &Entry{
		ChainID:         m.chainID,
		UserOp:          userOp,
		EntryPoint:      entryPoint,
		Prefund:         prefund,
		Aggregator:      aggregator,
		Hash:            hash,
		LastUpdatedTime: time.Now(),
		InsertionID:     ulid.Make().String(),
	}
	key := entry.Key()

	existing, found, err := m.loadEntry(key)
	if err != nil {
		return nil, err
	}

	if found {
		if !existing.CanReplace(entry) {
			return nil, rpcerr.InvalidOp("fee too low")
		}
		if err := m.persist(entry); err != nil {
			return nil, err
		}
		if m.metrics != nil {
			m.metrics.IncOpsReplaced(m.chainID.String())
		}
	} else {
		count, err := m.countBySender(userOp.Sender)
		if err != nil {
			return nil, err
		}
		if count >= MaxMempoolUserOpsPerSender {
			reason, err := m.rep.CheckStake(userOp.Sender, senderInfo)
			if err != nil {
				return nil, err
			}
			if reason != "" {
				return nil, rpcerr.Invalid(reason)
			}
		}

		if err := m.appendKey(key); err != nil {
			return nil, err
		}
		if err := m.persist(entry); err != nil {
			return nil, err
		}
		if m.metrics != nil {
			m.metrics.IncOpsAdded(m.chainID.String())
		}
		m.setMempoolSizeMetric()
	}

	if err := m.rep.UpdateSeenStatus(userOp.Sender); err != nil {
		m.log.Warnf("update seen status for sender %s: %v", userOp.Sender.Hex(), err)
	}
	if userOp.HasPaymaster() {
		if err := m.rep.UpdateSeenStatus(userOp.Paymaster()); err != nil {
			m.log.Warnf("update seen status for paymaster: %v", err)
		}
	}
	if aggregator != nil {
		if err := m.rep.UpdateSeenStatus(*aggregator); err != nil {
			m.log.Warnf("update seen status for aggregator: %v", err)
		}
	}

	return entry, nil
}

func (m *Service) persist(e *Entry) error {
	raw, err := json.Marshal(e.toStored())
	if err != nil {
		return err
	}
	return m.store.Put(m.entryKey(e.Key()), raw)
}

func (m *Service) appendKey(key string) error {
	keys, err := m.listKeys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	return m.writeKeys(append(keys, key))
}

func (m *Service) countBySender(sender common.Address) (int, error) {
	prefix := storage.KeyPrefix(m.chainID.String(), sender.Hex())
	count, err := m.store.CountByPrefix(prefix)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Remove deletes the entry's key from the index and its value.
func (m *Service) Remove(entry *Entry) error {
	return m.removeKey(entry.Key())
}

// RemoveUserOp removes the entry matching userOp by key only.
func (m *Service) RemoveUserOp(userOp *bundler.UserOperation) error {
	key := fmt.Sprintf("%s:%s:%s", m.chainID.String(), userOp.Sender.Hex(), userOp.Nonce)
	return m.removeKey(key)
}

func (m *Service) removeKey(key string) error {
	if err := m.store.Del(m.entryKey(key)); err != nil {
		return err
	}
	keys, err := m.listKeys()
	if err != nil {
		return err
	}
	filtered := keys[:0]
	for _, k := range keys {
		if k != key {
			filtered = append(filtered, k)
		}
	}
	if err := m.writeKeys(filtered); err != nil {
		return err
	}
	m.setMempoolSizeMetric()
	return nil
}

// GetSortedOps loads every entry and sorts by CompareByCost.
func (m *Service) GetSortedOps() ([]*Entry, error) {
	entries, err := m.fetchAll()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return CompareByCost(entries[i], entries[j])
	})
	return entries, nil
}

// fetchAll loads every entry referenced by the keys index, skipping (and
// logging) orphan keys whose value is absent — the transient inconsistency
// window tolerated between writing the keys list and the entry, or
// between deleting the entry and the keys list.
func (m *Service) fetchAll() ([]*Entry, error) {
	keys, err := m.listKeys()
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(keys))
	liveKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		entry, found, err := m.loadEntry(k)
		if err != nil {
			return nil, err
		}
		if !found {
			m.log.Debugf("mempool: dropping orphan key %s", k)
			continue
		}
		entries = append(entries, entry)
		liveKeys = append(liveKeys, k)
	}

	if len(liveKeys) != len(keys) {
		_ = m.writeKeys(liveKeys)
	}

	return entries, nil
}

// Count returns the number of pending entries.
func (m *Service) Count() (int, error) {
	keys, err := m.listKeys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Dump returns every pending entry, for debug_bundler_dumpMempool.
func (m *Service) Dump() ([]*Entry, error) {
	return m.fetchAll()
}

// ClearState wipes every mempool entry and the keys index.
func (m *Service) ClearState() error {
	keys, err := m.listKeys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := m.store.Del(m.entryKey(k)); err != nil {
			return err
		}
	}
	if err := m.writeKeys(nil); err != nil {
		return err
	}
	m.setMempoolSizeMetric()
	return nil
}

// IsNewOrReplacing reports whether userOp would be admitted: either no
// existing entry shares its key, or CanReplace would succeed against it.
func (m *Service) IsNewOrReplacing(userOp *bundler.UserOperation, entryPoint common.Address) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s", m.chainID.String(), userOp.Sender.Hex(), userOp.Nonce)
	existing, found, err := m.loadEntry(key)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	incoming := &Entry{ChainID: m.chainID, UserOp: userOp, EntryPoint: entryPoint}
	return existing.CanReplace(incoming), nil
}
