package bundling

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-co-op/gocron/v2"

	"github.com/tanpx12/chain-guard-bundler/core/chainio/aa"
	"github.com/tanpx12/chain-guard-bundler/core/mempool"
	"github.com/tanpx12/chain-guard-bundler/core/reputation"
	"github.com/tanpx12/chain-guard-bundler/core/validation"
	"github.com/tanpx12/chain-guard-bundler/metrics"
	"github.com/tanpx12/chain-guard-bundler/pkg/logger"
	"github.com/tanpx12/chain-guard-bundler/pkg/safe"
)

// BundlingMode selects between the auto-cron and manual-trigger behavior of
// the auto-bundling timer.
type BundlingMode string

const (
	ModeAuto   BundlingMode = "auto"
	ModeManual BundlingMode = "manual"
)

// Config carries the per-network bundling parameters.
type Config struct {
	Mode                 BundlingMode
	AutoBundlingInterval time.Duration
	MaxMempoolSize       int
	Beneficiary          *common.Address
	MinSignerBalance     *big.Int
	SubmitTimeout        time.Duration
}

// Service assembles and submits bundles: a single mutex serializes bundle
// creation and submission end to end.
type Service struct {
	chainID  *big.Int
	client   *ethclient.Client
	mempool  *mempool.Service
	rep      *reputation.Service
	valid    *validation.Service
	relayer  *bind.TransactOpts
	relayerAddr common.Address
	multicall   *aa.Multicall3

	cfg     Config
	log     logger.Logger
	metrics *metrics.Metrics

	mu sync.Mutex

	schedMu   sync.Mutex
	scheduler gocron.Scheduler

	entryPointsMu sync.Mutex
	entryPoints   map[common.Address]*aa.EntryPoint
}

func New(
	chainID *big.Int,
	client *ethclient.Client,
	mempoolSvc *mempool.Service,
	repSvc *reputation.Service,
	validSvc *validation.Service,
	relayer *bind.TransactOpts,
	relayerAddr common.Address,
	multicallAddr common.Address,
	cfg Config,
	log logger.Logger,
	m *metrics.Metrics,
) (*Service, error) {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if cfg.AutoBundlingInterval <= 0 {
		cfg.AutoBundlingInterval = 15 * time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}

	multicall, err := aa.NewMulticall3(multicallAddr, client)
	if err != nil {
		return nil, fmt.Errorf("bind multicall3: %w", err)
	}

	s := &Service{
		chainID:     chainID,
		client:      client,
		mempool:     mempoolSvc,
		rep:         repSvc,
		valid:       validSvc,
		relayer:     relayer,
		relayerAddr: relayerAddr,
		multicall:   multicall,
		cfg:         cfg,
		log:         logger.EnsureLogger(log),
		metrics:     m,
		entryPoints: make(map[common.Address]*aa.EntryPoint),
	}

	if cfg.Mode == ModeAuto {
		if err := s.startScheduler(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Service) startScheduler() error {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(s.cfg.AutoBundlingInterval),
		gocron.NewTask(func() {
			safe.Go(s.log, func() { s.TryBundle(context.Background(), true) })
		}),
	)
	if err != nil {
		return fmt.Errorf("schedule auto-bundling job: %w", err)
	}
	scheduler.Start()
	s.scheduler = scheduler
	return nil
}

func (s *Service) stopScheduler() {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	if s.scheduler != nil {
		_ = s.scheduler.Shutdown()
		s.scheduler = nil
	}
}

// SetBundlingMode switches between auto and manual, restarting the timer.
func (s *Service) SetBundlingMode(mode BundlingMode) error {
	s.stopScheduler()
	s.cfg.Mode = mode
	if mode == ModeAuto {
		return s.startScheduler()
	}
	return nil
}

// SetBundlingInterval changes the auto-bundling period, restarting the timer
// if currently in auto mode.
func (s *Service) SetBundlingInterval(d time.Duration) error {
	s.cfg.AutoBundlingInterval = d
	if s.cfg.Mode == ModeAuto {
		s.stopScheduler()
		return s.startScheduler()
	}
	return nil
}

// SetMempoolMaxSize changes the size-triggered bundling threshold used by
// TryBundle(force=false).
func (s *Service) SetMempoolMaxSize(n int) {
	s.cfg.MaxMempoolSize = n
}

// TryBundle is the cron entry point. force=true always attempts
// sendNextBundle; force=false only attempts it once the mempool has reached
// cfg.MaxMempoolSize (pinned resolution of the source's dead force-guard).
func (s *Service) TryBundle(ctx context.Context, force bool) {
	if !force {
		count, err := s.mempool.Count()
		if err != nil {
			s.log.Warnf("bundling: count mempool: %v", err)
			return
		}
		if count < s.cfg.MaxMempoolSize {
			return
		}
	}
	if _, err := s.SendNextBundle(ctx); err != nil {
		s.log.Warnf("bundling: sendNextBundle: %v", err)
	}
}

func (s *Service) getEntryPoint(addr common.Address) (*aa.EntryPoint, error) {
	s.entryPointsMu.Lock()
	defer s.entryPointsMu.Unlock()
	if ep, ok := s.entryPoints[addr]; ok {
		return ep, nil
	}
	ep, err := aa.NewEntryPoint(addr, s.client)
	if err != nil {
		return nil, err
	}
	s.entryPoints[addr] = ep
	return ep, nil
}

// SendNextBundle is the single exclusive critical section: bundle
// creation, submission, and post-mortem all happen under one lock. It
// sends at most one bundle per EntryPoint, largest queue first, so no
// configured EntryPoint is starved indefinitely by a busier one.
func (s *Service) SendNextBundle(ctx context.Context) ([]*mempool.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.pickEntryPointGroups()
	if err != nil {
		return nil, err
	}

	var sent []*mempool.Entry
	for _, g := range groups {
		bundle, err := s.createBundle(ctx, g.entryPoint, g.candidates)
		if err != nil {
			s.log.Warnf("bundling: createBundle(%s): %v", g.entryPoint.Hex(), err)
			continue
		}
		if len(bundle) == 0 {
			continue
		}

		if err := s.sendBundle(ctx, g.entryPoint, bundle); err != nil {
			s.log.Warnf("bundling: sendBundle(%s): %v", g.entryPoint.Hex(), err)
			continue
		}
		sent = append(sent, bundle...)
	}

	return sent, nil
}

// entryPointGroup is one EntryPoint's cost-sorted candidate queue.
type entryPointGroup struct {
	entryPoint common.Address
	candidates []*mempool.Entry
}

// pickEntryPointGroups groups the cost-sorted mempool snapshot by EntryPoint
// (bundles are never mixed across EntryPoints) and orders the groups by
// queue size descending, so SendNextBundle visits the busiest EntryPoint
// first but still gives every other configured EntryPoint a turn.
func (s *Service) pickEntryPointGroups() ([]entryPointGroup, error) {
	sorted, err := s.mempool.GetSortedOps()
	if err != nil {
		return nil, err
	}

	byEntryPoint := make(map[common.Address][]*mempool.Entry)
	var order []common.Address
	for _, e := range sorted {
		if _, seen := byEntryPoint[e.EntryPoint]; !seen {
			order = append(order, e.EntryPoint)
		}
		byEntryPoint[e.EntryPoint] = append(byEntryPoint[e.EntryPoint], e)
	}

	groups := make([]entryPointGroup, len(order))
	for i, ep := range order {
		groups[i] = entryPointGroup{entryPoint: ep, candidates: byEntryPoint[ep]}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return len(groups[i].candidates) > len(groups[j].candidates)
	})
	return groups, nil
}

var zeroAddress common.Address

// createBundle runs the admission pass over a single
// EntryPoint's cost-sorted candidates.
func (s *Service) createBundle(ctx context.Context, entryPoint common.Address, candidates []*mempool.Entry) ([]*mempool.Entry, error) {
	ep, err := s.getEntryPoint(entryPoint)
	if err != nil {
		return nil, err
	}

	paymasterDeposit := make(map[common.Address]*big.Int)
	stakedEntityCount := make(map[common.Address]int)
	senders := make(map[common.Address]bool)
	admitted := make([]*mempool.Entry, 0, len(candidates))

	for _, entry := range candidates {
		paymaster := entry.UserOp.Paymaster()
		hasPaymaster := entry.UserOp.HasPaymaster()
		factory := entry.UserOp.Factory()
		hasFactory := entry.UserOp.HasFactory()

		if hasPaymaster {
			status, err := s.rep.GetStatus(paymaster)
			if err != nil {
				return nil, err
			}
			if status == reputation.BANNED {
				s.purge(entry, "paymaster banned")
				continue
			}
			if status == reputation.THROTTLED || stakedEntityCount[paymaster] >= 1 {
				continue
			}
		}

		if hasFactory {
			status, err := s.rep.GetStatus(factory)
			if err != nil {
				return nil, err
			}
			if status == reputation.BANNED {
				s.purge(entry, "factory banned")
				continue
			}
			if status == reputation.THROTTLED || stakedEntityCount[factory] >= 1 {
				continue
			}
		}

		if senders[entry.UserOp.Sender] {
			continue
		}

		result, err := s.valid.SimulateCompleteValidation(ctx, entry.UserOp, entryPoint)
		if err != nil {
			s.purge(entry, fmt.Sprintf("second validation failed: %v", err))
			continue
		}

		if hasPaymaster {
			deposit, ok := paymasterDeposit[paymaster]
			if !ok {
				balance, err := ep.BalanceOf(&bind.CallOpts{Context: ctx}, paymaster)
				if err != nil {
					return nil, fmt.Errorf("balanceOf(%s): %w", paymaster.Hex(), err)
				}
				deposit = balance
				paymasterDeposit[paymaster] = deposit
			}
			if deposit.Cmp(result.ReturnInfo.Prefund) < 0 {
				continue
			}
			paymasterDeposit[paymaster] = new(big.Int).Sub(deposit, result.ReturnInfo.Prefund)
			stakedEntityCount[paymaster]++
		}

		if hasFactory {
			stakedEntityCount[factory]++
		}

		senders[entry.UserOp.Sender] = true
		admitted = append(admitted, entry)
	}

	return admitted, nil
}

func (s *Service) purge(entry *mempool.Entry, reason string) {
	s.log.Infof("bundling: purging %s: %s", entry.Key(), reason)
	if err := s.mempool.Remove(entry); err != nil {
		s.log.Warnf("bundling: purge %s: %v", entry.Key(), err)
	}
	if s.metrics != nil {
		s.metrics.IncOpsPurged(s.chainID.String(), reason)
	}
}

// sendBundle submits bundle as one handleOps transaction and applies the
// success or FailedOp-decoded failure path.
func (s *Service) sendBundle(ctx context.Context, entryPoint common.Address, bundle []*mempool.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	ep, err := s.getEntryPoint(entryPoint)
	if err != nil {
		return err
	}

	beneficiary, err := s.selectBeneficiary(ctx)
	if err != nil {
		s.log.Warnf("bundling: selectBeneficiary: %v", err)
		beneficiary = s.relayerAddr
	}

	ops := make([]aa.UserOperation, len(bundle))
	for i, entry := range bundle {
		abiOp, err := entry.UserOp.ToABI()
		if err != nil {
			return fmt.Errorf("encode op %d: %w", i, err)
		}
		ops[i] = abiOp
	}

	opts := *s.relayer
	opts.Context = ctx
	tx, err := ep.HandleOps(&opts, ops, beneficiary)
	if err != nil {
		return s.handleSendFailure(bundle, entryPoint, err)
	}

	receipt, err := bind.WaitMined(ctx, s.client, tx)
	if err != nil {
		return fmt.Errorf("wait for handleOps receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		revertErr := s.reconstructRevert(ctx, entryPoint, ops, beneficiary, receipt.BlockNumber)
		return s.handleSendFailure(bundle, entryPoint, revertErr)
	}

	if s.metrics != nil {
		s.metrics.IncBundleSent(s.chainID.String(), entryPoint.Hex(), len(bundle))
	}
	return s.handleSendSuccess(ctx, entryPoint, bundle)
}

// reconstructRevert re-runs the same calldata as an eth_call pinned at the
// failing block to recover the FailedOp revert reason a mined, reverted
// transaction does not carry on the receipt itself.
func (s *Service) reconstructRevert(ctx context.Context, entryPoint common.Address, ops []aa.UserOperation, beneficiary common.Address, blockNumber *big.Int) error {
	parsed, err := aa.EntryPointMetaData.GetAbi()
	if err != nil {
		return err
	}
	data, err := parsed.Pack("handleOps", ops, beneficiary)
	if err != nil {
		return err
	}
	_, callErr := s.client.CallContract(ctx, ethereum.CallMsg{To: &entryPoint, Data: data}, blockNumber)
	if callErr == nil {
		return fmt.Errorf("handleOps reverted on-chain but replay succeeded")
	}
	revertData := aa.ExtractRevertData(callErr)
	if revertData == nil {
		return fmt.Errorf("handleOps reverted: %w", callErr)
	}
	return aa.DecodeRevert(revertData)
}

func (s *Service) handleSendSuccess(ctx context.Context, entryPoint common.Address, bundle []*mempool.Entry) error {
	for _, entry := range bundle {
		if err := s.mempool.Remove(entry); err != nil {
			s.log.Warnf("bundling: remove %s after inclusion: %v", entry.Key(), err)
		}
		if err := s.rep.UpdateIncludedStatus(entry.UserOp.Sender); err != nil {
			s.log.Warnf("bundling: update included for sender: %v", err)
		}
		if entry.UserOp.HasPaymaster() {
			if err := s.rep.UpdateIncludedStatus(entry.UserOp.Paymaster()); err != nil {
				s.log.Warnf("bundling: update included for paymaster: %v", err)
			}
		}
	}

	hashes, err := s.resolveUserOpHashes(ctx, entryPoint, bundle)
	if err != nil {
		s.log.Warnf("bundling: resolve userOpHashes via multicall: %v", err)
		return nil
	}
	for i, entry := range bundle {
		if i < len(hashes) {
			entry.Hash = hashes[i]
		}
	}
	return nil
}

// resolveUserOpHashes batches getUserOpHash across the bundle via
// Multicall3.aggregate3 (observability only: failure here does not affect
// correctness of the already-submitted bundle).
func (s *Service) resolveUserOpHashes(ctx context.Context, entryPoint common.Address, bundle []*mempool.Entry) ([]string, error) {
	parsed, err := aa.EntryPointMetaData.GetAbi()
	if err != nil {
		return nil, err
	}

	calls := make([]aa.Multicall3Call3, len(bundle))
	for i, entry := range bundle {
		abiOp, err := entry.UserOp.ToABI()
		if err != nil {
			return nil, err
		}
		data, err := parsed.Pack("getUserOpHash", abiOp)
		if err != nil {
			return nil, err
		}
		calls[i] = aa.Multicall3Call3{Target: entryPoint, AllowFailure: true, CallData: data}
	}

	results, err := s.multicall.Aggregate3(&bind.CallOpts{Context: ctx}, calls)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, len(results))
	for i, r := range results {
		if !r.Success || len(r.ReturnData) != 32 {
			continue
		}
		hashes[i] = "0x" + common.Bytes2Hex(r.ReturnData)
	}
	return hashes, nil
}

// handleSendFailure decodes a handleOps revert and applies the FailedOp
// disposition: quarantine the paymaster, quarantine the factory
// for an "AA1"-prefixed factory-phase reason, or else purge the offending
// entry. Non-FailedOp errors are logged and the bundle is dropped untouched.
func (s *Service) handleSendFailure(bundle []*mempool.Entry, entryPoint common.Address, sendErr error) error {
	if s.metrics != nil {
		s.metrics.IncBundleFailed(s.chainID.String(), entryPoint.Hex())
	}

	failedOp, ok := sendErr.(*aa.FailedOpError)
	if !ok {
		s.log.Warnf("bundling: handleOps failed for entrypoint %s: %v", entryPoint.Hex(), sendErr)
		return sendErr
	}

	idx := int(failedOp.OpIndex.Int64())
	if idx < 0 || idx >= len(bundle) {
		s.log.Warnf("bundling: FailedOp index %d out of range for bundle of %d", idx, len(bundle))
		return failedOp
	}
	offending := bundle[idx]

	switch {
	case failedOp.Paymaster != zeroAddress:
		if err := s.rep.CrashedHandleOps(failedOp.Paymaster); err != nil {
			s.log.Warnf("bundling: crashedHandleOps(paymaster): %v", err)
		}
	case strings.HasPrefix(failedOp.Reason, "AA1"):
		if offending.UserOp.HasFactory() {
			if err := s.rep.CrashedHandleOps(offending.UserOp.Factory()); err != nil {
				s.log.Warnf("bundling: crashedHandleOps(factory): %v", err)
			}
		}
	default:
		s.purge(offending, failedOp.Reason)
	}

	return failedOp
}

// selectBeneficiary returns the configured beneficiary, falling back to the
// relayer's own address when unset or when the relayer balance has fallen to
// or below minSignerBalance (self-refuel on this transaction).
func (s *Service) selectBeneficiary(ctx context.Context) (common.Address, error) {
	if s.cfg.Beneficiary == nil {
		return s.relayerAddr, nil
	}
	balance, err := s.client.BalanceAt(ctx, s.relayerAddr, nil)
	if err != nil {
		return common.Address{}, err
	}
	if s.cfg.MinSignerBalance != nil && balance.Cmp(s.cfg.MinSignerBalance) <= 0 {
		return s.relayerAddr, nil
	}
	return *s.cfg.Beneficiary, nil
}
