// Package bundler wires one Bundler process together: per-network storage,
// mempool, reputation, validation, bundling, and the Eth facade, all served
// behind a single JSON-RPC HTTP surface.
package bundler

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tanpx12/chain-guard-bundler/core/bundling"
	"github.com/tanpx12/chain-guard-bundler/core/config"
	"github.com/tanpx12/chain-guard-bundler/core/eth"
	"github.com/tanpx12/chain-guard-bundler/core/mempool"
	"github.com/tanpx12/chain-guard-bundler/core/reputation"
	"github.com/tanpx12/chain-guard-bundler/core/validation"
	"github.com/tanpx12/chain-guard-bundler/metrics"
	"github.com/tanpx12/chain-guard-bundler/pkg/logger"
	"github.com/tanpx12/chain-guard-bundler/rpc"
	"github.com/tanpx12/chain-guard-bundler/storage"
)

type status string

const (
	initStatus     status = "init"
	runningStatus  status = "running"
	shutdownStatus status = "shutdown"
)

const shutdownTimeout = 10 * time.Second

// network is one configured chain's fully-wired component set.
type network struct {
	name  string
	store storage.Store

	mempool    *mempool.Service
	reputation *reputation.Service
	validation *validation.Service
	bundling   *bundling.Service
	eth        *eth.Facade
}

// Bundler is the top-level process: one per configuration file, one network
// set per configured chain.
type Bundler struct {
	cfg      *config.Config
	log      logger.Logger
	metrics  *metrics.Metrics
	networks map[string]*network
	server   *rpc.Server
	status   status
}

// New builds every configured network's component chain but does not start
// listening yet; call Start for that.
func New(cfg *config.Config, log logger.Logger) (*Bundler, error) {
	log = logger.EnsureLogger(log)
	b := &Bundler{
		cfg:      cfg,
		log:      log,
		metrics:  metrics.New(prometheus.DefaultRegisterer),
		networks: make(map[string]*network, len(cfg.Networks)),
		status:   initStatus,
	}

	for name, nc := range cfg.Networks {
		net, err := buildNetwork(name, nc, log, b.metrics)
		if err != nil {
			return nil, fmt.Errorf("network %q: %w", name, err)
		}
		b.networks[name] = net
	}

	rpcNetworks := make(map[string]*rpc.NetworkServices, len(b.networks))
	for name, net := range b.networks {
		rpcNetworks[name] = &rpc.NetworkServices{
			ChainID:    net.eth.GetChainID(),
			Facade:     net.eth,
			Mempool:    net.mempool,
			Bundling:   net.bundling,
			Reputation: net.reputation,
			Metrics:    b.metrics,
		}
	}
	b.server = rpc.New(rpc.Config{
		TestingMode: cfg.TestingMode,
		Host:        cfg.HTTPHost,
		Port:        cfg.HTTPPort,
		CORSOrigin:  cfg.CORSOrigin,
	}, rpcNetworks, log)

	return b, nil
}

func buildNetwork(name string, nc *config.NetworkConfig, log logger.Logger, m *metrics.Metrics) (*network, error) {
	store, err := storage.New(&storage.Config{Path: fmt.Sprintf("./data/%s", name)})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := store.Start(); err != nil {
		return nil, fmt.Errorf("start storage: %w", err)
	}

	repSvc, err := reputation.New(nc.ChainID, store, nc.Reputation, log, m)
	if err != nil {
		return nil, fmt.Errorf("init reputation: %w", err)
	}

	mempoolSvc := mempool.New(nc.ChainID, store, repSvc, log, m)

	validSvc := validation.New(nc.Client, nc.SimulateTimeout, log)

	bundlingSvc, err := bundling.New(
		nc.ChainID,
		nc.Client,
		mempoolSvc,
		repSvc,
		validSvc,
		nc.Relayer,
		nc.RelayerAddress,
		nc.MulticallAddress,
		nc.Bundling,
		log,
		m,
	)
	if err != nil {
		return nil, fmt.Errorf("init bundling: %w", err)
	}

	ethFacade, err := eth.New(nc.ChainID, nc.Client, nc.EntryPoints, mempoolSvc, repSvc, validSvc, log)
	if err != nil {
		return nil, fmt.Errorf("init eth facade: %w", err)
	}

	return &network{
		name:       name,
		store:      store,
		mempool:    mempoolSvc,
		reputation: repSvc,
		validation: validSvc,
		bundling:   bundlingSvc,
		eth:        ethFacade,
	}, nil
}

// Start runs the HTTP surface and blocks until SIGINT/SIGTERM, then tears
// every network's storage down cleanly.
func (b *Bundler) Start(ctx context.Context) error {
	b.log.Infof("starting bundler, http %s:%d", b.cfg.HTTPHost, b.cfg.HTTPPort)

	addr := fmt.Sprintf("%s:%d", b.cfg.HTTPHost, b.cfg.HTTPPort)
	go func() {
		if err := b.server.Start(addr); err != nil {
			b.log.Warnf("http server stopped: %v", err)
		}
	}()
	b.status = runningStatus

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	b.log.Infof("shutting down...")
	b.status = shutdownStatus

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := b.server.Shutdown(shutdownCtx); err != nil {
		b.log.Warnf("http server shutdown: %v", err)
	}

	for name, net := range b.networks {
		if err := net.store.Stop(); err != nil {
			b.log.Warnf("network %q: storage shutdown: %v", name, err)
		}
	}

	return nil
}

// RunWithConfig loads configPath and runs the bundler to completion.
func RunWithConfig(configPath string, log logger.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	b, err := New(cfg, log)
	if err != nil {
		return fmt.Errorf("init bundler: %w", err)
	}
	return b.Start(context.Background())
}
