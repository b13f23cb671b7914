package config

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	validator "github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/tanpx12/chain-guard-bundler/core/bundling"
	"github.com/tanpx12/chain-guard-bundler/core/reputation"
)

// NetworkConfigRaw is the YAML shape of one entry under the top-level
// "networks" map.
type NetworkConfigRaw struct {
	EntryPoints                 []string `yaml:"entryPoints" validate:"required,min=1,dive,required"`
	RelayerPrivateKey           string   `yaml:"relayerPrivateKey" validate:"required"`
	Beneficiary                 string   `yaml:"beneficiary"`
	RPCEndpoint                 string   `yaml:"rpcEndpoint" validate:"required,url"`
	MulticallAddress            string   `yaml:"multicallAddress" validate:"required"`
	MinInclusionDenominator     uint64   `yaml:"minInclusionDenominator" validate:"required"`
	ThrottlingSlack             uint64   `yaml:"throttlingSlack"`
	BanSlack                    uint64   `yaml:"banSlack"`
	MinStake                    string   `yaml:"minStake"`
	MinUnstakeDelaySec          uint64   `yaml:"minUnstakeDelaySec"`
	MinSignerBalance            string   `yaml:"minSignerBalance"`
	MaxMempoolSize              int      `yaml:"maxMempoolSize" validate:"required,min=1"`
	AutoBundlingIntervalSeconds int      `yaml:"autoBundlingIntervalSeconds"`
	BundlingMode                string   `yaml:"bundlingMode"`
	SimulateTimeoutSeconds      int      `yaml:"simulateTimeoutSeconds"`
	SubmitTimeoutSeconds        int      `yaml:"submitTimeoutSeconds"`
}

// ConfigRaw is the on-disk YAML shape read from the --config flag.
type ConfigRaw struct {
	TestingMode bool                        `yaml:"testingMode"`
	HTTPHost    string                      `yaml:"httpHost"`
	HTTPPort    int                         `yaml:"httpPort" validate:"required"`
	CORSOrigin  string                      `yaml:"corsOrigin"`
	Networks    map[string]NetworkConfigRaw `yaml:"networks" validate:"required,min=1,dive"`
}

// NetworkConfig is one chain's fully-constructed runtime configuration: the
// dialed client and signing relayer are built once here, at startup, never
// lazily per request.
type NetworkConfig struct {
	ChainID               *big.Int
	Client                *ethclient.Client
	EntryPoints           []common.Address
	Relayer               *bind.TransactOpts
	RelayerAddress        common.Address
	RelayerKey            *ecdsa.PrivateKey
	Beneficiary           *common.Address
	MulticallAddress      common.Address
	Reputation            reputation.Config
	MinSignerBalance      *big.Int
	Bundling              bundling.Config
	SimulateTimeout       time.Duration
}

// Config is the fully-constructed, process-wide runtime configuration.
type Config struct {
	TestingMode bool
	HTTPHost    string
	HTTPPort    int
	CORSOrigin  string
	Networks    map[string]*NetworkConfig
}

// Load reads path, validates it, and builds a runtime Config: one
// *ethclient.Client and one ECDSA-keyed relayer *bind.TransactOpts per
// configured network, dialed eagerly.
func Load(path string) (*Config, error) {
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	return NewConfigFromRaw(raw)
}

func readRaw(path string) (*ConfigRaw, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw ConfigRaw
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validator.New().Struct(&raw); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &raw, nil
}

// NewConfigFromRaw constructs the runtime Config, dialing every configured
// network's RPC endpoint and deriving its relayer up front.
func NewConfigFromRaw(raw *ConfigRaw) (*Config, error) {
	cfg := &Config{
		TestingMode: raw.TestingMode,
		HTTPHost:    raw.HTTPHost,
		HTTPPort:    raw.HTTPPort,
		CORSOrigin:  raw.CORSOrigin,
		Networks:    make(map[string]*NetworkConfig, len(raw.Networks)),
	}

	for name, n := range raw.Networks {
		net, err := buildNetworkConfig(n)
		if err != nil {
			return nil, fmt.Errorf("network %q: %w", name, err)
		}
		cfg.Networks[name] = net
	}
	return cfg, nil
}

func buildNetworkConfig(n NetworkConfigRaw) (*NetworkConfig, error) {
	client, err := ethclient.Dial(n.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", n.RPCEndpoint, err)
	}

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("fetch chainId: %w", err)
	}

	relayerKey, err := crypto.HexToECDSA(n.RelayerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse relayer key: %w", err)
	}

	relayer, err := bind.NewKeyedTransactorWithChainID(relayerKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("build relayer signer: %w", err)
	}
	relayerAddr := crypto.PubkeyToAddress(relayerKey.PublicKey)

	entryPoints := make([]common.Address, 0, len(n.EntryPoints))
	for _, addr := range n.EntryPoints {
		entryPoints = append(entryPoints, common.HexToAddress(addr))
	}

	var beneficiary *common.Address
	if n.Beneficiary != "" {
		b := common.HexToAddress(n.Beneficiary)
		beneficiary = &b
	}

	minStake := new(big.Int)
	if n.MinStake != "" {
		if _, ok := minStake.SetString(n.MinStake, 10); !ok {
			return nil, fmt.Errorf("invalid minStake %q", n.MinStake)
		}
	}

	minSignerBalance := new(big.Int)
	if n.MinSignerBalance != "" {
		if _, ok := minSignerBalance.SetString(n.MinSignerBalance, 10); !ok {
			return nil, fmt.Errorf("invalid minSignerBalance %q", n.MinSignerBalance)
		}
	}

	mode := bundling.ModeAuto
	if n.BundlingMode == string(bundling.ModeManual) {
		mode = bundling.ModeManual
	}

	autoInterval := time.Duration(n.AutoBundlingIntervalSeconds) * time.Second
	submitTimeout := time.Duration(n.SubmitTimeoutSeconds) * time.Second
	simulateTimeout := time.Duration(n.SimulateTimeoutSeconds) * time.Second

	return &NetworkConfig{
		ChainID:          chainID,
		Client:           client,
		EntryPoints:      entryPoints,
		Relayer:          relayer,
		RelayerAddress:   relayerAddr,
		RelayerKey:       relayerKey,
		Beneficiary:      beneficiary,
		MulticallAddress: common.HexToAddress(n.MulticallAddress),
		Reputation: reputation.Config{
			MinInclusionDenominator: n.MinInclusionDenominator,
			ThrottlingSlack:         n.ThrottlingSlack,
			BanSlack:                n.BanSlack,
			MinStake:                minStake,
			MinUnstakeDelaySec:      n.MinUnstakeDelaySec,
		},
		MinSignerBalance: minSignerBalance,
		Bundling: bundling.Config{
			Mode:                 mode,
			AutoBundlingInterval: autoInterval,
			MaxMempoolSize:       n.MaxMempoolSize,
			Beneficiary:          beneficiary,
			MinSignerBalance:     minSignerBalance,
			SubmitTimeout:        submitTimeout,
		},
		SimulateTimeout: simulateTimeout,
	}, nil
}
