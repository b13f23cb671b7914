package validation

import (
	"context"
	"fmt"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tanpx12/chain-guard-bundler/core/chainio/aa"
	"github.com/tanpx12/chain-guard-bundler/pkg/erc4337/bundler"
	"github.com/tanpx12/chain-guard-bundler/pkg/logger"
)

// Result is the decoded ValidationResult revert, the bundler's view of an
// EntryPoint simulateValidation call.
type Result struct {
	ReturnInfo    aa.ReturnInfo
	SenderInfo    aa.StakeInfo
	FactoryInfo   aa.StakeInfo
	PaymasterInfo aa.StakeInfo
}

// Service wraps EntryPoint.simulateValidation: it is always expected to
// revert, and the revert payload carries the validation output.
type Service struct {
	client      *ethclient.Client
	callTimeout time.Duration
	log         logger.Logger
}

func New(client *ethclient.Client, callTimeout time.Duration, log logger.Logger) *Service {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Service{client: client, callTimeout: callTimeout, log: logger.EnsureLogger(log)}
}

// SimulateCompleteValidation runs simulateValidation and returns the decoded
// ValidationResult, or a typed error if the EntryPoint rejected the op
// outright (FailedOp) or the call reverted with unrecognized data.
func (s *Service) SimulateCompleteValidation(ctx context.Context, userOp *bundler.UserOperation, entryPoint common.Address) (*Result, error) {
	return s.callSimulate(ctx, userOp, entryPoint)
}

// CallSimulateValidation is the same underlying call used by gas estimation,
// which only needs returnInfo.preOpGas and does no further post-processing
// beyond what SimulateCompleteValidation already does.
func (s *Service) CallSimulateValidation(ctx context.Context, userOp *bundler.UserOperation, entryPoint common.Address) (*Result, error) {
	return s.callSimulate(ctx, userOp, entryPoint)
}

func (s *Service) callSimulate(ctx context.Context, userOp *bundler.UserOperation, entryPoint common.Address) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	abiOp, err := userOp.ToABI()
	if err != nil {
		return nil, fmt.Errorf("encode userOp: %w", err)
	}

	parsed, err := aa.EntryPointMetaData.GetAbi()
	if err != nil {
		return nil, err
	}

	data, err := parsed.Pack("simulateValidation", abiOp)
	if err != nil {
		return nil, fmt.Errorf("pack simulateValidation: %w", err)
	}

	_, callErr := s.client.CallContract(ctx, ethereum.CallMsg{To: &entryPoint, Data: data}, nil)
	if callErr == nil {
		return nil, fmt.Errorf("simulateValidation did not revert as expected")
	}

	revertData := aa.ExtractRevertData(callErr)
	if revertData == nil {
		return nil, fmt.Errorf("simulateValidation call failed: %w", callErr)
	}

	decoded := aa.DecodeRevert(revertData)
	switch e := decoded.(type) {
	case *aa.ValidationResultError:
		return &Result{
			ReturnInfo:    e.ReturnInfo,
			SenderInfo:    e.SenderInfo,
			FactoryInfo:   e.FactoryInfo,
			PaymasterInfo: e.PaymasterInfo,
		}, nil
	case *aa.FailedOpError:
		return nil, e
	default:
		return nil, fmt.Errorf("simulateValidation reverted: %w", decoded)
	}
}

