package rpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	pp "github.com/k0kubun/pp/v3"

	"github.com/tanpx12/chain-guard-bundler/core/bundling"
	"github.com/tanpx12/chain-guard-bundler/pkg/erc4337/bundler"
	"github.com/tanpx12/chain-guard-bundler/pkg/rpcerr"
)

// dispatch routes one already-decoded Request to its handler and returns
// the raw result (or an error); the caller wraps it into a Response.
func (s *Server) dispatch(ctx context.Context, net *NetworkServices, req *Request) (interface{}, error) {
	switch req.Method {
	case "eth_sendUserOperation":
		return s.sendUserOperation(ctx, net, req.Params)
	case "eth_estimateUserOperationGas":
		return s.estimateUserOperationGas(ctx, net, req.Params)
	case "eth_getUserOperationByHash":
		return s.getUserOperationByHash(ctx, net, req.Params)
	case "eth_getUserOperationReceipt":
		return s.getUserOperationReceipt(ctx, net, req.Params)
	case "eth_supportedEntryPoints":
		return net.Facade.GetSupportedEntryPoints(), nil
	case "eth_chainId":
		return hexutil.Uint64(net.Facade.GetChainID().Uint64()), nil
	case "eth_validateUserOperation":
		return s.validateUserOperation(ctx, net, req.Params)
	case "debug_bundler_clearState":
		return s.clearState(net)
	case "debug_bundler_dumpMempool":
		return s.dumpMempool(net)
	case "debug_bundler_setBundlingMode":
		return s.setBundlingMode(net, req.Params)
	case "debug_bundler_setBundleInterval":
		return s.setBundleInterval(net, req.Params)
	case "debug_bundler_sendBundleNow":
		return s.sendBundleNow(ctx, net)
	case "debug_bundler_setReputation":
		return s.setReputation(net, req.Params)
	case "debug_bundler_dumpReputation":
		return s.dumpReputation(net)
	default:
		return nil, rpcerr.New(rpcerr.MethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func decodeUserOpAndEntryPoint(params []interface{}) (*bundler.UserOperation, common.Address, error) {
	var op bundler.UserOperation
	if err := decodeParam(params, 0, &op); err != nil {
		return nil, common.Address{}, rpcerr.Invalid(fmt.Sprintf("decode userOp: %v", err))
	}
	entryPointStr, err := paramString(params, 1)
	if err != nil {
		return nil, common.Address{}, rpcerr.Invalid(err.Error())
	}
	if !common.IsHexAddress(entryPointStr) {
		return nil, common.Address{}, rpcerr.Invalid(fmt.Sprintf("invalid entrypoint %q", entryPointStr))
	}
	return &op, common.HexToAddress(entryPointStr), nil
}

func (s *Server) sendUserOperation(ctx context.Context, net *NetworkServices, params []interface{}) (interface{}, error) {
	op, entryPoint, err := decodeUserOpAndEntryPoint(params)
	if err != nil {
		return nil, err
	}
	hash, err := net.Facade.SendUserOperation(ctx, op, entryPoint)
	if err != nil {
		return nil, err
	}
	return hash, nil
}

func (s *Server) validateUserOperation(ctx context.Context, net *NetworkServices, params []interface{}) (interface{}, error) {
	op, entryPoint, err := decodeUserOpAndEntryPoint(params)
	if err != nil {
		return nil, err
	}
	return net.Facade.ValidateUserOperation(ctx, op, entryPoint)
}

func (s *Server) estimateUserOperationGas(ctx context.Context, net *NetworkServices, params []interface{}) (interface{}, error) {
	op, entryPoint, err := decodeUserOpAndEntryPoint(params)
	if err != nil {
		return nil, err
	}
	estimate, err := net.Facade.EstimateUserOperationGas(ctx, op, entryPoint)
	if err != nil {
		return nil, err
	}
	return newGasEstimationResponse(estimate), nil
}

func (s *Server) getUserOperationByHash(ctx context.Context, net *NetworkServices, params []interface{}) (interface{}, error) {
	hashStr, err := paramString(params, 0)
	if err != nil {
		return nil, rpcerr.Invalid(err.Error())
	}
	lookup, err := net.Facade.GetUserOperationByHash(ctx, common.HexToHash(hashStr))
	if err != nil {
		return nil, err
	}
	return newUserOpLookupResponse(lookup), nil
}

func (s *Server) getUserOperationReceipt(ctx context.Context, net *NetworkServices, params []interface{}) (interface{}, error) {
	hashStr, err := paramString(params, 0)
	if err != nil {
		return nil, rpcerr.Invalid(err.Error())
	}
	receipt, err := net.Facade.GetUserOperationReceipt(ctx, common.HexToHash(hashStr))
	if err != nil {
		return nil, err
	}
	return newUserOpReceiptResponse(receipt), nil
}

func (s *Server) clearState(net *NetworkServices) (interface{}, error) {
	if err := net.Mempool.ClearState(); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (s *Server) dumpMempool(net *NetworkServices) (interface{}, error) {
	entries, err := net.Mempool.Dump()
	if err != nil {
		return nil, err
	}
	ops := make([]*bundler.UserOperation, len(entries))
	for i, e := range entries {
		ops[i] = e.UserOp
	}
	if s.testingMode {
		pp.Println(ops)
	}
	return ops, nil
}

func (s *Server) setBundlingMode(net *NetworkServices, params []interface{}) (interface{}, error) {
	modeStr, err := paramString(params, 0)
	if err != nil {
		return nil, rpcerr.Invalid(err.Error())
	}
	mode := bundling.BundlingMode(modeStr)
	if mode != bundling.ModeAuto && mode != bundling.ModeManual {
		return nil, rpcerr.Invalid(fmt.Sprintf("unknown bundling mode %q", modeStr))
	}
	if err := net.Bundling.SetBundlingMode(mode); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (s *Server) setBundleInterval(net *NetworkServices, params []interface{}) (interface{}, error) {
	seconds, err := paramFloat(params, 0)
	if err != nil {
		return nil, rpcerr.Invalid(err.Error())
	}
	if err := net.Bundling.SetBundlingInterval(secondsToDuration(seconds)); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (s *Server) sendBundleNow(ctx context.Context, net *NetworkServices) (interface{}, error) {
	net.Bundling.TryBundle(ctx, true)
	return "ok", nil
}

func (s *Server) setReputation(net *NetworkServices, params []interface{}) (interface{}, error) {
	if len(params) == 0 {
		return nil, rpcerr.Invalid("missing reputations param")
	}
	raw, ok := params[0].([]interface{})
	if !ok {
		return nil, rpcerr.Invalid("reputations param must be an array")
	}
	entries := make([]setReputationEntry, len(raw))
	for i := range raw {
		if err := decodeParam(raw, i, &entries[i]); err != nil {
			return nil, rpcerr.Invalid(fmt.Sprintf("decode reputation[%d]: %v", i, err))
		}
	}
	for _, e := range entries {
		if err := net.Reputation.SetReputation(e.Address, e.OpsSeen, e.OpsIncluded); err != nil {
			return nil, err
		}
	}
	return "ok", nil
}

func (s *Server) dumpReputation(net *NetworkServices) (interface{}, error) {
	entries, err := net.Reputation.Dump()
	if err != nil {
		return nil, err
	}
	out := make([]*reputationDumpEntry, len(entries))
	for i, e := range entries {
		status, err := net.Reputation.GetStatus(e.Address)
		if err != nil {
			return nil, err
		}
		out[i] = newReputationDumpEntry(e, status)
	}
	if s.testingMode {
		pp.Println(out)
	}
	return out, nil
}
