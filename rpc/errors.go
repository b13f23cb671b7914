package rpc

import (
	"errors"

	"github.com/tanpx12/chain-guard-bundler/pkg/rpcerr"
)

// toResponseError converts any error returned from a handler into the wire
// {message, data, code} shape. A *rpcerr.Error carries its own taxonomy
// code; anything else is reported as a transport error.
func toResponseError(err error) *ResponseError {
	var rpcErr *rpcerr.Error
	if errors.As(err, &rpcErr) {
		return &ResponseError{
			Message: rpcErr.Error(),
			Data:    rpcErr.Data,
			Code:    rpcErr.Code(),
		}
	}
	return &ResponseError{
		Message: err.Error(),
		Code:    rpcerr.CodeFor(rpcerr.TransportError),
	}
}
