// Package rpcerr implements the error taxonomy the bundler's RPC surface
// returns to clients: a tagged sum type instead of an exception hierarchy.
package rpcerr

import "fmt"

// Kind is one of the taxonomy entries from the error handling design.
type Kind string

const (
	InvalidRequest     Kind = "InvalidRequest"
	InvalidUserOp      Kind = "InvalidUserOp"
	InvalidOpcode      Kind = "InvalidOpcode"
	SimulationReverted Kind = "SimulationReverted"
	MethodNotFound     Kind = "MethodNotFound"
	TransportError     Kind = "TransportError"
	NotFound           Kind = "NotFound"
)

// codes maps each Kind to the JSON-RPC numeric error code returned over the
// wire. InvalidRequest uses -32602 (JSON-RPC invalid params), InvalidUserOp
// -32500, and InvalidOpcode and SimulationReverted share -32521; the
// remaining kinds use the standard JSON-RPC codes.
var codes = map[Kind]int{
	InvalidRequest:     -32602,
	InvalidUserOp:      -32500,
	InvalidOpcode:      -32521,
	SimulationReverted: -32521,
	MethodNotFound:     -32601,
	TransportError:     -32603,
	NotFound:           -32001,
}

// CodeFor looks up the JSON-RPC numeric code for a Kind.
func CodeFor(kind Kind) int {
	if code, ok := codes[kind]; ok {
		return code
	}
	return -32603
}

// Error is the sum type every internal rejection is expressed as before it
// either crosses the RPC boundary (as {message, data, code}) or is consumed
// internally (bundling decisions never surface their errors to a client).
type Error struct {
	Kind    Kind
	Message string
	Data    interface{}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Code returns the JSON-RPC numeric code for this error's Kind.
func (e *Error) Code() int { return CodeFor(e.Kind) }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Invalid(message string) *Error {
	return New(InvalidRequest, message)
}

func InvalidOp(message string) *Error {
	return New(InvalidOpcode, message)
}
