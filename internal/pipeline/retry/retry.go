// Package retry decides which Solana RPC failures are worth another attempt
// and runs operations under a bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	solanarpc "github.com/DianaV2002/nft-evo-tickets-sub000/internal/chain/solana/rpc"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

// Decision is the outcome of Classify. Reason is a stable label for logs.
type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

func transient(reason string) Decision { return Decision{Class: ClassTransient, Reason: reason} }
func terminal(reason string) Decision  { return Decision{Class: ClassTerminal, Reason: reason} }

type markedError struct {
	err      error
	decision Decision
}

func (e *markedError) Error() string { return e.err.Error() }
func (e *markedError) Unwrap() error { return e.err }

// Transient marks err as retryable regardless of its shape.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, decision: transient("explicit_transient")}
}

// Terminal marks err as not retryable regardless of its shape.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, decision: terminal("explicit_terminal")}
}

// Solana node error codes that clear up on their own once the node catches up.
const (
	codeBlockNotAvailable      = -32004
	codeNodeUnhealthy          = -32005
	codeBlockStatusUnavailable = -32014
	codeMinContextSlot         = -32016
	codeInternal               = -32603
)

// Classify reports whether err is worth retrying. Explicit marks win, then
// typed RPC errors, then a short list of transport messages. Anything left
// over is terminal.
func Classify(err error) Decision {
	if err == nil {
		return terminal("nil_error")
	}

	var marked *markedError
	if errors.As(err, &marked) {
		return marked.decision
	}

	switch {
	case errors.Is(err, context.Canceled):
		return terminal("context_canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return transient("context_deadline_exceeded")
	case solanarpc.IsRateLimited(err):
		return transient("rate_limited")
	case errors.Is(err, solanarpc.ErrTransactionNotFound):
		return terminal("transaction_not_found")
	}

	var httpErr *solanarpc.HTTPStatusError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return transient("http_server_unavailable")
		}
		return terminal("http_status")
	}

	var rpcErr *solanarpc.RPCError
	if errors.As(err, &rpcErr) {
		return classifyNodeCode(rpcErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transient("net_timeout")
	}

	if msg := strings.ToLower(err.Error()); containsAny(msg, transportFailures) {
		return transient("transport")
	}
	return terminal("unknown_terminal_default")
}

func classifyNodeCode(code int) Decision {
	switch code {
	case codeBlockNotAvailable, codeNodeUnhealthy, codeBlockStatusUnavailable, codeMinContextSlot, codeInternal:
		return transient("node_not_ready")
	}
	return terminal("jsonrpc_terminal")
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

// transportFailures are substrings of dial and read errors from net/http that
// do not surface as a typed net.Error.
var transportFailures = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"server closed idle connection",
	"no such host",
}
