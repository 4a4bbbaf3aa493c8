package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTransactionNotFound is returned when the node has no record of a
// signature at the requested commitment.
var ErrTransactionNotFound = errors.New("transaction not found")

// GetSignaturesForAddress returns transaction signatures for an address.
// Results are returned newest-first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, opts *GetSignaturesOpts) ([]SignatureInfo, error) {
	config := map[string]interface{}{
		"commitment": "confirmed",
	}
	if opts != nil {
		if opts.Limit > 0 {
			config["limit"] = opts.Limit
		}
		if opts.Before != "" {
			config["before"] = opts.Before
		}
		if opts.Until != "" {
			config["until"] = opts.Until
		}
	}

	params := []interface{}{address, config}
	result, err := c.call(ctx, "getSignaturesForAddress", params)
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress: %w", err)
	}

	var sigs []SignatureInfo
	if err := json.Unmarshal(result, &sigs); err != nil {
		return nil, fmt.Errorf("unmarshal signatures: %w", err)
	}
	return sigs, nil
}

type GetSignaturesOpts struct {
	Limit  int
	Before string // signature to start searching backwards from
	Until  string // signature to search until (exclusive)
}

// GetTransaction returns a parsed transaction by signature.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*TransactionResponse, error) {
	result, err := c.call(ctx, "getTransaction", buildGetTransactionParams(signature))
	if err != nil {
		return nil, fmt.Errorf("getTransaction(%s): %w", signature, err)
	}
	if len(bytes.TrimSpace(result)) == 0 || bytes.Equal(bytes.TrimSpace(result), []byte("null")) {
		return nil, fmt.Errorf("getTransaction(%s): %w", signature, ErrTransactionNotFound)
	}

	var tx TransactionResponse
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("unmarshal transaction %s: %w", signature, err)
	}
	return &tx, nil
}

func buildGetTransactionParams(signature string) []interface{} {
	return []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	}
}
