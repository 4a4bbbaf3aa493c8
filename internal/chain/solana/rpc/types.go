package rpc

import "encoding/json"

// JSON-RPC request/response types

type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// getSignaturesForAddress response
type SignatureInfo struct {
	Signature          string      `json:"signature"`
	Slot               int64       `json:"slot"`
	BlockTime          *int64      `json:"blockTime"`
	Err                interface{} `json:"err"`
	Memo               *string     `json:"memo"`
	ConfirmationStatus *string     `json:"confirmationStatus"`
}

// getTransaction response (jsonParsed)
type TransactionResponse struct {
	Slot        int64             `json:"slot"`
	BlockTime   *int64            `json:"blockTime"`
	Transaction ParsedTransaction `json:"transaction"`
	Meta        *TransactionMeta  `json:"meta"`
}

type ParsedTransaction struct {
	Signatures []string      `json:"signatures"`
	Message    ParsedMessage `json:"message"`
}

type ParsedMessage struct {
	AccountKeys []ParsedAccountKey `json:"accountKeys"`
}

// ParsedAccountKey is an account entry under jsonParsed encoding.
type ParsedAccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
	Source   string `json:"source,omitempty"`
}

type TransactionMeta struct {
	Err         interface{} `json:"err"`
	Fee         uint64      `json:"fee"`
	LogMessages []string    `json:"logMessages"`
}
