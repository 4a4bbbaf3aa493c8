package chain

import (
	"context"
	"time"
)

//go:generate mockgen -source=adapter.go -destination=mocks/mock_adapter.go -package=mocks

// ChainAdapter abstracts the RPC surface the scanner needs from a chain.
type ChainAdapter interface {
	// Chain returns the chain identifier (e.g., "solana").
	Chain() string

	// ListRecentSignatures returns up to limit signatures that touched
	// address, newest-first, at confirmed commitment.
	ListRecentSignatures(ctx context.Context, address string, limit int) ([]SignatureInfo, error)

	// GetTransaction returns the decoded transaction for signature.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
}

// SignatureInfo represents a transaction reference from the chain.
type SignatureInfo struct {
	Hash     string     // tx signature
	Sequence int64      // slot
	Time     *time.Time // block time if available
	Failed   bool       // the listing already reports an execution error
}

// AccountKey is one entry of a transaction's account list.
type AccountKey struct {
	Pubkey string
	Signer bool
}

// Transaction is the subset of a fetched transaction used for classification.
type Transaction struct {
	Signature   string
	Slot        int64
	BlockTime   *time.Time
	Err         any
	LogMessages []string
	AccountKeys []AccountKey
}

// Failed reports whether the transaction carries an execution error.
func (t *Transaction) Failed() bool {
	return t != nil && t.Err != nil
}

// FirstSigner returns the first account key flagged as signer.
func (t *Transaction) FirstSigner() (string, bool) {
	if t == nil {
		return "", false
	}
	for _, k := range t.AccountKeys {
		if k.Signer {
			return k.Pubkey, true
		}
	}
	return "", false
}
