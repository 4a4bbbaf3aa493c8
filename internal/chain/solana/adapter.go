package solana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/chain"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/chain/ratelimit"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/chain/solana/rpc"
)

// maxPageSize is the node-side cap for getSignaturesForAddress.
const maxPageSize = 1000

type Adapter struct {
	client rpc.RPCClient
	logger *slog.Logger
}

var _ chain.ChainAdapter = (*Adapter)(nil)

func NewAdapter(rpcURL string, logger *slog.Logger, opts ...rpc.Option) *Adapter {
	return &Adapter{
		client: rpc.NewClient(rpcURL, logger, opts...),
		logger: logger.With("chain", "solana"),
	}
}

func (a *Adapter) Chain() string {
	return "solana"
}

// ListRecentSignatures returns the newest signatures for address, newest-first,
// exactly as the node orders them.
func (a *Adapter) ListRecentSignatures(ctx context.Context, address string, limit int) ([]chain.SignatureInfo, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("signature limit must be positive, got %d", limit)
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	sigs, err := a.client.GetSignaturesForAddress(ctx, address, &rpc.GetSignaturesOpts{Limit: limit})
	ratelimit.RecordRPCCall(a.Chain(), "getSignaturesForAddress", err)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}

	result := make([]chain.SignatureInfo, len(sigs))
	for i, sig := range sigs {
		result[i] = chain.SignatureInfo{
			Hash:     sig.Signature,
			Sequence: sig.Slot,
			Time:     unixTime(sig.BlockTime),
			Failed:   sig.Err != nil,
		}
	}

	a.logger.Debug("listed signatures", "address", address, "count", len(result))
	return result, nil
}

// GetTransaction fetches and decodes one transaction. A node that does not
// know the signature yields rpc.ErrTransactionNotFound.
func (a *Adapter) GetTransaction(ctx context.Context, signature string) (*chain.Transaction, error) {
	resp, err := a.client.GetTransaction(ctx, signature)
	ratelimit.RecordRPCCall(a.Chain(), "getTransaction", err)
	if err != nil {
		return nil, err
	}

	tx := &chain.Transaction{
		Signature: signature,
		Slot:      resp.Slot,
		BlockTime: unixTime(resp.BlockTime),
	}
	if resp.Meta != nil {
		tx.Err = resp.Meta.Err
		tx.LogMessages = resp.Meta.LogMessages
	}
	keys := resp.Transaction.Message.AccountKeys
	tx.AccountKeys = make([]chain.AccountKey, len(keys))
	for i, k := range keys {
		tx.AccountKeys[i] = chain.AccountKey{Pubkey: k.Pubkey, Signer: k.Signer}
	}
	return tx, nil
}

func unixTime(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := time.Unix(*sec, 0)
	return &t
}
