package solana

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/chain/solana/rpc"
	rpcmocks "github.com/DianaV2002/nft-evo-tickets-sub000/internal/chain/solana/rpc/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestAdapter(ctrl *gomock.Controller) (*Adapter, *rpcmocks.MockRPCClient) {
	mockClient := rpcmocks.NewMockRPCClient(ctrl)
	adapter := &Adapter{
		client: mockClient,
		logger: slog.Default(),
	}
	return adapter, mockClient
}

func TestAdapter_RPCClientContractParity(t *testing.T) {
	t.Parallel()

	var _ rpc.RPCClient = (*rpc.Client)(nil)
	var _ rpc.RPCClient = (*rpcmocks.MockRPCClient)(nil)
	var _ rpc.Waiter = (*rpcmocks.MockWaiter)(nil)
}

func TestAdapter_Chain(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, _ := newTestAdapter(ctrl)
	assert.Equal(t, "solana", adapter.Chain())
}

func TestAdapter_ListRecentSignatures_PreservesNewestFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	bt := int64(1700000000)
	mockClient.EXPECT().
		GetSignaturesForAddress(gomock.Any(), "Prog111", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, opts *rpc.GetSignaturesOpts) ([]rpc.SignatureInfo, error) {
			assert.Equal(t, 20, opts.Limit)
			assert.Empty(t, opts.Until)
			assert.Empty(t, opts.Before)
			return []rpc.SignatureInfo{
				{Signature: "sig3", Slot: 300, BlockTime: &bt},
				{Signature: "sig2", Slot: 200, Err: map[string]any{"InstructionError": []any{0, "Custom"}}},
				{Signature: "sig1", Slot: 100},
			}, nil
		})

	sigs, err := adapter.ListRecentSignatures(context.Background(), "Prog111", 20)
	require.NoError(t, err)
	require.Len(t, sigs, 3)

	assert.Equal(t, "sig3", sigs[0].Hash)
	require.NotNil(t, sigs[0].Time)
	assert.Equal(t, bt, sigs[0].Time.Unix())
	assert.True(t, sigs[1].Failed)
	assert.Equal(t, "sig1", sigs[2].Hash)
	assert.Nil(t, sigs[2].Time)
}

func TestAdapter_ListRecentSignatures_ClampsLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	mockClient.EXPECT().
		GetSignaturesForAddress(gomock.Any(), "Prog111", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, opts *rpc.GetSignaturesOpts) ([]rpc.SignatureInfo, error) {
			assert.Equal(t, maxPageSize, opts.Limit)
			return nil, nil
		})

	sigs, err := adapter.ListRecentSignatures(context.Background(), "Prog111", 5000)
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestAdapter_ListRecentSignatures_InvalidLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, _ := newTestAdapter(ctrl)

	_, err := adapter.ListRecentSignatures(context.Background(), "Prog111", 0)
	require.Error(t, err)
}

func TestAdapter_ListRecentSignatures_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	rateLimited := &rpc.HTTPStatusError{StatusCode: 429, Body: "Too Many Requests"}
	mockClient.EXPECT().
		GetSignaturesForAddress(gomock.Any(), "Prog111", gomock.Any()).
		Return(nil, rateLimited)

	_, err := adapter.ListRecentSignatures(context.Background(), "Prog111", 20)
	require.Error(t, err)
	assert.True(t, rpc.IsRateLimited(err))
}

func TestAdapter_GetTransaction_Decodes(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	resp := &rpc.TransactionResponse{Slot: 42}
	resp.Transaction.Message.AccountKeys = []rpc.ParsedAccountKey{
		{Pubkey: "Payer111", Signer: true, Writable: true},
		{Pubkey: "Prog111"},
	}
	resp.Meta = &rpc.TransactionMeta{LogMessages: []string{"Program log: Instruction: BuyTicket"}}

	mockClient.EXPECT().GetTransaction(gomock.Any(), "sigA").Return(resp, nil)

	tx, err := adapter.GetTransaction(context.Background(), "sigA")
	require.NoError(t, err)
	assert.Equal(t, "sigA", tx.Signature)
	assert.Equal(t, int64(42), tx.Slot)
	assert.False(t, tx.Failed())
	assert.Equal(t, []string{"Program log: Instruction: BuyTicket"}, tx.LogMessages)
	signer, ok := tx.FirstSigner()
	require.True(t, ok)
	assert.Equal(t, "Payer111", signer)
}

func TestAdapter_GetTransaction_NilMeta(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	mockClient.EXPECT().GetTransaction(gomock.Any(), "sigB").Return(&rpc.TransactionResponse{}, nil)

	tx, err := adapter.GetTransaction(context.Background(), "sigB")
	require.NoError(t, err)
	assert.Empty(t, tx.LogMessages)
	assert.Empty(t, tx.AccountKeys)
}

func TestAdapter_GetTransaction_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter, mockClient := newTestAdapter(ctrl)

	mockClient.EXPECT().GetTransaction(gomock.Any(), "sigC").
		Return(nil, rpc.ErrTransactionNotFound)

	_, err := adapter.GetTransaction(context.Background(), "sigC")
	require.True(t, errors.Is(err, rpc.ErrTransactionNotFound))
}
