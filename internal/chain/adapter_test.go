package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransaction_Failed(t *testing.T) {
	var nilTx *Transaction
	assert.False(t, nilTx.Failed())
	assert.False(t, (&Transaction{}).Failed())
	assert.True(t, (&Transaction{Err: map[string]any{"InstructionError": []any{0, "Custom"}}}).Failed())
}

func TestTransaction_FirstSigner(t *testing.T) {
	tx := &Transaction{AccountKeys: []AccountKey{
		{Pubkey: "Prog111"},
		{Pubkey: "Payer111", Signer: true},
		{Pubkey: "Cosigner111", Signer: true},
	}}
	signer, ok := tx.FirstSigner()
	assert.True(t, ok)
	assert.Equal(t, "Payer111", signer)

	_, ok = (&Transaction{AccountKeys: []AccountKey{{Pubkey: "Prog111"}}}).FirstSigner()
	assert.False(t, ok)
}
