package classifier

import (
	"encoding/json"
	"testing"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/chain"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func txWithLogs(logs ...string) *chain.Transaction {
	return &chain.Transaction{
		Signature:   "sig",
		LogMessages: logs,
		AccountKeys: []chain.AccountKey{
			{Pubkey: "Prog111"},
			{Pubkey: "Actor111", Signer: true},
			{Pubkey: "Other111", Signer: true},
		},
	}
}

func TestLogMarkerClassifier_Kinds(t *testing.T) {
	tests := []struct {
		name     string
		log      string
		expected model.ActivityTypeName
	}{
		{"mint", "Program log: Instruction: MintTicket", model.ActivityTicketMinted},
		{"buy", "Program log: Instruction: BuyTicket", model.ActivityTicketPurchased},
		{"scan", "Program log: Instruction: UpdateTicket scanned", model.ActivityTicketScanned},
		{"upgrade", "Program log: Instruction: UpgradeToCollectible", model.ActivityTicketCollectible},
		{"create event", "Program log: Instruction: CreateEvent", model.ActivityEventCreated},
	}

	c := NewLogMarkerClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(txWithLogs("Program Prog111 invoke [1]", tt.log, "Program Prog111 success"))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Kind)
			assert.Equal(t, "Actor111", got.Actor, "actor is the first signer")
		})
	}
}

func TestLogMarkerClassifier_UpdateWithoutScannedIsIgnored(t *testing.T) {
	c := NewLogMarkerClassifier()
	_, err := c.Classify(txWithLogs("Program log: Instruction: UpdateTicket"))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestLogMarkerClassifier_ScannedMustShareLine(t *testing.T) {
	c := NewLogMarkerClassifier()
	_, err := c.Classify(txWithLogs("Program log: Instruction: UpdateTicket", "Program log: ticket scanned"))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestLogMarkerClassifier_FirstMatchingLineWins(t *testing.T) {
	c := NewLogMarkerClassifier()
	got, err := c.Classify(txWithLogs(
		"Program log: Instruction: CreateEvent",
		"Program log: Instruction: MintTicket",
	))
	require.NoError(t, err)
	assert.Equal(t, model.ActivityEventCreated, got.Kind)
}

func TestLogMarkerClassifier_FailedTransaction(t *testing.T) {
	c := NewLogMarkerClassifier()
	tx := txWithLogs("Program log: Instruction: MintTicket")
	tx.Err = map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 6000}}}

	_, err := c.Classify(tx)
	assert.ErrorIs(t, err, ErrFailedTransaction)

	_, err = c.Classify(nil)
	assert.ErrorIs(t, err, ErrFailedTransaction)
}

func TestLogMarkerClassifier_NoSigner(t *testing.T) {
	c := NewLogMarkerClassifier()
	tx := &chain.Transaction{
		LogMessages: []string{"Program log: Instruction: BuyTicket"},
		AccountKeys: []chain.AccountKey{{Pubkey: "Prog111"}},
	}
	_, err := c.Classify(tx)
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestLogMarkerClassifier_NoLogs(t *testing.T) {
	c := NewLogMarkerClassifier()
	_, err := c.Classify(txWithLogs())
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestLogMarkerClassifier_CustomRules(t *testing.T) {
	c := NewLogMarkerClassifier(Rule{Kind: model.ActivityTicketPurchased, Markers: []string{"Instruction: ResellTicket"}})

	got, err := c.Classify(txWithLogs("Program log: Instruction: ResellTicket"))
	require.NoError(t, err)
	assert.Equal(t, model.ActivityTicketPurchased, got.Kind)

	_, err = c.Classify(txWithLogs("Program log: Instruction: MintTicket"))
	assert.ErrorIs(t, err, ErrNoMatch, "custom rules replace the defaults")
	assert.Equal(t, []model.ActivityTypeName{model.ActivityTicketPurchased}, c.Kinds())
}

func TestRule_EmptyMarkersNeverMatch(t *testing.T) {
	assert.False(t, Rule{Kind: model.ActivityTicketMinted}.matches("anything"))
}

func TestClassification_Metadata(t *testing.T) {
	raw := Classification{Kind: model.ActivityTicketMinted, Actor: "A"}.Metadata()
	var m map[string]string
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "ticket_minted", m["event"])
	assert.Equal(t, "blockchain_scan", m["source"])
}

func TestDefaultRules_CoverCatalog(t *testing.T) {
	kinds := NewLogMarkerClassifier().Kinds()
	assert.ElementsMatch(t, model.KnownActivityTypes, kinds)
}
