// Package classifier maps fetched transactions to activity kinds.
//
// Matching is heuristic: it looks for instruction markers in program log
// text, not at decoded instruction data. A program whose log wording changes
// silently stops being classified.
package classifier

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/chain"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/domain/model"
)

var (
	// ErrFailedTransaction marks a transaction that errored on-chain.
	ErrFailedTransaction = errors.New("transaction failed on-chain")
	// ErrNoMatch marks a transaction with no known instruction marker.
	ErrNoMatch = errors.New("no known instruction marker")
	// ErrNoSigner marks a matched transaction whose actor cannot be resolved.
	ErrNoSigner = errors.New("no signer account")
)

// Classification is one business event attributed to a wallet.
type Classification struct {
	Kind  model.ActivityTypeName
	Actor string
}

// Metadata is the payload stored with the recorded activity.
func (c Classification) Metadata() json.RawMessage {
	b, _ := json.Marshal(map[string]string{
		"event":  strings.ToLower(string(c.Kind)),
		"source": "blockchain_scan",
	})
	return b
}

// Classifier turns a transaction into at most one Classification. The
// returned error is one of the sentinels above and means "skip", not "fail".
type Classifier interface {
	Classify(tx *chain.Transaction) (Classification, error)
}

// Rule matches a single log line to an activity kind. All markers must be
// present on the same line.
type Rule struct {
	Kind    model.ActivityTypeName
	Markers []string
}

func (r Rule) matches(line string) bool {
	if len(r.Markers) == 0 {
		return false
	}
	for _, m := range r.Markers {
		if !strings.Contains(line, m) {
			return false
		}
	}
	return true
}

// DefaultRules are checked in order against each log line.
var DefaultRules = []Rule{
	{Kind: model.ActivityTicketMinted, Markers: []string{"Instruction: MintTicket"}},
	{Kind: model.ActivityTicketPurchased, Markers: []string{"Instruction: BuyTicket"}},
	{Kind: model.ActivityTicketScanned, Markers: []string{"Instruction: UpdateTicket", "scanned"}},
	{Kind: model.ActivityTicketCollectible, Markers: []string{"Instruction: UpgradeToCollectible"}},
	{Kind: model.ActivityEventCreated, Markers: []string{"Instruction: CreateEvent"}},
}

// LogMarkerClassifier classifies by substring rules over log messages.
type LogMarkerClassifier struct {
	rules []Rule
}

var _ Classifier = (*LogMarkerClassifier)(nil)

// NewLogMarkerClassifier uses DefaultRules when rules is empty.
func NewLogMarkerClassifier(rules ...Rule) *LogMarkerClassifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &LogMarkerClassifier{rules: cp}
}

// Kinds lists the activity kinds this classifier can emit.
func (c *LogMarkerClassifier) Kinds() []model.ActivityTypeName {
	seen := make(map[model.ActivityTypeName]struct{}, len(c.rules))
	out := make([]model.ActivityTypeName, 0, len(c.rules))
	for _, r := range c.rules {
		if _, ok := seen[r.Kind]; ok {
			continue
		}
		seen[r.Kind] = struct{}{}
		out = append(out, r.Kind)
	}
	return out
}

// Classify returns the first rule hit, scanning log lines in order.
func (c *LogMarkerClassifier) Classify(tx *chain.Transaction) (Classification, error) {
	if tx == nil || tx.Failed() {
		return Classification{}, ErrFailedTransaction
	}

	kind, ok := c.match(tx.LogMessages)
	if !ok {
		return Classification{}, ErrNoMatch
	}

	actor, ok := tx.FirstSigner()
	if !ok || actor == "" {
		return Classification{}, ErrNoSigner
	}
	return Classification{Kind: kind, Actor: actor}, nil
}

func (c *LogMarkerClassifier) match(logs []string) (model.ActivityTypeName, bool) {
	for _, line := range logs {
		for _, r := range c.rules {
			if r.matches(line) {
				return r.Kind, true
			}
		}
	}
	return "", false
}
