package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActivityTypeName identifies an entry of the activity catalog.
type ActivityTypeName string

const (
	ActivityTicketMinted      ActivityTypeName = "TICKET_MINTED"
	ActivityTicketPurchased   ActivityTypeName = "TICKET_PURCHASED"
	ActivityTicketScanned     ActivityTypeName = "TICKET_SCANNED"
	ActivityTicketCollectible ActivityTypeName = "TICKET_COLLECTIBLE"
	ActivityEventCreated      ActivityTypeName = "EVENT_CREATED"
)

// KnownActivityTypes lists the catalog entries seeded by the initial migration.
var KnownActivityTypes = []ActivityTypeName{
	ActivityTicketMinted,
	ActivityTicketPurchased,
	ActivityTicketScanned,
	ActivityTicketCollectible,
	ActivityEventCreated,
}

func (n ActivityTypeName) String() string { return string(n) }

// IsKnown reports whether n is one of the seeded catalog names.
func (n ActivityTypeName) IsKnown() bool {
	for _, known := range KnownActivityTypes {
		if n == known {
			return true
		}
	}
	return false
}

type ActivityType struct {
	ID          int              `db:"id"`
	Name        ActivityTypeName `db:"name"`
	Points      int64            `db:"points"`
	Description string           `db:"description"`
}

// Activity is an immutable ledger row. PointsEarned is copied from the
// catalog at write time and never re-derived.
type Activity struct {
	ID                   uuid.UUID        `db:"id"`
	WalletAddress        string           `db:"wallet_address"`
	ActivityType         ActivityTypeName `db:"activity_type"`
	PointsEarned         int64            `db:"points_earned"`
	TransactionSignature *string          `db:"transaction_signature"`
	Metadata             json.RawMessage  `db:"metadata"`
	CreatedAt            time.Time        `db:"created_at"`
}

// ActivityInput is one classified event to apply to the ledger.
// An empty Signature disables the idempotence check.
type ActivityInput struct {
	WalletAddress string
	ActivityType  ActivityTypeName
	Signature     string
	Metadata      json.RawMessage
}

// RecordResult is the outcome of a committed activity write.
type RecordResult struct {
	PointsEarned int64
	NewTotal     int64
	Level        string
}
