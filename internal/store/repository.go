package store

import (
	"context"
	"errors"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/domain/model"
)

var (
	// ErrDuplicateActivity is returned when a transaction signature has
	// already been credited. Callers treat it as a successful no-op.
	ErrDuplicateActivity = errors.New("transaction already processed")

	// ErrUnknownActivityType is returned when the activity type is not in the catalog.
	ErrUnknownActivityType = errors.New("unknown activity type")
)

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

// UserRepository provides access to per-wallet point totals.
type UserRepository interface {
	GetOrCreate(ctx context.Context, wallet string) (*model.User, error)
	Leaderboard(ctx context.Context, limit int) ([]model.User, error)
}

// ActivityRepository records credited activities and reads the catalog.
type ActivityRepository interface {
	// Record credits in.ActivityType to in.WalletAddress atomically. It returns
	// ErrDuplicateActivity when in.Signature was already credited and
	// ErrUnknownActivityType when the type is not in the catalog.
	Record(ctx context.Context, in model.ActivityInput) (model.RecordResult, error)
	ListByWallet(ctx context.Context, wallet string, limit int) ([]model.Activity, error)
	ListTypes(ctx context.Context) ([]model.ActivityType, error)
}

// ScanCursorRepository provides access to the singleton scanner cursor.
type ScanCursorRepository interface {
	GetLastSignature(ctx context.Context) (*string, error)
	Advance(ctx context.Context, signature string) error
	Get(ctx context.Context) (*model.ScanCursor, error)
	Reset(ctx context.Context) error
}
