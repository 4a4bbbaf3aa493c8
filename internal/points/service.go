// Package points applies activities to the ledger and serves the read
// views built on top of it.
package points

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/domain/model"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/level"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/metrics"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/store"
)

//go:generate mockgen -source=service.go -destination=mocks/mock_recorder.go -package=mocks

const (
	minWalletLen = 32
	maxWalletLen = 44

	DefaultActivityLimit    = 50
	DefaultLeaderboardLimit = 100
	maxListLimit            = 500
)

// ErrInvalidWallet is returned for wallet addresses outside the accepted length.
var ErrInvalidWallet = errors.New("invalid wallet address")

// ErrEmptyWallet is returned when a ledger operation is given no wallet.
var ErrEmptyWallet = errors.New("wallet address is required")

// DuplicateMessage is reported in Result.Message for an already credited signature.
const DuplicateMessage = "Transaction already processed"

// Recorder credits one activity. The scanner and the manual API share it.
type Recorder interface {
	RecordActivity(ctx context.Context, in model.ActivityInput) (Result, error)
}

// Result is the caller-facing outcome of RecordActivity.
type Result struct {
	Success      bool   `json:"success"`
	PointsEarned int64  `json:"pointsEarned,omitempty"`
	NewTotal     int64  `json:"newTotal,omitempty"`
	Message      string `json:"message,omitempty"`
}

// UserLevel is a wallet's ledger row enriched with its tier standing.
type UserLevel struct {
	WalletAddress    string      `json:"walletAddress"`
	TotalPoints      int64       `json:"totalPoints"`
	CurrentLevel     string      `json:"currentLevel"`
	CurrentLevelData level.Tier  `json:"currentLevelData"`
	NextLevelData    *level.Tier `json:"nextLevelData"`
	ProgressToNext   float64     `json:"progressToNext"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// ActivityView is one history entry as served to clients.
type ActivityView struct {
	ID                   string          `json:"id"`
	ActivityType         string          `json:"activityType"`
	PointsEarned         int64           `json:"pointsEarned"`
	TransactionSignature *string         `json:"transactionSignature,omitempty"`
	Metadata             json.RawMessage `json:"metadata,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// LeaderboardEntry is one ranked wallet.
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	WalletAddress string `json:"walletAddress"`
	TotalPoints   int64  `json:"totalPoints"`
	CurrentLevel  string `json:"currentLevel"`
}

type Service struct {
	users      store.UserRepository
	activities store.ActivityRepository
	logger     *slog.Logger
}

var _ Recorder = (*Service)(nil)

func NewService(users store.UserRepository, activities store.ActivityRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:      users,
		activities: activities,
		logger:     logger.With("component", "points"),
	}
}

// ValidateWallet rejects addresses outside the base58 public key length range.
// Request handlers apply it; the ledger itself treats wallets as opaque.
func ValidateWallet(wallet string) error {
	if n := len(wallet); n < minWalletLen || n > maxWalletLen {
		return fmt.Errorf("%w: length %d", ErrInvalidWallet, n)
	}
	return nil
}

func requireWallet(wallet string) error {
	if wallet == "" {
		return ErrEmptyWallet
	}
	return nil
}

// RecordActivity credits in atomically. A duplicate signature yields
// Success=false together with store.ErrDuplicateActivity and is not logged.
func (s *Service) RecordActivity(ctx context.Context, in model.ActivityInput) (Result, error) {
	if err := requireWallet(in.WalletAddress); err != nil {
		return Result{Success: false, Message: err.Error()}, err
	}

	res, err := s.activities.Record(ctx, in)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateActivity):
		metrics.ActivitiesDuplicate.WithLabelValues(in.ActivityType.String()).Inc()
		return Result{Success: false, Message: DuplicateMessage}, err
	case errors.Is(err, store.ErrUnknownActivityType):
		s.logger.Warn("unknown activity type",
			"activity_type", in.ActivityType,
			"wallet", in.WalletAddress,
		)
		return Result{Success: false, Message: err.Error()}, err
	default:
		return Result{Success: false}, fmt.Errorf("record activity: %w", err)
	}

	metrics.ActivitiesRecorded.WithLabelValues(in.ActivityType.String()).Inc()
	metrics.PointsAwarded.WithLabelValues(in.ActivityType.String()).Add(float64(res.PointsEarned))
	s.logger.Info("activity recorded",
		"wallet", in.WalletAddress,
		"activity_type", in.ActivityType,
		"points", res.PointsEarned,
		"new_total", res.NewTotal,
		"level", res.Level,
	)
	return Result{Success: true, PointsEarned: res.PointsEarned, NewTotal: res.NewTotal}, nil
}

// GetOrCreateUser returns the wallet's standing, creating a zero-point row if needed.
func (s *Service) GetOrCreateUser(ctx context.Context, wallet string) (*UserLevel, error) {
	if err := requireWallet(wallet); err != nil {
		return nil, err
	}
	u, err := s.users.GetOrCreate(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", wallet, err)
	}
	standing := level.Describe(u.TotalPoints)
	return &UserLevel{
		WalletAddress:    u.WalletAddress,
		TotalPoints:      u.TotalPoints,
		CurrentLevel:     u.CurrentLevel,
		CurrentLevelData: standing.Current,
		NextLevelData:    standing.Next,
		ProgressToNext:   standing.Progress,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}, nil
}

// GetUserActivities returns the wallet's history, newest first.
func (s *Service) GetUserActivities(ctx context.Context, wallet string, limit int) ([]ActivityView, error) {
	if err := requireWallet(wallet); err != nil {
		return nil, err
	}
	rows, err := s.activities.ListByWallet(ctx, wallet, clampLimit(limit, DefaultActivityLimit))
	if err != nil {
		return nil, fmt.Errorf("list activities %s: %w", wallet, err)
	}
	out := make([]ActivityView, 0, len(rows))
	for _, a := range rows {
		out = append(out, ActivityView{
			ID:                   a.ID.String(),
			ActivityType:         a.ActivityType.String(),
			PointsEarned:         a.PointsEarned,
			TransactionSignature: a.TransactionSignature,
			Metadata:             a.Metadata,
			CreatedAt:            a.CreatedAt,
		})
	}
	return out, nil
}

// GetLeaderboard ranks wallets by total points.
func (s *Service) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.users.Leaderboard(ctx, clampLimit(limit, DefaultLeaderboardLimit))
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	out := make([]LeaderboardEntry, 0, len(rows))
	for i, u := range rows {
		out = append(out, LeaderboardEntry{
			Rank:          i + 1,
			WalletAddress: u.WalletAddress,
			TotalPoints:   u.TotalPoints,
			CurrentLevel:  u.CurrentLevel,
		})
	}
	return out, nil
}

// GetAllLevelTiers returns the tier table, lowest first.
func (s *Service) GetAllLevelTiers() []level.Tier {
	return level.Tiers()
}

// MissingActivityTypes reports which of kinds are absent from the catalog.
func (s *Service) MissingActivityTypes(ctx context.Context, kinds []model.ActivityTypeName) ([]model.ActivityTypeName, error) {
	types, err := s.activities.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list activity types: %w", err)
	}
	have := make(map[model.ActivityTypeName]struct{}, len(types))
	for _, t := range types {
		have[t.Name] = struct{}{}
	}
	var missing []model.ActivityTypeName
	for _, k := range kinds {
		if _, ok := have[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
