package postgres

import (
	"context"
	"fmt"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/domain/model"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/level"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/store"
)

var _ store.UserRepository = (*UserRepo)(nil)

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetOrCreate returns the wallet's row, inserting a zero-point row at the
// lowest tier when none exists. Concurrent callers converge on one row.
func (r *UserRepo) GetOrCreate(ctx context.Context, wallet string) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, insertUserSQL, wallet, level.Lowest().Label()); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	var u model.User
	err := r.db.QueryRowContext(ctx, `
		SELECT wallet_address, total_points, current_level, created_at, updated_at
		FROM users
		WHERE wallet_address = $1
	`, wallet).Scan(&u.WalletAddress, &u.TotalPoints, &u.CurrentLevel, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// Leaderboard returns users ordered by total_points descending, ties broken
// by wallet address so the order is stable.
func (r *UserRepo) Leaderboard(ctx context.Context, limit int) ([]model.User, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT wallet_address, total_points, current_level, created_at, updated_at
		FROM users
		ORDER BY total_points DESC, wallet_address ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.WalletAddress, &u.TotalPoints, &u.CurrentLevel, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return out, nil
}

const insertUserSQL = `
	INSERT INTO users (wallet_address, total_points, current_level)
	VALUES ($1, 0, $2)
	ON CONFLICT (wallet_address) DO NOTHING
`
