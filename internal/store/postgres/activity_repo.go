package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/domain/model"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/level"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/store"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

var _ store.ActivityRepository = (*ActivityRepo)(nil)

type ActivityRepo struct {
	db *DB
}

func NewActivityRepo(db *DB) *ActivityRepo {
	return &ActivityRepo{db: db}
}

// Record credits one activity inside its own transaction. Either the
// activity row and the user's new total are both committed or neither is.
func (r *ActivityRepo) Record(ctx context.Context, in model.ActivityInput) (model.RecordResult, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.RecordResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := r.RecordTx(ctx, tx, in)
	if err != nil {
		return model.RecordResult{}, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return model.RecordResult{}, store.ErrDuplicateActivity
		}
		return model.RecordResult{}, fmt.Errorf("commit activity: %w", err)
	}
	return res, nil
}

// RecordTx applies the activity within tx. The caller owns commit/rollback.
func (r *ActivityRepo) RecordTx(ctx context.Context, tx *sql.Tx, in model.ActivityInput) (model.RecordResult, error) {
	var points int64
	err := tx.QueryRowContext(ctx,
		`SELECT points FROM activity_types WHERE name = $1`, in.ActivityType,
	).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RecordResult{}, fmt.Errorf("%w: %s", store.ErrUnknownActivityType, in.ActivityType)
	}
	if err != nil {
		return model.RecordResult{}, fmt.Errorf("lookup activity type: %w", err)
	}

	var signature *string
	if in.Signature != "" {
		signature = &in.Signature

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM activities WHERE transaction_signature = $1)`, in.Signature,
		).Scan(&exists); err != nil {
			return model.RecordResult{}, fmt.Errorf("check signature: %w", err)
		}
		if exists {
			return model.RecordResult{}, store.ErrDuplicateActivity
		}
	}

	if _, err := tx.ExecContext(ctx, insertUserSQL, in.WalletAddress, level.Lowest().Label()); err != nil {
		return model.RecordResult{}, fmt.Errorf("ensure user: %w", err)
	}

	// lib/pq sends []byte as bytea, so JSONB metadata goes over as text.
	var metadata *string
	if len(in.Metadata) > 0 {
		m := string(in.Metadata)
		metadata = &m
	}

	// The partial unique index closes the race between the existence check
	// and this insert when two writers carry the same signature.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO activities (id, wallet_address, activity_type, points_earned, transaction_signature, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, uuid.New(), in.WalletAddress, in.ActivityType, points, signature, metadata); err != nil {
		if isUniqueViolation(err) {
			return model.RecordResult{}, store.ErrDuplicateActivity
		}
		return model.RecordResult{}, fmt.Errorf("insert activity: %w", err)
	}

	var total int64
	if err := tx.QueryRowContext(ctx, `
		UPDATE users
		SET total_points = total_points + $2, updated_at = now()
		WHERE wallet_address = $1
		RETURNING total_points
	`, in.WalletAddress, points).Scan(&total); err != nil {
		return model.RecordResult{}, fmt.Errorf("update user total: %w", err)
	}

	label := level.ResolveTier(total).Label()
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET current_level = $2 WHERE wallet_address = $1`, in.WalletAddress, label,
	); err != nil {
		return model.RecordResult{}, fmt.Errorf("update user level: %w", err)
	}

	return model.RecordResult{PointsEarned: points, NewTotal: total, Level: label}, nil
}

// ListByWallet returns the wallet's activities, newest first.
func (r *ActivityRepo) ListByWallet(ctx context.Context, wallet string, limit int) ([]model.Activity, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, wallet_address, activity_type, points_earned,
		       transaction_signature, metadata, created_at
		FROM activities
		WHERE wallet_address = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		var (
			a        model.Activity
			metadata []byte
		)
		if err := rows.Scan(&a.ID, &a.WalletAddress, &a.ActivityType, &a.PointsEarned,
			&a.TransactionSignature, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if len(metadata) > 0 {
			a.Metadata = metadata
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return out, nil
}

// ListTypes returns the activity catalog ordered by id.
func (r *ActivityRepo) ListTypes(ctx context.Context) ([]model.ActivityType, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT id, name, points, description FROM activity_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query activity types: %w", err)
	}
	defer rows.Close()

	var out []model.ActivityType
	for rows.Next() {
		var t model.ActivityType
		if err := rows.Scan(&t.ID, &t.Name, &t.Points, &t.Description); err != nil {
			return nil, fmt.Errorf("scan activity type: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity types: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
