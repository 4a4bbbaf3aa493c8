package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/domain/model"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/store"
)

// CursorRepo persists the singleton scanner_state row.
var _ store.ScanCursorRepository = (*CursorRepo)(nil)

type CursorRepo struct {
	db *DB
}

func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// GetLastSignature returns nil when no scan has advanced the cursor yet.
func (r *CursorRepo) GetLastSignature(ctx context.Context) (*string, error) {
	c, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}
	return c.LastScannedSignature, nil
}

func (r *CursorRepo) Get(ctx context.Context) (*model.ScanCursor, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var c model.ScanCursor
	err := r.db.QueryRowContext(ctx, `
		SELECT last_scanned_signature, last_scan_time, scan_count
		FROM scanner_state
		WHERE id = 1
	`).Scan(&c.LastScannedSignature, &c.LastScanTime, &c.ScanCount)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.ScanCursor{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scan cursor: %w", err)
	}
	return &c, nil
}

// Advance stores signature as the newest fully handled transaction.
func (r *CursorRepo) Advance(ctx context.Context, signature string) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scanner_state (id, last_scanned_signature, last_scan_time, scan_count)
		VALUES (1, $1, now(), 1)
		ON CONFLICT (id) DO UPDATE SET
			last_scanned_signature = EXCLUDED.last_scanned_signature,
			last_scan_time = now(),
			scan_count = scanner_state.scan_count + 1
	`, signature)
	if err != nil {
		return fmt.Errorf("advance scan cursor: %w", err)
	}
	return nil
}

// Reset clears the cursor so the next cycle rescans the newest window.
// Already-credited signatures stay deduplicated by the activities index.
func (r *CursorRepo) Reset(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scanner_state (id, last_scanned_signature, last_scan_time, scan_count)
		VALUES (1, NULL, NULL, 0)
		ON CONFLICT (id) DO UPDATE SET
			last_scanned_signature = NULL,
			last_scan_time = NULL,
			scan_count = 0
	`)
	if err != nil {
		return fmt.Errorf("reset scan cursor: %w", err)
	}
	return nil
}
